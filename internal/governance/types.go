// Package governance enforces foundational veredicts: authored, versioned
// rules evaluated by structural pattern matching at fixed checkpoints of a
// conversation turn. Evaluation never consults the model.
package governance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/search"
)

// Phase is a checkpoint in the per-turn pipeline.
type Phase string

const (
	PhasePreState     Phase = "pre_state"
	PhasePrePrompt    Phase = "pre_prompt"
	PhasePreContext   Phase = "pre_context"
	PhasePostResponse Phase = "post_response"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePreState, PhasePrePrompt, PhasePreContext, PhasePostResponse:
		return true
	}
	return false
}

// Stable rule codes.
const (
	CodeReactiveBehavior           = "REACTIVE_BEHAVIOR"
	CodeClosureRecognition         = "CLOSURE_RECOGNITION"
	CodeClosureRecognitionResponse = "CLOSURE_RECOGNITION_RESPONSE"
	CodeExternalSearchConscious    = "EXTERNAL_SEARCH_CONSCIOUS"
	CodeExternalSearchPrompt       = "EXTERNAL_SEARCH_CONSCIOUS_PROMPT"
	CodeMemorySharing              = "MEMORY_SHARING"
	CodeExplicitContextEvolution   = "EXPLICIT_CONTEXT_EVOLUTION"
	CodeVeredictMeta               = "VEREDICT_META"
)

// FoundationalVeredict is an authored governance rule.
type FoundationalVeredict struct {
	Code             string `json:"code" yaml:"code"`
	Title            string `json:"title" yaml:"title"`
	RuleText         string `json:"rule_text" yaml:"rule_text"`
	EnforcementScope Phase  `json:"enforcement_scope" yaml:"enforcement_scope"`
	Priority         int    `json:"priority" yaml:"priority"`
	IsActive         bool   `json:"is_active" yaml:"is_active"`
	Version          int    `json:"version" yaml:"-"`
}

// Input is everything a checkpoint may inspect. It is rebuilt for every call.
type Input struct {
	ConversationID  string                   `json:"conversation_id"`
	LastUserMessage string                   `json:"last_user_message"`
	History         []domain.Message         `json:"history"`
	State           domain.ConversationState `json:"state"`
	Prompt          string                   `json:"prompt"`
	SearchContext   *search.Context          `json:"search_context,omitempty"`
	ProductContext  string                   `json:"product_context,omitempty"`
	Response        string                   `json:"response,omitempty"`
}

func (in Input) clone() Input {
	out := in
	if in.History != nil {
		out.History = make([]domain.Message, len(in.History))
		copy(out.History, in.History)
	}
	return out
}

// Violation records a rule match.
type Violation struct {
	VeredictCode string            `json:"veredict_code"`
	Phase        Phase             `json:"phase"`
	WasBlocked   bool              `json:"was_blocked"`
	Reason       string            `json:"reason"`
	Details      map[string]string `json:"details,omitempty"`
}

// Result is the outcome of a checkpoint.
type Result struct {
	Allowed               bool        `json:"allowed"`
	Violations            []Violation `json:"violations"`
	Modified              *Input      `json:"modified_input,omitempty"`
	InjectedPromptSection string      `json:"injected_prompt_section,omitempty"`
}

// Err returns a *BlockedError when the result is not allowed, otherwise nil.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	var blocked []Violation
	for _, v := range r.Violations {
		if v.WasBlocked {
			blocked = append(blocked, v)
		}
	}
	return &BlockedError{Violations: blocked}
}

// BlockedError reports that blocking violations were remediated. Callers are
// expected to continue with Result.Modified.
type BlockedError struct {
	Violations []Violation
}

func (e *BlockedError) Error() string {
	codes := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		codes = append(codes, v.VeredictCode)
	}
	return fmt.Sprintf("governance blocked: %s", strings.Join(codes, ", "))
}

// AuditRecord is one append-only audit row.
type AuditRecord struct {
	RuleCode       string            `json:"rule_code"`
	Phase          Phase             `json:"phase"`
	ConversationID string            `json:"conversation_id"`
	Reason         string            `json:"reason"`
	Details        map[string]string `json:"details,omitempty"`
	WasBlocked     bool              `json:"was_blocked"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RuleStore returns active foundational veredicts. Implemented by storage.Store.
type RuleStore interface {
	ActiveVeredicts(ctx context.Context) ([]FoundationalVeredict, error)
}

// AuditLog persists violations. Implemented by storage.Store.
type AuditLog interface {
	RecordViolation(ctx context.Context, rec AuditRecord) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
