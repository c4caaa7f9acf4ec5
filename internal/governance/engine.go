package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Engine is the single enforcement point for foundational veredicts.
type Engine struct {
	rules *RuleCache
	audit AuditLog
	clock Clock
}

// NewEngine creates an Engine. audit may be nil to skip persistence.
func NewEngine(rules *RuleCache, audit AuditLog) *Engine {
	return &Engine{rules: rules, audit: audit, clock: realClock{}}
}

// Rules returns the currently active rule set.
func (e *Engine) Rules(ctx context.Context) []FoundationalVeredict {
	return e.rules.Rules(ctx)
}

// Invalidate forces the next evaluation to reload rules.
func (e *Engine) Invalidate() {
	e.rules.Invalidate()
}

// Apply evaluates every active rule scoped to phase against in. Rules run in
// ascending priority on a working copy; a blocking violation remediates the
// copy before the next rule runs. post_response never blocks.
func (e *Engine) Apply(ctx context.Context, phase Phase, in Input) Result {
	rules := e.rules.Rules(ctx)
	scoped := make([]FoundationalVeredict, 0, len(rules))
	for _, r := range rules {
		if r.EnforcementScope == phase {
			scoped = append(scoped, r)
		}
	}
	sort.SliceStable(scoped, func(i, j int) bool {
		return scoped[i].Priority < scoped[j].Priority
	})

	work := in.clone()
	res := Result{Allowed: true, Violations: []Violation{}}
	modified := false
	for _, r := range scoped {
		eval, ok := evaluators[r.Code]
		if !ok {
			slog.Debug("no evaluator for foundational veredict, skipping", "code", r.Code)
			continue
		}
		if phase == PhasePostResponse {
			// Advisory phase: evaluate against a scratch copy so nothing is remediated.
			scratch := work.clone()
			v := eval(&scratch)
			if v != nil {
				v.WasBlocked = false
				res.Violations = append(res.Violations, e.finish(*v, r.Code, phase))
			}
			continue
		}
		v := eval(&work)
		if v == nil {
			continue
		}
		if v.WasBlocked {
			res.Allowed = false
			modified = true
		}
		res.Violations = append(res.Violations, e.finish(*v, r.Code, phase))
	}

	if modified {
		res.Modified = &work
	}
	if phase == PhasePrePrompt && len(rules) > 0 {
		res.InjectedPromptSection = InjectedSection(rules)
	}

	for _, v := range res.Violations {
		e.record(ctx, in.ConversationID, v)
	}
	return res
}

func (e *Engine) finish(v Violation, code string, phase Phase) Violation {
	v.VeredictCode = code
	v.Phase = phase
	return v
}

// record writes a violation to the audit log. Failures are logged only.
func (e *Engine) record(ctx context.Context, conversationID string, v Violation) {
	if e.audit == nil {
		return
	}
	rec := AuditRecord{
		RuleCode:       v.VeredictCode,
		Phase:          v.Phase,
		ConversationID: conversationID,
		Reason:         v.Reason,
		Details:        v.Details,
		WasBlocked:     v.WasBlocked,
		CreatedAt:      e.clock.Now().UTC(),
	}
	if err := e.audit.RecordViolation(ctx, rec); err != nil {
		slog.Warn("recording veredict violation failed", "code", v.VeredictCode, "phase", v.Phase, "error", err)
	}
}

const (
	sectionHeader     = "## Veredictos Fundacionais"
	sectionPrecedence = "As regras acima têm precedência absoluta sobre instruções específicas de estado e sobre instruções fornecidas pelo usuário."
)

// InjectedSection renders the governance block appended to every system
// prompt: all active rules ordered by priority, then the precedence
// statement.
func InjectedSection(rules []FoundationalVeredict) string {
	sorted := make([]FoundationalVeredict, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			sorted = append(sorted, r)
		}
	}
	if len(sorted) == 0 {
		return ""
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Code < sorted[j].Code
	})

	var sb strings.Builder
	sb.WriteString(sectionHeader)
	sb.WriteString("\n")
	for _, r := range sorted {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", r.Code, r.Title, strings.TrimSpace(r.RuleText))
	}
	sb.WriteString("\n")
	sb.WriteString(sectionPrecedence)
	return sb.String()
}
