// Package state infers the thematic tendency of a conversation from its
// history. Inference is lexical and never touches lifecycle status.
package state

import (
	"unicode/utf8"

	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/signals"
)

const (
	recentWindow        = 6
	earlyUserMessages   = 3
	matureUserMessages  = 5
	shortMessageRunes   = 20
	minPauseWindowCount = 4
)

// Tendency is a non-committed classification of the conversation.
type Tendency struct {
	Primary    domain.ConversationState  `json:"primary"`
	Confidence float64                   `json:"confidence"`
	Secondary  *domain.ConversationState `json:"secondary,omitempty"`
}

func tendency(primary domain.ConversationState, confidence float64, secondary domain.ConversationState) Tendency {
	return Tendency{Primary: primary, Confidence: confidence, Secondary: &secondary}
}

// Infer classifies the conversation. Rules are evaluated in order and the
// first match wins. previousVeredicts is accepted for callers that track
// decision history but does not alter the outcome.
//
// Reopening is never returned: it is driven by lifecycle status alone.
func Infer(messages []domain.Message, previousVeredicts []domain.Veredict) Tendency {
	userCount := 0
	for _, m := range messages {
		if m.Role == domain.RoleUser {
			userCount++
		}
	}

	if userCount == 0 {
		return Tendency{Primary: domain.StateExploration, Confidence: 1.0}
	}
	if userCount <= earlyUserMessages {
		return tendency(domain.StateExploration, 0.8, domain.StateClarification)
	}

	window := messages
	if len(window) > recentWindow {
		window = window[len(window)-recentWindow:]
	}
	var convergence, clarification bool
	for _, m := range window {
		if m.Role != domain.RoleUser {
			continue
		}
		text := domain.Normalize(m.Content)
		if signals.HasConvergenceCue(text) {
			convergence = true
		}
		if signals.HasClarificationCue(text) {
			clarification = true
		}
	}

	if convergence && userCount >= matureUserMessages {
		return tendency(domain.StateConvergence, 0.7, domain.StateClarification)
	}
	if clarification && userCount >= earlyUserMessages {
		return tendency(domain.StateClarification, 0.65, domain.StateExploration)
	}

	last := domain.Normalize(domain.LastUserMessage(messages))
	if utf8.RuneCountInString(last) < shortMessageRunes && len(window) >= minPauseWindowCount {
		return tendency(domain.StatePause, 0.6, domain.StateExploration)
	}
	if userCount >= matureUserMessages {
		return tendency(domain.StateClarification, 0.55, domain.StateConvergence)
	}
	return tendency(domain.StateExploration, 0.7, domain.StateClarification)
}
