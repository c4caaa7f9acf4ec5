package state

import (
	"testing"

	"github.com/kalambet/pachai/internal/domain"
)

const neutral = "o onboarding atual tem muitas etapas"

func users(contents ...string) []domain.Message {
	var out []domain.Message
	for _, c := range contents {
		out = append(out,
			domain.Message{Role: domain.RoleUser, Content: c},
		)
	}
	return out
}

func interleave(contents ...string) []domain.Message {
	var out []domain.Message
	for _, c := range contents {
		out = append(out,
			domain.Message{Role: domain.RoleUser, Content: c},
			domain.Message{Role: domain.RoleAgent, Content: "Estou ouvindo."},
		)
	}
	return out
}

func TestInfer_Empty(t *testing.T) {
	got := Infer(nil, nil)
	if got.Primary != domain.StateExploration || got.Confidence != 1.0 {
		t.Errorf("Infer(nil) = %+v, want exploration 1.0", got)
	}
	if got.Secondary != nil {
		t.Errorf("Secondary = %v, want nil", *got.Secondary)
	}
}

func TestInfer_OnlyAgentMessages(t *testing.T) {
	got := Infer([]domain.Message{{Role: domain.RoleAgent, Content: "Olá"}}, nil)
	if got.Primary != domain.StateExploration || got.Confidence != 1.0 {
		t.Errorf("got %+v, want exploration 1.0", got)
	}
}

func TestInfer_Rules(t *testing.T) {
	tests := []struct {
		name      string
		messages  []domain.Message
		primary   domain.ConversationState
		conf      float64
		secondary domain.ConversationState
	}{
		{
			name:      "two user messages",
			messages:  users("primeira ideia", "segunda ideia"),
			primary:   domain.StateExploration,
			conf:      0.8,
			secondary: domain.StateClarification,
		},
		{
			name:      "three user messages even with keywords",
			messages:  users("concordo", "qual a dor", "entendi"),
			primary:   domain.StateExploration,
			conf:      0.8,
			secondary: domain.StateClarification,
		},
		{
			name:      "convergence keyword with five user messages",
			messages:  users(neutral, neutral, neutral, neutral, "concordo com essa leitura geral"),
			primary:   domain.StateConvergence,
			conf:      0.7,
			secondary: domain.StateClarification,
		},
		{
			name:      "convergence keyword with four user messages falls through",
			messages:  users(neutral, neutral, neutral, "entendi a proposta de valor inteira"),
			primary:   domain.StateExploration,
			conf:      0.7,
			secondary: domain.StateClarification,
		},
		{
			name:      "clarification keyword",
			messages:  users(neutral, neutral, neutral, "qual é a dor real desse cliente?"),
			primary:   domain.StateClarification,
			conf:      0.65,
			secondary: domain.StateExploration,
		},
		{
			name:      "short last message",
			messages:  users(neutral, neutral, neutral, "ok"),
			primary:   domain.StatePause,
			conf:      0.6,
			secondary: domain.StateExploration,
		},
		{
			name:      "mature conversation without cues",
			messages:  users(neutral, neutral, neutral, neutral, neutral),
			primary:   domain.StateClarification,
			conf:      0.55,
			secondary: domain.StateConvergence,
		},
		{
			name:      "default",
			messages:  users(neutral, neutral, neutral, neutral),
			primary:   domain.StateExploration,
			conf:      0.7,
			secondary: domain.StateClarification,
		},
		{
			name: "keywords outside the recent window are ignored",
			messages: append(
				users("concordo, entendi tudo"),
				interleave(neutral, neutral, neutral, neutral)...,
			),
			primary:   domain.StateClarification,
			conf:      0.55,
			secondary: domain.StateConvergence,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Infer(tt.messages, nil)
			if got.Primary != tt.primary {
				t.Errorf("Primary = %q, want %q", got.Primary, tt.primary)
			}
			if got.Confidence != tt.conf {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.conf)
			}
			if got.Secondary == nil || *got.Secondary != tt.secondary {
				t.Errorf("Secondary = %v, want %q", got.Secondary, tt.secondary)
			}
		})
	}
}

func TestInfer_NeverReopening(t *testing.T) {
	inputs := [][]domain.Message{
		users("vamos retomar", "retomando de onde paramos", "reabrir o assunto", "voltei", "reabrindo a conversa sobre isso"),
		interleave("voltamos", "retomar", "reabrir", "de novo"),
	}
	for _, msgs := range inputs {
		got := Infer(msgs, []domain.Veredict{{Pain: "p", Value: "v", Version: 1}})
		if got.Primary == domain.StateReopening {
			t.Errorf("Infer returned reopening for %v", msgs)
		}
		if got.Secondary != nil && *got.Secondary == domain.StateReopening {
			t.Errorf("Infer returned reopening as secondary for %v", msgs)
		}
	}
}
