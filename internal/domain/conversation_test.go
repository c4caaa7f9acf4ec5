package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestLastUserMessage(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "primeira"},
		{Role: RoleAgent, Content: "resposta"},
		{Role: RoleUser, Content: "segunda"},
		{Role: RoleAgent, Content: "outra resposta"},
	}
	if got := LastUserMessage(history); got != "segunda" {
		t.Errorf("LastUserMessage = %q, want %q", got, "segunda")
	}
	if got := LastUserMessage(nil); got != "" {
		t.Errorf("LastUserMessage(nil) = %q, want empty", got)
	}
}

func TestUserContents(t *testing.T) {
	history := []Message{
		{Role: RoleAgent, Content: "olá"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
	}
	got := UserContents(history)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("UserContents = %v, want [a b]", got)
	}
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("saving: %w", Invalid("content", "must not be empty"))
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected wrapped ValidationError to match ErrValidation")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "content" {
		t.Errorf("errors.As = %+v, want field content", ve)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []ConversationStatus{StatusActive, StatusPaused, StatusClosed} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if ConversationStatus("archived").Valid() {
		t.Error("unknown status reported as valid")
	}
}
