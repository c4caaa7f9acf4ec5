package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/storage"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var start = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Manager, *storage.Store, *mockClock) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.CreateProduct(ctx, domain.Product{ID: "p1", OwnerID: "alice", Name: "P", CreatedAt: start, UpdatedAt: start}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateConversation(ctx, domain.Conversation{
		ID: "c1", ProductID: "p1", OwnerID: "alice", Status: domain.StatusActive, LastActivityAt: start, CreatedAt: start,
	}); err != nil {
		t.Fatal(err)
	}
	clock := &mockClock{now: start}
	return NewManagerWithClock(s, s, clock), s, clock
}

func TestPause(t *testing.T) {
	m, _, clock := setup(t)
	clock.Advance(time.Minute)

	c, err := m.Pause(context.Background(), "alice", "c1")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if c.Status != domain.StatusPaused {
		t.Errorf("Status = %q, want paused", c.Status)
	}
	if c.PausedAt == nil || !c.PausedAt.Equal(clock.Now()) || !c.LastActivityAt.Equal(clock.Now()) {
		t.Errorf("timestamps = %+v, want paused_at and last_activity_at at %v", c, clock.Now())
	}
}

func TestResume_KeepsPausedAndReopened(t *testing.T) {
	m, _, clock := setup(t)
	ctx := context.Background()
	m.Pause(ctx, "alice", "c1")
	pausedAt := clock.Now()
	clock.Advance(time.Hour)

	c, err := m.Resume(ctx, "alice", "c1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if c.Status != domain.StatusActive {
		t.Errorf("Status = %q, want active", c.Status)
	}
	if c.PausedAt == nil || !c.PausedAt.Equal(pausedAt) {
		t.Errorf("PausedAt = %v, want unchanged %v", c.PausedAt, pausedAt)
	}
	if c.ReopenedAt != nil {
		t.Errorf("ReopenedAt = %v, want nil", c.ReopenedAt)
	}
	if !c.LastActivityAt.Equal(clock.Now()) {
		t.Errorf("LastActivityAt = %v, want %v", c.LastActivityAt, clock.Now())
	}
}

func TestSaveMessage_PausedFlipsToActive(t *testing.T) {
	m, _, clock := setup(t)
	ctx := context.Background()
	m.Pause(ctx, "alice", "c1")
	clock.Advance(time.Hour)

	_, c, err := m.SaveMessage(ctx, "alice", "c1", domain.RoleUser, "voltei", SaveOptions{})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if c.Status != domain.StatusActive {
		t.Errorf("Status = %q, want active", c.Status)
	}
	if !c.LastActivityAt.Equal(clock.Now()) {
		t.Errorf("LastActivityAt not updated")
	}
	if c.ReopenedAt != nil {
		t.Error("ordinary message must not stamp reopened_at")
	}
}

func TestSaveMessage_SuppressedStaysPausedUntilMarkReopened(t *testing.T) {
	m, s, clock := setup(t)
	ctx := context.Background()
	m.Pause(ctx, "alice", "c1")
	clock.Advance(2 * time.Hour)

	msg, c, err := m.SaveMessage(ctx, "alice", "c1", domain.RoleUser, "voltei", SaveOptions{SuppressReopen: true})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if c.Status != domain.StatusPaused {
		t.Errorf("Status = %q, want paused while suppressed", c.Status)
	}
	if !c.LastActivityAt.Equal(clock.Now()) {
		t.Error("last_activity_at must update even when suppressed")
	}

	msgs, _ := s.ListMessages(ctx, "c1", 0)
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Errorf("messages = %+v, want the saved message", msgs)
	}

	clock.Advance(time.Second)
	c, err = m.MarkReopened(ctx, "alice", "c1")
	if err != nil {
		t.Fatalf("MarkReopened: %v", err)
	}
	if c.Status != domain.StatusActive || c.ReopenedAt == nil || !c.ReopenedAt.Equal(clock.Now()) {
		t.Errorf("after MarkReopened: %+v", c)
	}
}

func TestSaveMessage_Validation(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()

	if _, _, err := m.SaveMessage(ctx, "alice", "c1", domain.RoleUser, "   ", SaveOptions{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty content err = %v, want ErrValidation", err)
	}
	if _, _, err := m.SaveMessage(ctx, "alice", "c1", "system", "x", SaveOptions{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad role err = %v, want ErrValidation", err)
	}
	msgs, _ := s.ListMessages(ctx, "c1", 0)
	if len(msgs) != 0 {
		t.Errorf("validation failure wrote %d messages", len(msgs))
	}
}

func TestTransitions_AccessDenied(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()

	ops := map[string]func(actor, id string) error{
		"pause":  func(a, id string) error { _, err := m.Pause(ctx, a, id); return err },
		"resume": func(a, id string) error { _, err := m.Resume(ctx, a, id); return err },
		"reopen": func(a, id string) error { _, err := m.MarkReopened(ctx, a, id); return err },
		"close":  func(a, id string) error { _, err := m.Close(ctx, a, id); return err },
		"save": func(a, id string) error {
			_, _, err := m.SaveMessage(ctx, a, id, domain.RoleUser, "oi", SaveOptions{})
			return err
		},
	}
	for name, op := range ops {
		if err := op("bob", "c1"); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("%s as bob: err = %v, want ErrForbidden", name, err)
		}
		if err := op("", "c1"); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("%s without actor: err = %v, want ErrUnauthorized", name, err)
		}
		if err := op("alice", "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%s on missing: err = %v, want ErrNotFound", name, err)
		}
	}

	c, _ := s.GetConversation(ctx, "c1")
	if c.Status != domain.StatusActive || !c.LastActivityAt.Equal(start) || c.PausedAt != nil {
		t.Errorf("denied transitions changed state: %+v", c)
	}
	msgs, _ := s.ListMessages(ctx, "c1", 0)
	if len(msgs) != 0 {
		t.Error("denied save wrote a message")
	}
}

func TestClose(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	c, err := m.Close(ctx, "alice", "c1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Status != domain.StatusClosed {
		t.Errorf("Status = %q, want closed", c.Status)
	}
	if _, _, err := m.SaveMessage(ctx, "alice", "c1", domain.RoleUser, "oi", SaveOptions{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("save on closed err = %v, want ErrValidation", err)
	}
	if _, err := m.Pause(ctx, "alice", "c1"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("pause on closed err = %v, want ErrValidation", err)
	}
	if _, err := m.MarkReopened(ctx, "alice", "c1"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("reopen on closed err = %v, want ErrValidation", err)
	}
	if c, _ := m.Get(ctx, "alice", "c1"); c.Status != domain.StatusClosed || c.ReopenedAt != nil {
		t.Errorf("closed conversation changed: %+v", c)
	}
}

func TestCreateListDelete(t *testing.T) {
	m, _, clock := setup(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "alice", "p1", "  Onboarding  ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != domain.StatusActive || c.Title != "Onboarding" || !c.CreatedAt.Equal(clock.Now()) {
		t.Errorf("Create = %+v", c)
	}
	if _, err := m.Create(ctx, "bob", "p1", "x"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Create as bob err = %v, want ErrForbidden", err)
	}

	list, err := m.List(ctx, "alice", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("List = %d conversations, want 2", len(list))
	}

	if _, _, err := m.SaveMessage(ctx, "alice", c.ID, domain.RoleUser, "oi", SaveOptions{}); err != nil {
		t.Fatal(err)
	}
	msgs, err := m.Messages(ctx, "alice", c.ID, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Messages = %v, %v", msgs, err)
	}

	if err := m.Delete(ctx, "bob", c.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Delete as bob err = %v", err)
	}
	if err := m.Delete(ctx, "alice", c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "alice", c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
}
