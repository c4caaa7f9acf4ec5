package engine

import (
	"context"
	"io"
	"testing"
)

type mockManager struct {
	running bool
	models  map[string]bool
	pulled  []string
}

func (m *mockManager) IsRunning(context.Context) bool               { return m.running }
func (m *mockManager) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockManager) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_Present(t *testing.T) {
	m := &mockManager{running: true, models: map[string]bool{"llama3.2": true}}
	if err := EnsureReady(context.Background(), m, "llama3.2", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("pulled = %v, want none", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockManager{running: true, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "llama3.2", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "llama3.2" {
		t.Errorf("pulled = %v", m.pulled)
	}
}

func TestEnsureReady_Down(t *testing.T) {
	m := &mockManager{running: false}
	if err := EnsureReady(context.Background(), m, "llama3.2", io.Discard); err == nil {
		t.Fatal("expected error when server is down")
	}
}
