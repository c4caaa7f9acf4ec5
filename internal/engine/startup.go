package engine

import (
	"context"
	"fmt"
	"io"
)

// ModelManager is the part of a local backend EnsureReady needs.
type ModelManager interface {
	Prober
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// EnsureReady checks that a local backend is reachable and that model is
// available, pulling it with progress written to w when missing.
func EnsureReady(ctx context.Context, m ModelManager, model string, w io.Writer) error {
	if !m.IsRunning(ctx) {
		return fmt.Errorf("local model server is not running. Start it with: ollama serve")
	}
	if model == "" {
		return nil
	}
	if m.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := m.PullModel(ctx, model, func(p PullProgress) {
		if p.Total > 0 {
			pct := float64(p.Completed) / float64(p.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
