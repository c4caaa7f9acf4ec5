package product

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/storage"
)

func setup(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewService(s), s
}

func TestCreateGetList(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, "alice", "  Pachai  ", "B2B SaaS")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Name != "Pachai" || p.OwnerID != "alice" {
		t.Errorf("Create = %+v", p)
	}

	got, err := svc.Get(ctx, "alice", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Context != "B2B SaaS" {
		t.Errorf("Context = %q", got.Context)
	}

	if _, err := svc.Get(ctx, "bob", p.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Get as bob err = %v, want ErrForbidden", err)
	}
	list, _ := svc.List(ctx, "bob")
	if len(list) != 0 {
		t.Errorf("bob sees %d products", len(list))
	}
	if _, err := svc.Create(ctx, "alice", " ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("blank name err = %v, want ErrValidation", err)
	}
	if _, err := svc.Create(ctx, "", "x", ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("anonymous err = %v, want ErrUnauthorized", err)
	}
}

func TestUpdateContext_RequiresReason(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	p, _ := svc.Create(ctx, "alice", "P", "v1")

	if _, err := svc.UpdateContext(ctx, "alice", p.ID, "v2", "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	got, _ := svc.Get(ctx, "alice", p.ID)
	if got.Context != "v1" {
		t.Errorf("rejected update changed context to %q", got.Context)
	}

	change, err := svc.UpdateContext(ctx, "alice", p.ID, "v2", "novo segmento")
	if err != nil {
		t.Fatalf("UpdateContext: %v", err)
	}
	if change.Previous != "v1" || change.Next != "v2" || change.Reason != "novo segmento" {
		t.Errorf("change = %+v", change)
	}

	hist, err := svc.History(ctx, "alice", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].ID != change.ID {
		t.Errorf("History = %+v", hist)
	}
}

func TestUpdateContext_Forbidden(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	p, _ := svc.Create(ctx, "alice", "P", "v1")

	if _, err := svc.UpdateContext(ctx, "bob", p.ID, "v2", "motivo"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
	if _, err := svc.UpdateContext(ctx, "alice", "missing", "v2", "motivo"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	p, _ := svc.Create(ctx, "alice", "P", "")

	if err := svc.Delete(ctx, "bob", p.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Delete as bob err = %v", err)
	}
	if err := svc.Delete(ctx, "alice", p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "alice", p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
}

func TestImportPDF_Errors(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	p, _ := svc.Create(ctx, "alice", "P", "v1")

	if _, err := svc.ImportPDF(ctx, "alice", p.ID, "whatever.pdf", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing reason err = %v, want ErrValidation", err)
	}

	notPDF := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(notPDF, []byte("plain text, not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ImportPDF(ctx, "alice", p.ID, notPDF, "importação"); err == nil {
		t.Error("expected error for non-pdf file")
	}
	got, _ := svc.Get(ctx, "alice", p.ID)
	if got.Context != "v1" {
		t.Errorf("failed import changed context to %q", got.Context)
	}
}
