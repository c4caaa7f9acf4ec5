package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pachai/internal/decision"
	"github.com/kalambet/pachai/internal/governance"
	"github.com/kalambet/pachai/internal/lifecycle"
	"github.com/kalambet/pachai/internal/pipeline"
	"github.com/kalambet/pachai/internal/product"
	"github.com/kalambet/pachai/internal/search"
	"github.com/kalambet/pachai/internal/storage"
)

// TurnHandler runs one conversational turn. Implemented by
// pipeline.Orchestrator.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req pipeline.TurnRequest) (pipeline.TurnResult, error)
}

// AuditReader lists governance violations. Implemented by storage.Store.
type AuditReader interface {
	CheckConversationAccess(ctx context.Context, actorID, conversationID string) error
	ListViolations(ctx context.Context, conversationID string, limit int) ([]storage.ViolationRecord, error)
}

// Deps holds everything the HTTP API serves.
type Deps struct {
	Products      *product.Service
	Conversations *lifecycle.Manager
	Veredicts     *decision.Service
	Turns         TurnHandler
	// Governance evaluates dry-run checks. It should be built without an
	// audit log so checks leave no trace.
	Governance *governance.Engine
	Audit      AuditReader
	Token      string
}

// NewHandler returns the Pachai HTTP API. /health is public; every other
// route requires the bearer token and reads the actor from X-Pachai-Actor.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(Actor)

		r.Get("/products", handleListProducts(deps))
		r.Post("/products", handleCreateProduct(deps))
		r.Get("/products/{id}", handleGetProduct(deps))
		r.Delete("/products/{id}", handleDeleteProduct(deps))
		r.Put("/products/{id}/context", handleUpdateContext(deps))
		r.Get("/products/{id}/context/history", handleContextHistory(deps))
		r.Get("/products/{id}/conversations", handleListConversations(deps))
		r.Post("/products/{id}/conversations", handleCreateConversation(deps))
		r.Get("/products/{id}/veredicts", handleListVeredicts(deps))

		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
		r.Get("/conversations/{id}/messages", handleListMessages(deps))
		r.Post("/conversations/{id}/turns", handleTurn(deps))
		r.Post("/conversations/{id}/pause", handleTransition(deps.Conversations.Pause))
		r.Post("/conversations/{id}/resume", handleTransition(deps.Conversations.Resume))
		r.Post("/conversations/{id}/close", handleTransition(deps.Conversations.Close))
		r.Post("/conversations/{id}/veredicts", handleConfirmVeredict(deps))
		r.Get("/conversations/{id}/violations", handleListViolations(deps))

		r.Get("/governance/rules", handleRules(deps))
		r.Post("/governance/check", handleCheck(deps))
		r.Post("/governance/invalidate", handleInvalidate(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createProductRequest struct {
	Name    string `json:"name"`
	Context string `json:"context"`
}

type updateContextRequest struct {
	Context string `json:"context"`
	Reason  string `json:"reason"`
}

func handleListProducts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products, err := deps.Products.List(r.Context(), actorFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, products)
	}
}

func handleCreateProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createProductRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Products.Create(r.Context(), actorFrom(r), req.Name, req.Context)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleGetProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Products.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeleteProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Products.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleUpdateContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateContextRequest
		if !decodeBody(w, r, &req) {
			return
		}
		change, err := deps.Products.UpdateContext(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Context, req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, change)
	}
}

func handleContextHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changes, err := deps.Products.History(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, changes)
	}
}

func handleListVeredicts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		veredicts, err := deps.Veredicts.List(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, veredicts)
	}
}

func handleConfirmVeredict(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decision.ConfirmRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.ConversationID = chi.URLParam(r, "id")
		v, err := deps.Veredicts.Confirm(r.Context(), actorFrom(r), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

func handleListViolations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Audit.CheckConversationAccess(r.Context(), actorFrom(r), id); err != nil {
			writeError(w, err)
			return
		}
		records, err := deps.Audit.ListViolations(r.Context(), id, parseIntParam(r, "limit", 50, 500))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

type turnRequest struct {
	Content            string               `json:"content"`
	SearchConfirmation *search.Confirmation `json:"search_confirmation,omitempty"`
}

func handleTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req turnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := deps.Turns.HandleTurn(r.Context(), pipeline.TurnRequest{
			ActorID:            actorFrom(r),
			ConversationID:     chi.URLParam(r, "id"),
			Content:            req.Content,
			SearchConfirmation: req.SearchConfirmation,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
