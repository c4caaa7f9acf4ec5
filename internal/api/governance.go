package api

import (
	"net/http"

	"github.com/kalambet/pachai/internal/governance"
)

type checkRequest struct {
	Phase governance.Phase `json:"phase"`
	Input governance.Input `json:"input"`
}

func handleRules(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Governance.Rules(r.Context()))
	}
}

// handleCheck evaluates one phase against a caller-supplied input. Search
// contexts decoded from JSON are never confirmed.
func handleCheck(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !req.Phase.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown phase %q", req.Phase)
			return
		}
		writeJSON(w, http.StatusOK, deps.Governance.Apply(r.Context(), req.Phase, req.Input))
	}
}

func handleInvalidate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Governance.Invalidate()
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
	}
}
