package api

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultCyclesLimit = 20
	maxCyclesLimit     = 500
)

// CyclesHandler serves the cycle journal.
type CyclesHandler struct {
	deps Dependencies
}

// NewCyclesHandler creates a new cycles handler.
func NewCyclesHandler(deps Dependencies) *CyclesHandler {
	return &CyclesHandler{deps: deps}
}

// HandleCycles handles GET /cycles?limit=N requests.
func (h *CyclesHandler) HandleCycles(w http.ResponseWriter, r *http.Request) {
	limit := defaultCyclesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
			return
		}
		limit = min(n, maxCyclesLimit)
	}

	cycles, err := h.deps.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if cycles == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}
