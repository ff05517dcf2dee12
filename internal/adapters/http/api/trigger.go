package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/meterbridge/internal/adapters/mq/queue"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

// TriggerHandler queues manual cycles.
type TriggerHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewTriggerHandler creates a new trigger handler.
func NewTriggerHandler(deps Dependencies, log logger.Logger) *TriggerHandler {
	return &TriggerHandler{deps: deps, logger: log}
}

type triggerResponse struct {
	Status    string    `json:"status"`
	TriggerID string    `json:"trigger_id,omitempty"`
	At        time.Time `json:"at,omitzero"`
}

// HandleTrigger handles POST /trigger. A trigger that finds another one
// already waiting is folded into it and answered with 409.
func (h *TriggerHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Trigger(r.Context(), model.TriggerManual)
	switch {
	case err == nil:
		h.logger.Info(r.Context(), "manual trigger accepted", logger.String("trigger_id", t.ID.String()))
		writeJSON(w, http.StatusAccepted, triggerResponse{Status: "accepted", TriggerID: t.ID.String(), At: t.At})
	case errors.Is(err, queue.ErrCoalesced):
		writeError(w, http.StatusConflict, "coalesced", err)
	default:
		writeError(w, http.StatusServiceUnavailable, "unavailable", fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
}
