package model

import (
	"time"

	"github.com/google/uuid"
)

// TriggerReason names what started a cycle.
type TriggerReason string

// Trigger reasons.
const (
	TriggerSchedule TriggerReason = "schedule"
	TriggerStartup  TriggerReason = "startup"
	TriggerRetry    TriggerReason = "retry"
	TriggerManual   TriggerReason = "manual"
	TriggerBackfill TriggerReason = "backfill"
)

// Trigger is a request to run one ingestion cycle.
type Trigger struct {
	ID     uuid.UUID     `json:"id"`
	Reason TriggerReason `json:"reason"`
	At     time.Time     `json:"at"`
}

// NewTrigger stamps a trigger with a fresh id.
func NewTrigger(reason TriggerReason, at time.Time) Trigger {
	return Trigger{ID: uuid.New(), Reason: reason, At: at}
}

// Outcome is how a cycle ended.
type Outcome string

// Cycle outcomes. Imported and AlreadyImported confirm forward progress.
const (
	OutcomeImported        Outcome = "imported"
	OutcomeAlreadyImported Outcome = "already_imported"
	OutcomeNoData          Outcome = "no_data"
	OutcomeIncomplete      Outcome = "incomplete"
	OutcomeFailed          Outcome = "failed"
)

// Progressed reports whether the store confirmed the series is up to date.
func (o Outcome) Progressed() bool {
	return o == OutcomeImported || o == OutcomeAlreadyImported
}
