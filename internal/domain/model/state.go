package model

import "time"

// ImportState records the last imported day and the cumulative sum at its end.
type ImportState struct {
	LastImportedDate Day       `json:"last_imported_date"`
	RunningSum       float64   `json:"running_sum"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// RetryState holds the pending retry deadline. A nil *RetryState means no retry.
type RetryState struct {
	RetryAt time.Time `json:"retry_at"`
	Reason  string    `json:"reason,omitempty"`
}
