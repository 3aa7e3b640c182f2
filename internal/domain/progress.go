package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProgressType classifies a progress event for display.
type ProgressType string

const (
	ProgressInfo    ProgressType = "info"
	ProgressSuccess ProgressType = "success"
	ProgressWarning ProgressType = "warning"
	ProgressError   ProgressType = "error"
)

// ProgressEvent is an ephemeral notification of pipeline advancement. It is never persisted.
type ProgressEvent struct {
	BatchID    uuid.UUID    `json:"batch_id"`
	Phase      BatchStatus  `json:"phase"`
	Percentage int          `json:"percentage"`
	Message    string       `json:"message"`
	Type       ProgressType `json:"type"`
	Final      bool         `json:"final,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}
