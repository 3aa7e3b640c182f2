package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityType names one of the fixed record shapes accepted for bulk upload.
type EntityType string

const (
	EntityTypeVehicle     EntityType = "vehicle"
	EntityTypeTransporter EntityType = "transporter"
	EntityTypeWarehouse   EntityType = "warehouse"
)

// BatchStatus captures lifecycle state for an upload batch.
type BatchStatus string

const (
	BatchStatusReceived         BatchStatus = "received"
	BatchStatusParsing          BatchStatus = "parsing"
	BatchStatusValidating       BatchStatus = "validating"
	BatchStatusCreating         BatchStatus = "creating"
	BatchStatusCompleted        BatchStatus = "completed"
	BatchStatusFailed           BatchStatus = "failed"
	BatchStatusValidationErrors BatchStatus = "validation_errors"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusReceived:   {BatchStatusParsing, BatchStatusFailed},
	BatchStatusParsing:    {BatchStatusValidating, BatchStatusFailed},
	BatchStatusValidating: {BatchStatusCreating, BatchStatusValidationErrors, BatchStatusFailed},
	BatchStatusCreating:   {BatchStatusCompleted, BatchStatusFailed},
}

// IsTerminal reports whether no further transitions are possible.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusValidationErrors:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, candidate := range batchTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ActiveBatchStatuses lists the non-terminal states.
func ActiveBatchStatuses() []BatchStatus {
	return []BatchStatus{
		BatchStatusReceived,
		BatchStatusParsing,
		BatchStatusValidating,
		BatchStatusCreating,
	}
}

// BatchCounters holds the outcome tallies of a batch.
type BatchCounters struct {
	TotalRows           int `json:"total_rows"`
	ValidCount          int `json:"valid_count"`
	InvalidCount        int `json:"invalid_count"`
	CreatedCount        int `json:"created_count"`
	CreationFailedCount int `json:"creation_failed_count"`
}

// Batch mirrors one persisted upload attempt and its processing outcome.
type Batch struct {
	ID              uuid.UUID   `json:"id"`
	OrganizationID  uuid.UUID   `json:"organization_id"`
	EntityType      EntityType  `json:"entity_type"`
	FileName        string      `json:"file_name"`
	UploadedBy      string      `json:"uploaded_by"`
	Status          BatchStatus `json:"status"`
	SourcePath      string      `json:"-"`
	ErrorReportPath *string     `json:"-"`
	ProcessingNotes *string     `json:"processing_notes,omitempty"`
	FindingCount    int         `json:"finding_count"`
	BatchCounters
	UploadedAt  time.Time  `json:"uploaded_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasReport reports whether an error report can be offered for the batch.
func (b Batch) HasReport() bool {
	return b.Status.IsTerminal() && b.FindingCount > 0
}

// BatchUpdate carries the fields written together with a status transition.
type BatchUpdate struct {
	Counters        *BatchCounters
	FindingCount    *int
	ProcessingNotes *string
}
