package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Blocking reports whether a finding of this severity excludes its draft from creation.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Rank orders severities from most (0) to least serious.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// ParseSeverity returns the severity for a case-sensitive name.
func ParseSeverity(value string) (Severity, bool) {
	switch Severity(value) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(value), true
	}
	return "", false
}

// FindingCategory names the rule group that produced a finding.
type FindingCategory string

const (
	CategoryStructural  FindingCategory = "structural"
	CategoryField       FindingCategory = "field"
	CategoryUniqueness  FindingCategory = "uniqueness"
	CategoryStoreUnique FindingCategory = "store_uniqueness"
	CategoryReferential FindingCategory = "referential"
	CategoryConsistency FindingCategory = "consistency"
	CategoryCreation    FindingCategory = "creation"
)

// Finding captures one validation or creation problem on a sheet row.
type Finding struct {
	ID        int64           `json:"id,omitempty"`
	BatchID   uuid.UUID       `json:"batch_id"`
	RefID     string          `json:"ref_id,omitempty"`
	Sheet     string          `json:"sheet"`
	RowNumber int             `json:"row_number"`
	Field     string          `json:"field,omitempty"`
	Message   string          `json:"message"`
	Severity  Severity        `json:"severity"`
	Category  FindingCategory `json:"category"`
	Expected  *string         `json:"expected,omitempty"`
	Received  *string         `json:"received,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// FindingFilter narrows finding retrieval.
type FindingFilter struct {
	Sheet    string
	Severity Severity
}

// HasBlocking reports whether any finding in the list blocks creation.
func HasBlocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity.Blocking() {
			return true
		}
	}
	return false
}
