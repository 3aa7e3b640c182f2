package domain

import "testing"

func TestBatchStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to BatchStatus
		want     bool
	}{
		{BatchStatusReceived, BatchStatusParsing, true},
		{BatchStatusParsing, BatchStatusValidating, true},
		{BatchStatusParsing, BatchStatusFailed, true},
		{BatchStatusParsing, BatchStatusCreating, false},
		{BatchStatusValidating, BatchStatusValidationErrors, true},
		{BatchStatusValidating, BatchStatusCreating, true},
		{BatchStatusCreating, BatchStatusCompleted, true},
		{BatchStatusCreating, BatchStatusValidationErrors, false},
		{BatchStatusCompleted, BatchStatusFailed, false},
		{BatchStatusFailed, BatchStatusParsing, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestBatchStatusTerminal(t *testing.T) {
	for _, status := range ActiveBatchStatuses() {
		if status.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
	for _, status := range []BatchStatus{BatchStatusCompleted, BatchStatusFailed, BatchStatusValidationErrors} {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
}

func TestSeverityBlocking(t *testing.T) {
	if !SeverityCritical.Blocking() || !SeverityHigh.Blocking() {
		t.Fatalf("critical and high must block")
	}
	if SeverityMedium.Blocking() || SeverityLow.Blocking() {
		t.Fatalf("medium and low must not block")
	}
	findings := []Finding{{Severity: SeverityLow}, {Severity: SeverityMedium}}
	if HasBlocking(findings) {
		t.Fatalf("advisory findings reported as blocking")
	}
	findings = append(findings, Finding{Severity: SeverityHigh})
	if !HasBlocking(findings) {
		t.Fatalf("expected high finding to block")
	}
}

func TestBatchHasReport(t *testing.T) {
	batch := Batch{Status: BatchStatusCreating, FindingCount: 3}
	if batch.HasReport() {
		t.Fatalf("in-flight batch must not offer a report")
	}
	batch.Status = BatchStatusCompleted
	if !batch.HasReport() {
		t.Fatalf("completed batch with findings should offer a report")
	}
	batch.FindingCount = 0
	if batch.HasReport() {
		t.Fatalf("clean batch must not offer a report")
	}
}
