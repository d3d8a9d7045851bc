package domain_test

import (
	"errors"
	"testing"

	"sheltercore/pkg/domain"
)

func TestStatusClassification(t *testing.T) {
	if domain.ApplicationStatus("archived").Valid() {
		t.Fatalf("unknown status must not be valid")
	}
	for _, status := range []domain.ApplicationStatus{domain.StatusRejected, domain.StatusCompleted} {
		if !status.Terminal() {
			t.Fatalf("%s must be terminal", status)
		}
	}
	for _, status := range []domain.ApplicationStatus{domain.StatusPending, domain.StatusApproved} {
		if status.Terminal() {
			t.Fatalf("%s must not be terminal", status)
		}
	}
}

func TestOutstandingCoversPendingAndApproved(t *testing.T) {
	app := domain.Application{Status: domain.StatusPending}
	if !app.Outstanding() {
		t.Fatalf("pending application must be outstanding")
	}
	app.Status = domain.StatusApproved
	if !app.Outstanding() {
		t.Fatalf("approved application must be outstanding")
	}
	app.Status = domain.StatusRejected
	if app.Outstanding() {
		t.Fatalf("rejected application must not be outstanding")
	}
}

func TestResultMergeAndBlocking(t *testing.T) {
	var res domain.Result
	res.Merge(domain.Result{Violations: []domain.Violation{{Rule: "warn", Severity: domain.SeverityWarn}}})
	if res.HasBlocking() {
		t.Fatalf("warn severity must not block")
	}
	res.Merge(domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}})
	if !res.HasBlocking() {
		t.Fatalf("block severity must block")
	}
	if len(res.Violations) != 2 {
		t.Fatalf("merge must accumulate violations, got %d", len(res.Violations))
	}
}

func TestErrorTaxonomyUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := domain.UnavailableError{Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("unavailable error must unwrap to its cause")
	}

	var conflict domain.ConflictError
	wrapped := error(domain.ConflictError{Entity: domain.EntityAnimal, ID: "a1", Reason: "taken"})
	if !errors.As(wrapped, &conflict) || conflict.ID != "a1" {
		t.Fatalf("conflict error lost identity: %v", wrapped)
	}
}
