package core

import (
	"context"
	"fmt"
)

// AvailabilityConsistencyRule blocks commits where an animal carrying an
// approved application is still marked available. The reverse direction is
// not enforced: staff may hold an animal out of the pool with no approval
// on record.
func AvailabilityConsistencyRule() Rule {
	return availabilityConsistencyRule{}
}

type availabilityConsistencyRule struct{}

func (availabilityConsistencyRule) Name() string { return "availability_consistency" }

func (availabilityConsistencyRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	touched := false
	for _, change := range changes {
		if change.Entity == EntityApplication || change.Entity == EntityAnimal {
			touched = true
			break
		}
	}
	if !touched {
		return Result{}, nil
	}

	res := Result{}
	approved := make(map[string]bool)
	for _, app := range view.ListApplications() {
		if app.Status == StatusApproved {
			approved[app.AnimalID] = true
		}
	}
	for _, animal := range view.ListAnimals() {
		if approved[animal.ID] && animal.Available {
			res.Violations = append(res.Violations, Violation{
				Rule:     "availability_consistency",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("animal %s has an approved application but is still marked available", animal.ID),
				Entity:   EntityAnimal,
				EntityID: animal.ID,
			})
		}
	}
	return res, nil
}
