package core

import (
	"context"
	"fmt"
)

// SingleApprovalRule blocks commits that would leave more than one approved
// application on the same animal.
func SingleApprovalRule() Rule {
	return singleApprovalRule{}
}

type singleApprovalRule struct{}

func (singleApprovalRule) Name() string { return "single_approval" }

func (singleApprovalRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	if !touchesApplications(changes) {
		return Result{}, nil
	}
	res := Result{}
	approved := make(map[string]int)
	for _, app := range view.ListApplications() {
		if app.Status == StatusApproved {
			approved[app.AnimalID]++
		}
	}
	for animalID, count := range approved {
		if count > 1 {
			res.Violations = append(res.Violations, Violation{
				Rule:     "single_approval",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("animal %s has %d approved applications", animalID, count),
				Entity:   EntityAnimal,
				EntityID: animalID,
			})
		}
	}
	return res, nil
}

func touchesApplications(changes []Change) bool {
	for _, change := range changes {
		if change.Entity == EntityApplication {
			return true
		}
	}
	return false
}
