package core

import (
	"context"
	"fmt"
)

// DuplicateApplicationRule blocks commits that would leave more than one
// outstanding (pending or approved) application for the same (animal,
// adopter) pair.
func DuplicateApplicationRule() Rule {
	return duplicateApplicationRule{}
}

type duplicateApplicationRule struct{}

type animalAdopterPair struct {
	animalID  string
	adopterID string
}

func (duplicateApplicationRule) Name() string { return "duplicate_application" }

func (duplicateApplicationRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	if !touchesApplications(changes) {
		return Result{}, nil
	}
	res := Result{}
	outstanding := make(map[animalAdopterPair]int)
	for _, app := range view.ListApplications() {
		if app.Outstanding() {
			outstanding[animalAdopterPair{app.AnimalID, app.AdopterID}]++
		}
	}
	for pair, count := range outstanding {
		if count > 1 {
			res.Violations = append(res.Violations, Violation{
				Rule:     "duplicate_application",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("adopter %s has %d outstanding applications for animal %s", pair.adopterID, count, pair.animalID),
				Entity:   EntityApplication,
				EntityID: pair.animalID,
			})
		}
	}
	return res, nil
}
