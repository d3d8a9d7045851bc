package core

import (
	"context"
	"fmt"
)

// legalTransitions maps each application status to the statuses it may move
// to. Pending is never a destination and terminal statuses have no exits.
var legalTransitions = map[ApplicationStatus]map[ApplicationStatus]struct{}{
	StatusPending:  toSet(StatusApproved, StatusRejected),
	StatusApproved: toSet(StatusRejected, StatusCompleted),
}

// ApplicationTransitionRule blocks illegal status movements on adoption
// applications: unknown statuses, exits from terminal states, and any edge
// outside the lifecycle table.
func ApplicationTransitionRule() Rule {
	return applicationTransitionRule{}
}

type applicationTransitionRule struct{}

func (applicationTransitionRule) Name() string { return "application_transition" }

func (applicationTransitionRule) Evaluate(_ context.Context, _ TransactionView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != EntityApplication {
			continue
		}
		after, ok := change.After.(Application)
		if !ok {
			continue
		}
		if !after.Status.Valid() {
			res.Violations = append(res.Violations, Violation{
				Rule:     "application_transition",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("application %s is set to invalid status %s", after.ID, after.Status),
				Entity:   EntityApplication,
				EntityID: after.ID,
			})
			continue
		}
		if change.Action != ActionUpdate {
			continue
		}
		before, ok := change.Before.(Application)
		if !ok || before.Status == after.Status {
			continue
		}
		allowed, ok := legalTransitions[before.Status]
		if !ok {
			res.Violations = append(res.Violations, Violation{
				Rule:     "application_transition",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("cannot move application %s out of terminal status %s", before.ID, before.Status),
				Entity:   EntityApplication,
				EntityID: after.ID,
			})
			continue
		}
		if _, legal := allowed[after.Status]; !legal {
			res.Violations = append(res.Violations, Violation{
				Rule:     "application_transition",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("cannot move application %s from %s to %s", before.ID, before.Status, after.Status),
				Entity:   EntityApplication,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

func toSet(values ...ApplicationStatus) map[ApplicationStatus]struct{} {
	set := make(map[ApplicationStatus]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
