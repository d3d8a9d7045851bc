package core

import "sheltercore/pkg/domain"

type (
	EntityType             = domain.EntityType
	ApplicationStatus      = domain.ApplicationStatus
	Severity               = domain.Severity
	Base                   = domain.Base
	Animal                 = domain.Animal
	Adopter                = domain.Adopter
	Application            = domain.Application
	Change                 = domain.Change
	Action                 = domain.Action
	Violation              = domain.Violation
	Result                 = domain.Result
	RuleViolationError     = domain.RuleViolationError
	NotFoundError          = domain.NotFoundError
	ConflictError          = domain.ConflictError
	InvalidTransitionError = domain.InvalidTransitionError
	ForbiddenError         = domain.ForbiddenError
	UnavailableError       = domain.UnavailableError
)

const (
	EntityAnimal      = domain.EntityAnimal
	EntityAdopter     = domain.EntityAdopter
	EntityApplication = domain.EntityApplication
)

const (
	StatusPending   = domain.StatusPending
	StatusApproved  = domain.StatusApproved
	StatusRejected  = domain.StatusRejected
	StatusCompleted = domain.StatusCompleted
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
