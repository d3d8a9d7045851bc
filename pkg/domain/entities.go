// Package domain defines the persistent entities, status lifecycles, and
// rule evaluation primitives used by sheltercore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAnimal identifies a shelter animal record.
	EntityAnimal EntityType = "animal"
	// EntityAdopter identifies an adopter (applicant) record.
	EntityAdopter EntityType = "adopter"
	// EntityApplication identifies an adoption application record.
	EntityApplication EntityType = "application"
)

// ApplicationStatus represents the canonical adoption application lifecycle states.
type ApplicationStatus string

// Canonical application statuses. Rejected and completed are terminal;
// renewed interest requires a new application record.
const (
	StatusPending   ApplicationStatus = "pending"
	StatusApproved  ApplicationStatus = "approved"
	StatusRejected  ApplicationStatus = "rejected"
	StatusCompleted ApplicationStatus = "completed"
)

// CascadeRejectionNote is written to sibling pending applications when a
// competing application on the same animal is approved.
const CascadeRejectionNote = "Animal was adopted by another applicant"

// Valid reports whether the status is one of the canonical values.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Animal represents a shelter resident eligible for adoption. Available is
// the single source of truth for adoptability; it is flipped only by the
// lifecycle coordinator while an approval is outstanding.
type Animal struct {
	Base
	Name        string     `json:"name"`
	Species     string     `json:"species"`
	Breed       string     `json:"breed,omitempty"`
	Sex         string     `json:"sex,omitempty"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	Description string     `json:"description,omitempty"`
	Available   bool       `json:"is_available"`
}

// Adopter represents a registered applicant.
type Adopter struct {
	Base
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	Active bool   `json:"active"`
}

// Application represents one adopter's request to adopt one animal.
// Review fields are set only on staff-driven transitions.
type Application struct {
	Base
	AnimalID   string            `json:"animal_id"`
	AdopterID  string            `json:"adopter_id"`
	Details    string            `json:"details,omitempty"`
	Status     ApplicationStatus `json:"status"`
	ReviewedBy *string           `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time        `json:"reviewed_at,omitempty"`
	AdminNotes *string           `json:"admin_notes,omitempty"`
}

// Outstanding reports whether the application still binds the (animal,
// adopter) pair, i.e. counts toward the one-per-pair invariant.
func (a Application) Outstanding() bool {
	return a.Status == StatusPending || a.Status == StatusApproved
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured for rule evaluation.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
