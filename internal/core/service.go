package core

import (
	"context"
	"errors"
	"time"

	"sheltercore/internal/infra/persistence/memory"
	"sheltercore/pkg/domain"
)

// Service is the lifecycle coordinator. It owns every status transition on
// adoption applications and every availability flip on animals, executing
// each as one atomic unit of work against the injected store. No lifecycle
// state is cached between calls; each operation re-reads current state
// inside its transaction.
type Service struct {
	store   PersistentStore
	metrics MetricsRecorder
	tracer  Tracer
	nowFn   func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithMetricsRecorder attaches an operation metrics sink.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer attaches an operation tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock overrides the review timestamp source; intended for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewService constructs a coordinator backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a coordinator over an in-memory store with the
// given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

func (s *Service) begin(ctx context.Context, operation string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	return ctx, func(err error) {
		span.End(err)
		s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
}

// classify passes taxonomy errors through verbatim and folds everything else
// (snapshot persistence, connection loss) into UnavailableError so callers
// know the whole unit rolled back and may retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound    NotFoundError
		conflict    ConflictError
		invalid     InvalidTransitionError
		forbidden   ForbiddenError
		violation   RuleViolationError
		unavailable UnavailableError
	)
	if errors.As(err, &notFound) || errors.As(err, &conflict) || errors.As(err, &invalid) ||
		errors.As(err, &forbidden) || errors.As(err, &violation) || errors.As(err, &unavailable) {
		return err
	}
	return UnavailableError{Err: err}
}

// CreateAnimal persists a new animal record.
func (s *Service) CreateAnimal(ctx context.Context, animal Animal) (Animal, Result, error) {
	ctx, done := s.begin(ctx, "create_animal")
	var created Animal
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateAnimal(animal)
		return err
	})
	err = classify(err)
	done(err)
	return created, res, err
}

// UpdateAnimal mutates an animal using the provided mutator. Flipping
// Available is refused while an approved application exists; that path
// belongs to Transition.
func (s *Service) UpdateAnimal(ctx context.Context, id string, mutator func(*Animal) error) (Animal, Result, error) {
	ctx, done := s.begin(ctx, "update_animal")
	var updated Animal
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		before, ok := tx.FindAnimal(id)
		if !ok {
			return NotFoundError{Entity: EntityAnimal, ID: id}
		}
		var err error
		updated, err = tx.UpdateAnimal(id, mutator)
		if err != nil {
			return err
		}
		if updated.Available != before.Available {
			for _, app := range tx.ApplicationsForAnimal(id) {
				if app.Status == StatusApproved {
					return ConflictError{
						Entity: EntityAnimal,
						ID:     id,
						Reason: "availability is managed by the lifecycle coordinator while an approval exists",
					}
				}
			}
		}
		return nil
	})
	err = classify(err)
	done(err)
	return updated, res, err
}

// DeleteAnimal removes an animal record with no applications on file.
func (s *Service) DeleteAnimal(ctx context.Context, id string) (Result, error) {
	ctx, done := s.begin(ctx, "delete_animal")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteAnimal(id)
	})
	err = classify(err)
	done(err)
	return res, err
}

// CreateAdopter persists a new adopter record.
func (s *Service) CreateAdopter(ctx context.Context, adopter Adopter) (Adopter, Result, error) {
	ctx, done := s.begin(ctx, "create_adopter")
	var created Adopter
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateAdopter(adopter)
		return err
	})
	err = classify(err)
	done(err)
	return created, res, err
}

// UpdateAdopter mutates an adopter record.
func (s *Service) UpdateAdopter(ctx context.Context, id string, mutator func(*Adopter) error) (Adopter, Result, error) {
	ctx, done := s.begin(ctx, "update_adopter")
	var updated Adopter
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateAdopter(id, mutator)
		return err
	})
	err = classify(err)
	done(err)
	return updated, res, err
}

// SubmitApplicationInput carries an applicant's request to adopt an animal.
type SubmitApplicationInput struct {
	AnimalID  string
	AdopterID string
	Details   string
}

// SubmitApplication creates a pending application. Availability of the
// animal, eligibility of the adopter, and the one-outstanding-application
// invariant are checked and the insert applied as one atomic unit, so two
// concurrent submissions for the same pair cannot both land.
func (s *Service) SubmitApplication(ctx context.Context, input SubmitApplicationInput) (Application, Result, error) {
	ctx, done := s.begin(ctx, "submit_application")
	var created Application
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		animal, ok := tx.FindAnimal(input.AnimalID)
		if !ok {
			return NotFoundError{Entity: EntityAnimal, ID: input.AnimalID}
		}
		if !animal.Available {
			return ConflictError{Entity: EntityAnimal, ID: animal.ID, Reason: "animal is not available for adoption"}
		}
		adopter, ok := tx.FindAdopter(input.AdopterID)
		if !ok {
			return NotFoundError{Entity: EntityAdopter, ID: input.AdopterID}
		}
		if !adopter.Active {
			return ConflictError{Entity: EntityAdopter, ID: adopter.ID, Reason: "adopter account is inactive"}
		}
		for _, app := range tx.ApplicationsForAnimal(input.AnimalID) {
			if app.AdopterID == input.AdopterID && app.Outstanding() {
				return ConflictError{Entity: EntityApplication, ID: app.ID, Reason: "an application for this animal is already outstanding"}
			}
		}
		var err error
		created, err = tx.CreateApplication(Application{
			AnimalID:  input.AnimalID,
			AdopterID: input.AdopterID,
			Details:   input.Details,
			Status:    StatusPending,
		})
		return err
	})
	err = classify(err)
	done(err)
	return created, res, err
}

// TransitionInput carries a staff-driven status change request.
// StaffAuthorized is the boolean decision of the external authorization
// collaborator; the coordinator refuses to act without it.
type TransitionInput struct {
	ApplicationID   string
	NewStatus       ApplicationStatus
	ReviewerID      string
	Notes           string
	StaffAuthorized bool
}

// TransitionOutcome reports the post-commit application and animal state.
type TransitionOutcome struct {
	Application Application
	Animal      Animal
}

// Transition executes one status transition as a single atomic unit:
// validation against the lifecycle table, the primary status update, and
// the cascading effects (sibling rejection on approval, availability flip)
// commit together or not at all.
func (s *Service) Transition(ctx context.Context, input TransitionInput) (TransitionOutcome, Result, error) {
	ctx, done := s.begin(ctx, "transition")
	outcome, res, err := s.transition(ctx, input)
	done(err)
	return outcome, res, err
}

func (s *Service) transition(ctx context.Context, input TransitionInput) (TransitionOutcome, Result, error) {
	if !input.StaffAuthorized {
		return TransitionOutcome{}, Result{}, ForbiddenError{Reason: "staff capability required for status transitions"}
	}

	now := s.nowFn()
	reviewer := input.ReviewerID
	var appOut Application
	var animalOut Animal

	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		app, ok := tx.FindApplication(input.ApplicationID)
		if !ok {
			return NotFoundError{Entity: EntityApplication, ID: input.ApplicationID}
		}
		animal, ok := tx.FindAnimal(app.AnimalID)
		if !ok {
			return NotFoundError{Entity: EntityAnimal, ID: app.AnimalID}
		}
		if !input.NewStatus.Valid() || input.NewStatus == app.Status {
			return InvalidTransitionError{From: app.Status, To: input.NewStatus}
		}
		allowed, ok := legalTransitions[app.Status]
		if !ok {
			return InvalidTransitionError{From: app.Status, To: input.NewStatus}
		}
		if _, legal := allowed[input.NewStatus]; !legal {
			return InvalidTransitionError{From: app.Status, To: input.NewStatus}
		}
		if app.Status == StatusPending && input.NewStatus == StatusApproved && !animal.Available {
			return ConflictError{Entity: EntityAnimal, ID: animal.ID, Reason: "animal is already committed to another approval"}
		}

		from := app.Status
		notes := input.Notes
		var err error
		appOut, err = tx.UpdateApplication(app.ID, func(a *Application) error {
			a.Status = input.NewStatus
			a.ReviewedBy = &reviewer
			a.ReviewedAt = &now
			if notes != "" {
				a.AdminNotes = &notes
			} else {
				a.AdminNotes = nil
			}
			return nil
		})
		if err != nil {
			return err
		}

		switch {
		case input.NewStatus == StatusApproved:
			animalOut, err = tx.UpdateAnimal(animal.ID, func(an *Animal) error {
				an.Available = false
				return nil
			})
			if err != nil {
				return err
			}
			for _, sibling := range tx.ApplicationsForAnimal(animal.ID) {
				if sibling.ID == app.ID || sibling.Status != StatusPending {
					continue
				}
				note := domain.CascadeRejectionNote
				if _, err := tx.UpdateApplication(sibling.ID, func(a *Application) error {
					a.Status = StatusRejected
					a.ReviewedBy = &reviewer
					a.ReviewedAt = &now
					a.AdminNotes = &note
					return nil
				}); err != nil {
					return err
				}
			}
		case from == StatusApproved:
			// approved -> rejected or completed returns the animal to the pool.
			animalOut, err = tx.UpdateAnimal(animal.ID, func(an *Animal) error {
				an.Available = true
				return nil
			})
			if err != nil {
				return err
			}
		default:
			animalOut = animal
		}
		return nil
	})
	if err != nil {
		return TransitionOutcome{}, res, classify(err)
	}
	return TransitionOutcome{Application: appOut, Animal: animalOut}, res, nil
}

// GetAnimal reads one animal from committed state.
func (s *Service) GetAnimal(_ context.Context, id string) (Animal, error) {
	animal, ok := s.store.GetAnimal(id)
	if !ok {
		return Animal{}, NotFoundError{Entity: EntityAnimal, ID: id}
	}
	return animal, nil
}

// GetAdopter reads one adopter from committed state.
func (s *Service) GetAdopter(_ context.Context, id string) (Adopter, error) {
	adopter, ok := s.store.GetAdopter(id)
	if !ok {
		return Adopter{}, NotFoundError{Entity: EntityAdopter, ID: id}
	}
	return adopter, nil
}

// GetApplication reads one application from committed state.
func (s *Service) GetApplication(_ context.Context, id string) (Application, error) {
	app, ok := s.store.GetApplication(id)
	if !ok {
		return Application{}, NotFoundError{Entity: EntityApplication, ID: id}
	}
	return app, nil
}

// ListAnimals lists animals, optionally restricted to available ones.
func (s *Service) ListAnimals(ctx context.Context, availableOnly bool) ([]Animal, error) {
	var out []Animal
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, animal := range view.ListAnimals() {
			if availableOnly && !animal.Available {
				continue
			}
			out = append(out, animal)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// ApplicationFilter narrows ListApplications; zero values match everything.
type ApplicationFilter struct {
	AnimalID  string
	AdopterID string
	Status    ApplicationStatus
}

// ListApplications lists applications matching the filter. This is the
// read-only reporting path; it never mutates lifecycle state.
func (s *Service) ListApplications(ctx context.Context, filter ApplicationFilter) ([]Application, error) {
	var out []Application
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, app := range view.ListApplications() {
			if filter.AnimalID != "" && app.AnimalID != filter.AnimalID {
				continue
			}
			if filter.AdopterID != "" && app.AdopterID != filter.AdopterID {
				continue
			}
			if filter.Status != "" && app.Status != filter.Status {
				continue
			}
			out = append(out, app)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}
