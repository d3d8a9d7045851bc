package core_test

import (
	"context"
	"errors"
	"testing"

	"sheltercore/internal/core"
	"sheltercore/internal/infra/persistence/memory"
	"sheltercore/pkg/domain"
)

// seedStore writes an available animal, an active adopter and one pending
// application directly through a transaction, bypassing the coordinator.
func seedStore(t *testing.T, store *memory.Store) (domain.Animal, domain.Adopter, domain.Application) {
	t.Helper()
	var animal domain.Animal
	var adopter domain.Adopter
	var app domain.Application
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		if animal, err = tx.CreateAnimal(domain.Animal{Name: "Rex", Available: true}); err != nil {
			return err
		}
		if adopter, err = tx.CreateAdopter(domain.Adopter{Name: "ana", Active: true}); err != nil {
			return err
		}
		app, err = tx.CreateApplication(domain.Application{AnimalID: animal.ID, AdopterID: adopter.ID, Status: domain.StatusPending})
		return err
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return animal, adopter, app
}

func TestTransitionRuleBlocksIllegalEdgeAtCommit(t *testing.T) {
	store := memory.NewStore(core.NewDefaultRulesEngine())
	_, _, app := seedStore(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateApplication(app.ID, func(a *domain.Application) error {
			a.Status = domain.StatusCompleted
			return nil
		})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation for pending->completed, got %v", err)
	}

	got, ok := store.GetApplication(app.ID)
	if !ok {
		t.Fatalf("application missing after rollback")
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("blocked commit must roll back, got status %s", got.Status)
	}
}

func TestAvailabilityRuleBlocksApprovedAnimalLeftInPool(t *testing.T) {
	store := memory.NewStore(core.NewDefaultRulesEngine())
	_, _, app := seedStore(t, store)

	// approve without reserving the animal
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateApplication(app.ID, func(a *domain.Application) error {
			a.Status = domain.StatusApproved
			return nil
		})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation for approved animal left available, got %v", err)
	}
}

func TestSingleApprovalRuleBlocksSecondApproval(t *testing.T) {
	store := memory.NewStore(core.NewDefaultRulesEngine())
	animal, _, app := seedStore(t, store)

	var second domain.Application
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		adopter, err := tx.CreateAdopter(domain.Adopter{Name: "ben", Active: true})
		if err != nil {
			return err
		}
		second, err = tx.CreateApplication(domain.Application{AnimalID: animal.ID, AdopterID: adopter.ID, Status: domain.StatusPending})
		return err
	})
	if err != nil {
		t.Fatalf("create second application: %v", err)
	}

	// approve both in one transaction with the animal reserved
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateAnimal(animal.ID, func(a *domain.Animal) error {
			a.Available = false
			return nil
		}); err != nil {
			return err
		}
		for _, id := range []string{app.ID, second.ID} {
			if _, err := tx.UpdateApplication(id, func(a *domain.Application) error {
				a.Status = domain.StatusApproved
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation for double approval, got %v", err)
	}
}

func TestDuplicateApplicationRuleBlocksSecondOutstanding(t *testing.T) {
	store := memory.NewStore(core.NewDefaultRulesEngine())
	animal, adopter, _ := seedStore(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateApplication(domain.Application{AnimalID: animal.ID, AdopterID: adopter.ID, Status: domain.StatusPending})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation for duplicate outstanding pair, got %v", err)
	}
}
