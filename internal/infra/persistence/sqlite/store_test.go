package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"sheltercore/internal/infra/persistence/sqlite"
	"sheltercore/pkg/domain"
)

func TestStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelter.db")

	store, err := sqlite.NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	var animal domain.Animal
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		animal, err = tx.CreateAnimal(domain.Animal{Name: "Rex", Available: true})
		if err != nil {
			return err
		}
		adopter, err := tx.CreateAdopter(domain.Adopter{Name: "ana", Active: true})
		if err != nil {
			return err
		}
		_, err = tx.CreateApplication(domain.Application{AnimalID: animal.ID, AdopterID: adopter.ID, Status: domain.StatusPending})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := sqlite.NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, ok := reopened.GetAnimal(animal.ID)
	if !ok {
		t.Fatalf("animal missing after reopen")
	}
	if got.Name != "Rex" || !got.Available {
		t.Fatalf("animal state lost across reopen: %+v", got)
	}
	if apps := reopened.ListApplications(); len(apps) != 1 {
		t.Fatalf("expected one application after reopen, got %d", len(apps))
	}
}

func TestStaleInstanceCannotOverwriteNewerState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelter.db")

	first, err := sqlite.NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open first instance: %v", err)
	}
	defer func() { _ = first.Close() }()

	var animal domain.Animal
	_, err = first.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		animal, err = tx.CreateAnimal(domain.Animal{Name: "Rex", Available: true})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	second, err := sqlite.NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open second instance: %v", err)
	}
	defer func() { _ = second.Close() }()

	// first commits again; second's hydrated snapshot is now behind
	_, err = first.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateAnimal(animal.ID, func(a *domain.Animal) error {
			a.Available = false
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}

	_, err = second.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateAnimal(animal.ID, func(a *domain.Animal) error {
			a.Name = "Clobber"
			return nil
		})
		return err
	})
	var unavailable domain.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError from stale instance, got %v", err)
	}
	if !errors.Is(err, sqlite.ErrStaleSnapshot) {
		t.Fatalf("expected stale snapshot cause, got %v", err)
	}

	// the stale instance re-hydrated and now sees first's commit
	got, ok := second.GetAnimal(animal.ID)
	if !ok {
		t.Fatalf("animal missing after re-hydration")
	}
	if got.Available || got.Name != "Rex" {
		t.Fatalf("re-hydrated state wrong: %+v", got)
	}

	// a retry against refreshed state goes through
	_, err = second.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateAnimal(animal.ID, func(a *domain.Animal) error {
			a.Name = "Clobber"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("retry after re-hydration: %v", err)
	}

	reopened, err := sqlite.NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	final, _ := reopened.GetAnimal(animal.ID)
	if final.Available || final.Name != "Clobber" {
		t.Fatalf("durable state lost a committed write: %+v", final)
	}
}

func TestPersistFailureRollsBackMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelter.db")

	store, err := sqlite.NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	var animal domain.Animal
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		animal, err = tx.CreateAnimal(domain.Animal{Name: "Rex", Available: true})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateAnimal(animal.ID, func(a *domain.Animal) error {
			a.Available = false
			return nil
		})
		return err
	})
	if err == nil {
		t.Fatalf("expected persist failure over closed handle")
	}

	// the failed unit must not remain visible in committed memory state
	got, ok := store.GetAnimal(animal.ID)
	if !ok {
		t.Fatalf("animal missing after rollback")
	}
	if !got.Available {
		t.Fatalf("unpersisted mutation leaked into memory: %+v", got)
	}
}

func TestFailedTransactionNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelter.db")

	store, err := sqlite.NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	sentinel := errors.New("boom")
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateAnimal(domain.Animal{Name: "Rex"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := sqlite.NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if animals := reopened.ListAnimals(); len(animals) != 0 {
		t.Fatalf("rolled-back writes leaked to disk: %d animals", len(animals))
	}
}
