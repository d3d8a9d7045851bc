package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sheltercore/internal/infra/persistence/memory"
	"sheltercore/pkg/domain"
)

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	store := memory.NewStore(domain.NewRulesEngine())

	sentinel := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateAnimal(domain.Animal{Name: "Rex"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if animals := store.ListAnimals(); len(animals) != 0 {
		t.Fatalf("failed transaction must leave no writes, got %d animals", len(animals))
	}
}

func TestTransactionStateInvisibleUntilCommit(t *testing.T) {
	store := memory.NewStore(domain.NewRulesEngine())

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		created, err := tx.CreateAnimal(domain.Animal{Name: "Rex"})
		if err != nil {
			return err
		}
		// the committed view must not see the uncommitted write
		if _, ok := store.GetAnimal(created.ID); ok {
			t.Fatalf("uncommitted animal visible in committed state")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if animals := store.ListAnimals(); len(animals) != 1 {
		t.Fatalf("expected one committed animal, got %d", len(animals))
	}
}

func TestTimestampsUseInjectedClock(t *testing.T) {
	store := memory.NewStore(domain.NewRulesEngine())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })

	var animal domain.Animal
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		animal, err = tx.CreateAnimal(domain.Animal{Name: "Rex"})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !animal.CreatedAt.Equal(fixed) || !animal.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected injected timestamps, got %+v", animal.Base)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := memory.NewStore(domain.NewRulesEngine())

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		animal, err := tx.CreateAnimal(domain.Animal{Name: "Rex", Available: true})
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

	snapshot := store.ExportState()
	restored := memory.NewStore(domain.NewRulesEngine())
	restored.ImportState(snapshot)

	if got, want := len(restored.ListAnimals()), 1; got != want {
		t.Fatalf("animals after import: got %d want %d", got, want)
	}
	if got, want := len(restored.ListAdopters()), 1; got != want {
		t.Fatalf("adopters after import: got %d want %d", got, want)
	}
	if got, want := len(restored.ListApplications()), 1; got != want {
		t.Fatalf("applications after import: got %d want %d", got, want)
	}
}

func TestImportStateDropsOrphanApplications(t *testing.T) {
	store := memory.NewStore(domain.NewRulesEngine())

	snapshot := memory.Snapshot{
		Applications: map[string]domain.Application{"app-1": {
			Base:      domain.Base{ID: "app-1"},
			AnimalID:  "no-such-animal",
			AdopterID: "no-such-adopter",
			Status:    domain.StatusPending,
		}},
	}
	store.ImportState(snapshot)

	if apps := store.ListApplications(); len(apps) != 0 {
		t.Fatalf("orphan applications must be dropped on import, got %d", len(apps))
	}
}

func TestViewSeesCommittedState(t *testing.T) {
	store := memory.NewStore(domain.NewRulesEngine())

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateAnimal(domain.Animal{Name: "Rex"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.View(context.Background(), func(view domain.TransactionView) error {
		if got := len(view.ListAnimals()); got != 1 {
			t.Fatalf("expected one animal in view, got %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
