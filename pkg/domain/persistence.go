package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Mutations are visible to later reads
// in the same transaction and discarded entirely on rollback.
type Transaction interface {
	Snapshot() TransactionView
	CreateAnimal(Animal) (Animal, error)
	UpdateAnimal(id string, mutator func(*Animal) error) (Animal, error)
	DeleteAnimal(id string) error
	CreateAdopter(Adopter) (Adopter, error)
	UpdateAdopter(id string, mutator func(*Adopter) error) (Adopter, error)
	CreateApplication(Application) (Application, error)
	UpdateApplication(id string, mutator func(*Application) error) (Application, error)
	FindAnimal(id string) (Animal, bool)
	FindAdopter(id string) (Adopter, bool)
	FindApplication(id string) (Application, bool)
	ApplicationsForAnimal(animalID string) []Application
}

// TransactionView provides read-only access to snapshot data for rules and
// reporting reads.
type TransactionView interface {
	ListAnimals() []Animal
	ListAdopters() []Adopter
	ListApplications() []Application
	FindAnimal(id string) (Animal, bool)
	FindAdopter(id string) (Adopter, bool)
	FindApplication(id string) (Application, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetAnimal(id string) (Animal, bool)
	GetAdopter(id string) (Adopter, bool)
	GetApplication(id string) (Application, bool)
	ListAnimals() []Animal
	ListAdopters() []Adopter
	ListApplications() []Application
}
