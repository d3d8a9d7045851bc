// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments. All transactions serialize
// on a single store lock, so a transition observes every previously committed
// transition before it runs.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"sheltercore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Animal aliases domain.Animal for in-memory persistence operations.
	Animal = domain.Animal
	// Adopter aliases domain.Adopter.
	Adopter = domain.Adopter
	// Application aliases domain.Application.
	Application = domain.Application
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	animals      map[string]Animal
	adopters     map[string]Adopter
	applications map[string]Application
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Animals      map[string]Animal      `json:"animals"`
	Adopters     map[string]Adopter     `json:"adopters"`
	Applications map[string]Application `json:"applications"`
}

func newMemoryState() memoryState {
	return memoryState{
		animals:      make(map[string]Animal),
		adopters:     make(map[string]Adopter),
		applications: make(map[string]Application),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Animals:      make(map[string]Animal, len(state.animals)),
		Adopters:     make(map[string]Adopter, len(state.adopters)),
		Applications: make(map[string]Application, len(state.applications)),
	}
	for k, v := range state.animals {
		s.Animals[k] = cloneAnimal(v)
	}
	for k, v := range state.adopters {
		s.Adopters[k] = cloneAdopter(v)
	}
	for k, v := range state.applications {
		s.Applications[k] = cloneApplication(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Animals {
		state.animals[k] = cloneAnimal(v)
	}
	for k, v := range s.Adopters {
		state.adopters[k] = cloneAdopter(v)
	}
	for k, v := range s.Applications {
		state.applications[k] = cloneApplication(v)
	}
	return state
}

// migrateSnapshot normalizes snapshots loaded from durable backends: nil
// buckets become empty maps and applications whose animal or adopter no
// longer exists are dropped.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Animals == nil {
		snapshot.Animals = map[string]Animal{}
	}
	if snapshot.Adopters == nil {
		snapshot.Adopters = map[string]Adopter{}
	}
	if snapshot.Applications == nil {
		snapshot.Applications = map[string]Application{}
	}

	for id, app := range snapshot.Applications {
		if _, ok := snapshot.Animals[app.AnimalID]; !ok {
			delete(snapshot.Applications, id)
			continue
		}
		if _, ok := snapshot.Adopters[app.AdopterID]; !ok {
			delete(snapshot.Applications, id)
			continue
		}
		if !app.Status.Valid() {
			app.Status = domain.StatusPending
		}
		snapshot.Applications[id] = app
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.animals {
		cloned.animals[k] = cloneAnimal(v)
	}
	for k, v := range s.adopters {
		cloned.adopters[k] = cloneAdopter(v)
	}
	for k, v := range s.applications {
		cloned.applications[k] = cloneApplication(v)
	}
	return cloned
}

func cloneAnimal(a Animal) Animal {
	cp := a
	if a.BirthDate != nil {
		t := *a.BirthDate
		cp.BirthDate = &t
	}
	return cp
}

func cloneAdopter(a Adopter) Adopter { return a }

func cloneApplication(a Application) Application {
	cp := a
	if a.ReviewedBy != nil {
		v := *a.ReviewedBy
		cp.ReviewedBy = &v
	}
	if a.ReviewedAt != nil {
		t := *a.ReviewedAt
		cp.ReviewedAt = &t
	}
	if a.AdminNotes != nil {
		v := *a.AdminNotes
		cp.AdminNotes = &v
	}
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the transaction time provider; intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListAnimals returns all animals within the snapshot, ordered by ID.
func (v transactionView) ListAnimals() []Animal {
	out := make([]Animal, 0, len(v.state.animals))
	for _, a := range v.state.animals {
		out = append(out, cloneAnimal(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAdopters returns all adopters within the snapshot, ordered by ID.
func (v transactionView) ListAdopters() []Adopter {
	out := make([]Adopter, 0, len(v.state.adopters))
	for _, a := range v.state.adopters {
		out = append(out, cloneAdopter(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListApplications returns all applications within the snapshot, ordered by ID.
func (v transactionView) ListApplications() []Application {
	out := make([]Application, 0, len(v.state.applications))
	for _, a := range v.state.applications {
		out = append(out, cloneApplication(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindAnimal retrieves an animal by ID from the snapshot.
func (v transactionView) FindAnimal(id string) (Animal, bool) {
	a, ok := v.state.animals[id]
	if !ok {
		return Animal{}, false
	}
	return cloneAnimal(a), true
}

// FindAdopter retrieves an adopter by ID from the snapshot.
func (v transactionView) FindAdopter(id string) (Adopter, bool) {
	a, ok := v.state.adopters[id]
	if !ok {
		return Adopter{}, false
	}
	return cloneAdopter(a), true
}

// FindApplication retrieves an application by ID from the snapshot.
func (v transactionView) FindApplication(id string) (Application, bool) {
	a, ok := v.state.applications[id]
	if !ok {
		return Application{}, false
	}
	return cloneApplication(a), true
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The store lock is held for the duration, so concurrent transitions
// on the same animal serialize and the loser observes the winner's commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindAnimal exposes animal lookup within the transaction scope.
func (tx *transaction) FindAnimal(id string) (Animal, bool) {
	a, ok := tx.state.animals[id]
	if !ok {
		return Animal{}, false
	}
	return cloneAnimal(a), true
}

// FindAdopter exposes adopter lookup within the transaction scope.
func (tx *transaction) FindAdopter(id string) (Adopter, bool) {
	a, ok := tx.state.adopters[id]
	if !ok {
		return Adopter{}, false
	}
	return cloneAdopter(a), true
}

// FindApplication exposes application lookup within the transaction scope.
func (tx *transaction) FindApplication(id string) (Application, bool) {
	a, ok := tx.state.applications[id]
	if !ok {
		return Application{}, false
	}
	return cloneApplication(a), true
}

// ApplicationsForAnimal returns every application referencing the animal,
// ordered by ID for deterministic cascades.
func (tx *transaction) ApplicationsForAnimal(animalID string) []Application {
	var out []Application
	for _, app := range tx.state.applications {
		if app.AnimalID == animalID {
			out = append(out, cloneApplication(app))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateAnimal stores a new animal within the transaction.
func (tx *transaction) CreateAnimal(a Animal) (Animal, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.animals[a.ID]; exists {
		return Animal{}, fmt.Errorf("animal %q already exists", a.ID)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.animals[a.ID] = cloneAnimal(a)
	tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionCreate, After: cloneAnimal(a)})
	return cloneAnimal(a), nil
}

// UpdateAnimal mutates an animal using the provided mutator function.
func (tx *transaction) UpdateAnimal(id string, mutator func(*Animal) error) (Animal, error) {
	current, ok := tx.state.animals[id]
	if !ok {
		return Animal{}, domain.NotFoundError{Entity: domain.EntityAnimal, ID: id}
	}
	before := cloneAnimal(current)
	if err := mutator(&current); err != nil {
		return Animal{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.animals[id] = cloneAnimal(current)
	tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: before, After: cloneAnimal(current)})
	return cloneAnimal(current), nil
}

// DeleteAnimal removes an animal from the transaction state. Animals with
// applications on record cannot be removed.
func (tx *transaction) DeleteAnimal(id string) error {
	current, ok := tx.state.animals[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityAnimal, ID: id}
	}
	for _, app := range tx.state.applications {
		if app.AnimalID == id {
			return domain.ConflictError{Entity: domain.EntityAnimal, ID: id, Reason: "animal still has applications on record"}
		}
	}
	delete(tx.state.animals, id)
	tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionDelete, Before: cloneAnimal(current)})
	return nil
}

// CreateAdopter stores a new adopter.
func (tx *transaction) CreateAdopter(a Adopter) (Adopter, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.adopters[a.ID]; exists {
		return Adopter{}, fmt.Errorf("adopter %q already exists", a.ID)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.adopters[a.ID] = cloneAdopter(a)
	tx.recordChange(Change{Entity: domain.EntityAdopter, Action: domain.ActionCreate, After: cloneAdopter(a)})
	return cloneAdopter(a), nil
}

// UpdateAdopter mutates an adopter using the provided mutator function.
func (tx *transaction) UpdateAdopter(id string, mutator func(*Adopter) error) (Adopter, error) {
	current, ok := tx.state.adopters[id]
	if !ok {
		return Adopter{}, domain.NotFoundError{Entity: domain.EntityAdopter, ID: id}
	}
	before := cloneAdopter(current)
	if err := mutator(&current); err != nil {
		return Adopter{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.adopters[id] = cloneAdopter(current)
	tx.recordChange(Change{Entity: domain.EntityAdopter, Action: domain.ActionUpdate, Before: before, After: cloneAdopter(current)})
	return cloneAdopter(current), nil
}

// CreateApplication stores a new application. Applications enter in pending
// unless the caller sets a valid status explicitly.
func (tx *transaction) CreateApplication(a Application) (Application, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.applications[a.ID]; exists {
		return Application{}, fmt.Errorf("application %q already exists", a.ID)
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}
	if !a.Status.Valid() {
		return Application{}, fmt.Errorf("application status %q invalid", a.Status)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.applications[a.ID] = cloneApplication(a)
	tx.recordChange(Change{Entity: domain.EntityApplication, Action: domain.ActionCreate, After: cloneApplication(a)})
	return cloneApplication(a), nil
}

// UpdateApplication mutates an application using the provided mutator. The
// transition rule set decides at commit whether the mutation was legal.
func (tx *transaction) UpdateApplication(id string, mutator func(*Application) error) (Application, error) {
	current, ok := tx.state.applications[id]
	if !ok {
		return Application{}, domain.NotFoundError{Entity: domain.EntityApplication, ID: id}
	}
	before := cloneApplication(current)
	if err := mutator(&current); err != nil {
		return Application{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.applications[id] = cloneApplication(current)
	tx.recordChange(Change{Entity: domain.EntityApplication, Action: domain.ActionUpdate, Before: before, After: cloneApplication(current)})
	return cloneApplication(current), nil
}

// GetAnimal retrieves an animal from committed state.
func (s *Store) GetAnimal(id string) (Animal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.animals[id]
	if !ok {
		return Animal{}, false
	}
	return cloneAnimal(a), true
}

// GetAdopter retrieves an adopter from committed state.
func (s *Store) GetAdopter(id string) (Adopter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.adopters[id]
	if !ok {
		return Adopter{}, false
	}
	return cloneAdopter(a), true
}

// GetApplication retrieves an application from committed state.
func (s *Store) GetApplication(id string) (Application, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.applications[id]
	if !ok {
		return Application{}, false
	}
	return cloneApplication(a), true
}

// ListAnimals lists committed animals ordered by ID.
func (s *Store) ListAnimals() []Animal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAnimals()
}

// ListAdopters lists committed adopters ordered by ID.
func (s *Store) ListAdopters() []Adopter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAdopters()
}

// ListApplications lists committed applications ordered by ID.
func (s *Store) ListApplications() []Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListApplications()
}
