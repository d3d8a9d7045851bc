package core

import "sheltercore/pkg/domain"

type (
	Rule            = domain.Rule
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in adoption
// lifecycle policy set. The coordinator enforces these invariants up front;
// the rules re-verify them over the full transactional state at commit so
// no writer path can slip a violating state into storage.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(ApplicationTransitionRule())
	engine.Register(SingleApprovalRule())
	engine.Register(DuplicateApplicationRule())
	engine.Register(AvailabilityConsistencyRule())
	return engine
}
