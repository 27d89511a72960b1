package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/logging"
)

// Supervisor errors
var (
	ErrAlreadyRunning = errors.New("strategy runner already exists")
	ErrRunnerCapacity = errors.New("runner capacity reached")
)

// Supervisor owns the set of live runners. Start refuses duplicates and
// enforces the configured cap; runners remove themselves when their strategy
// stops.
type Supervisor struct {
	deps   Deps
	logger *logging.Logger

	mu      sync.Mutex
	runners map[int64]*Runner
}

// NewSupervisor creates a supervisor.
func NewSupervisor(deps Deps) *Supervisor {
	return &Supervisor{
		deps:    deps,
		logger:  logging.WithComponent("supervisor"),
		runners: make(map[int64]*Runner),
	}
}

// Start launches a runner for the strategy and flips its status to running.
func (s *Supervisor) Start(ctx context.Context, strategyID int64) error {
	strategy, err := s.deps.Repo.GetStrategy(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("strategy %d: %w", strategyID, err)
	}

	s.mu.Lock()
	if _, exists := s.runners[strategyID]; exists {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	maxRunners := s.deps.Engine.MaxRunners
	if maxRunners > 0 && len(s.runners) >= maxRunners {
		s.mu.Unlock()
		return fmt.Errorf("%w (%d)", ErrRunnerCapacity, maxRunners)
	}
	r := newRunner(s.deps, strategyID)
	s.runners[strategyID] = r
	s.mu.Unlock()

	if strategy.Status != database.StrategyStatusRunning {
		if err := s.deps.Repo.UpdateStrategyStatus(ctx, strategyID, database.StrategyStatusRunning); err != nil {
			s.mu.Lock()
			delete(s.runners, strategyID)
			s.mu.Unlock()
			return err
		}
	}

	go func() {
		r.Run(ctx)
		s.mu.Lock()
		delete(s.runners, strategyID)
		s.mu.Unlock()
	}()

	s.logger.Info("Runner started", "strategy_id", strategyID, "name", strategy.StrategyName)
	return nil
}

// Stop flips the persisted status; the runner observes it at the top of its
// next tick and exits within one cadence.
func (s *Supervisor) Stop(ctx context.Context, strategyID int64) error {
	if err := s.deps.Repo.UpdateStrategyStatus(ctx, strategyID, database.StrategyStatusStopped); err != nil {
		return err
	}
	s.logger.Info("Runner stop requested", "strategy_id", strategyID)
	return nil
}

// IsRunning reports whether a runner is live for the strategy.
func (s *Supervisor) IsRunning(strategyID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runners[strategyID]
	return ok
}

// Count returns the number of live runners.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runners)
}

// StartPersisted launches runners for every strategy whose persisted status
// is running; used at boot when auto-start is enabled.
func (s *Supervisor) StartPersisted(ctx context.Context) error {
	strategies, err := s.deps.Repo.ListRunningStrategies(ctx)
	if err != nil {
		return err
	}
	for _, st := range strategies {
		if err := s.Start(ctx, st.ID); err != nil {
			s.logger.Warn("Failed to resume strategy", "strategy_id", st.ID, "error", err)
		}
	}
	return nil
}
