package worker

import (
	"context"
	"math"
	"time"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/exchange"
	"quantdinger-engine/internal/logging"
	"quantdinger-engine/internal/market"
)

// driftThreshold: size divergence below 1% is left alone.
const driftThreshold = 0.01

// ghostEpsilon: venue sizes at or below this count as flat.
const ghostEpsilon = 1e-8

// sizeDrift measures relative divergence between venue and local sizes. The
// denominator floors at one unit so sub-unit positions are not rewritten over
// dust-level differences.
func sizeDrift(venueSize, localSize float64) float64 {
	return math.Abs(venueSize-localSize) / math.Max(1, localSize)
}

// Reconciler periodically compares local futures positions of live-mode
// strategies against the venue and corrects drift. It deletes ghosts and
// shrinks or grows rows toward the venue size; it never creates rows, and it
// skips spot entirely since spot balances are not per-strategy.
type Reconciler struct {
	repo    *database.Repository
	factory *exchange.Factory
	cfg     config.SyncConfig
	logger  *logging.Logger
}

// NewReconciler creates a position reconciler.
func NewReconciler(repo *database.Repository, factory *exchange.Factory, cfg config.SyncConfig) *Reconciler {
	return &Reconciler{
		repo:    repo,
		factory: factory,
		cfg:     cfg,
		logger:  logging.WithComponent("reconciler"),
	}
}

// Run loops until the context is cancelled.
func (rc *Reconciler) Run(ctx context.Context) {
	interval := rc.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rc.logger.Info("Position reconciler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			rc.logger.Info("Position reconciler stopped")
			return
		case <-ticker.C:
			rc.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce runs a single sweep over all running live-mode strategies.
func (rc *Reconciler) ReconcileOnce(ctx context.Context) {
	strategies, err := rc.repo.ListRunningStrategies(ctx)
	if err != nil {
		rc.logger.Warn("Reconcile list failed", "error", err)
		return
	}

	// One venue snapshot per (user, exchange) pair per sweep.
	snapshots := make(map[string]map[string]exchange.PositionSnapshot)

	for _, st := range strategies {
		if st.ExecutionMode != database.ExecutionModeLive {
			continue
		}
		if st.MarketType() != database.MarketTypeSwap {
			continue
		}
		exchangeID := st.ExchangeConfig.Str("exchange_id", "")
		if exchangeID == "" {
			continue
		}
		if err := rc.reconcileStrategy(ctx, st, exchangeID, snapshots); err != nil {
			rc.logger.Warn("Reconcile skipped",
				"strategy_id", st.ID, "exchange", exchangeID, "error", err)
		}
	}
}

func (rc *Reconciler) reconcileStrategy(ctx context.Context, st *database.Strategy, exchangeID string, snapshots map[string]map[string]exchange.PositionSnapshot) error {
	key := st.UserID + ":" + exchangeID
	snap, ok := snapshots[key]
	if !ok {
		client, err := rc.factory.ClientFor(ctx, parseUserID(st.UserID), exchangeID)
		if err != nil {
			return err
		}
		positions, err := client.GetPositions(ctx, database.MarketTypeSwap)
		if err != nil {
			return err
		}
		snap = make(map[string]exchange.PositionSnapshot, len(positions))
		for _, p := range positions {
			snap[market.NormalizeSymbol(p.Symbol)] = p
		}
		snapshots[key] = snap
	}

	local, err := rc.repo.GetPositions(ctx, st.ID)
	if err != nil {
		return err
	}

	for _, pos := range local {
		symbol := market.NormalizeSymbol(pos.Symbol)
		venue := snap[symbol]
		venueSize := venue.Long
		if pos.Side == database.SideShort {
			venueSize = venue.Short
		}

		if venueSize <= ghostEpsilon {
			// Ghost: the venue is flat but the engine still carries a row.
			if err := rc.repo.DeletePosition(ctx, st.ID, pos.Symbol, pos.Side); err != nil {
				rc.logger.Warn("Ghost delete failed",
					"strategy_id", st.ID, "symbol", pos.Symbol, "side", pos.Side, "error", err)
				continue
			}
			rc.logger.Info("Deleted ghost position",
				"strategy_id", st.ID, "symbol", pos.Symbol, "side", pos.Side, "local_size", pos.Size)
			continue
		}

		if sizeDrift(venueSize, pos.Size) <= driftThreshold {
			continue
		}
		if err := rc.repo.UpdatePositionSize(ctx, st.ID, pos.Symbol, pos.Side, venueSize); err != nil {
			rc.logger.Warn("Drift correction failed",
				"strategy_id", st.ID, "symbol", pos.Symbol, "side", pos.Side, "error", err)
			continue
		}
		rc.logger.Info("Corrected position drift",
			"strategy_id", st.ID, "symbol", pos.Symbol, "side", pos.Side,
			"local_size", pos.Size, "venue_size", venueSize)
	}
	return nil
}
