package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// reconciliationInterval is how often daily reconciliation actually runs;
// DoPoll is gated on it separately from the poller's own 1-hour condition
// check cadence.
const reconciliationInterval = 24 * time.Hour

// Reconciler is the subset of recovery.OpeningReconciler this poller needs;
// declared here so the poller package doesn't import recovery (recovery
// already imports poller to reuse the family pollers for backfill, and Go
// forbids the cycle). It returns only the adjusted count: this poller
// reports a count the same way every other poller does, and leaves the
// per-asset detail to whatever logs the reconciler's own events.
type Reconciler interface {
	Reconcile(ctx context.Context, ledgerBalances map[types.Venue]map[string]decimal.Decimal) (adjustedCount int, err error)
}

// LedgerBalanceGetter returns the ledger's own computed view of current
// balances, keyed by venue, the way a replay of the event log would compute
// it.
type LedgerBalanceGetter func(ctx context.Context) (map[types.Venue]map[string]decimal.Decimal, error)

// Reconciliation triggers a daily ledger-vs-exchange balance reconciliation,
// but only when the target symbol has no open position — reconciling while
// a position is open would misattribute unrealized P&L as balance drift.
type Reconciliation struct {
	*Base
	Reconciler        Reconciler
	LedgerBalances    LedgerBalanceGetter
	HasOpenPosition   func(ctx context.Context) (bool, error)
	TargetSymbol      string
	lastReconcileTime time.Time
	logger            *slog.Logger
}

// NewReconciliation builds a Reconciliation poller. targetSymbol is the
// contract checked for an open position before reconciling (typically the
// strategy's primary trading pair).
func NewReconciliation(client *exchange.Client, reconciler Reconciler, ledgerBalances LedgerBalanceGetter, configs *store.ConfigStore, targetSymbol string, logger *slog.Logger) *Reconciliation {
	r := &Reconciliation{
		Base:           &Base{PollerName: "reconciliation", Configs: configs},
		Reconciler:     reconciler,
		LedgerBalances: ledgerBalances,
		TargetSymbol:   targetSymbol,
		logger:         logger.With("component", "reconciliation_poller"),
	}
	r.HasOpenPosition = func(ctx context.Context) (bool, error) {
		positions, err := client.Positions(ctx)
		if err != nil {
			return false, err
		}
		for _, pos := range positions {
			if pos.Symbol == r.TargetSymbol && !pos.Qty.IsZero() {
				return true, nil
			}
		}
		return false, nil
	}
	return r
}

func (p *Reconciliation) Name() string { return "reconciliation" }

// DoPoll checks whether 24 hours have elapsed since the last reconciliation
// and, if the target symbol has no open position, runs one.
func (p *Reconciliation) DoPoll(ctx context.Context, _ time.Time) (int, error) {
	if !p.shouldReconcile() {
		return 0, nil
	}

	hasPosition, err := p.HasOpenPosition(ctx)
	if err != nil {
		p.logger.Warn("position check failed, assuming a position is open", "error", err)
		return 0, nil
	}
	if hasPosition {
		p.logger.Info("skipping reconciliation, target symbol has an open position", "symbol", p.TargetSymbol)
		return 0, nil
	}

	ledgerBalances, err := p.LedgerBalances(ctx)
	if err != nil {
		return 0, err
	}

	adjustedCount, err := p.Reconciler.Reconcile(ctx, ledgerBalances)
	if err != nil {
		return 0, err
	}

	p.lastReconcileTime = time.Now().UTC()
	return adjustedCount, nil
}

func (p *Reconciliation) shouldReconcile() bool {
	if p.lastReconcileTime.IsZero() {
		return true
	}
	return time.Since(p.lastReconcileTime) >= reconciliationInterval
}
