package strategy

import (
	"context"
	"log/slog"
	"time"

	"alphaengine-core/internal/marketdata"
	"alphaengine-core/pkg/types"
)

// Projector is the read-side query surface ContextBuilder needs. Declared
// locally (as risk.Projector is) so this package doesn't depend on however
// the projection is actually maintained.
type Projector interface {
	Position(ctx context.Context, scope types.Scope) (types.Position, bool, error)
	Balances(ctx context.Context, scope types.Scope) ([]types.Balance, error)
	OpenOrders(ctx context.Context, scope types.Scope) ([]types.OpenOrder, error)
}

// ContextBuilder assembles a fresh TickContext for every tick and event
// callback. Each sub-fetch degrades to a safe zero value on failure, logged
// as a warning, rather than failing the whole build — a strategy should
// never crash because one projection query hiccuped.
type ContextBuilder struct {
	Scope      types.Scope
	Projector  Projector
	MarketData *marketdata.Provider
	Timeframe  string
	Limit      int
	logger     *slog.Logger
}

// NewContextBuilder builds a ContextBuilder scoped to one symbol.
func NewContextBuilder(scope types.Scope, projector Projector, md *marketdata.Provider, timeframe string, limit int, logger *slog.Logger) *ContextBuilder {
	if limit <= 0 {
		limit = 100
	}
	return &ContextBuilder{
		Scope:      scope,
		Projector:  projector,
		MarketData: md,
		Timeframe:  timeframe,
		Limit:      limit,
		logger:     logger.With("component", "strategy_context_builder"),
	}
}

// Build assembles a TickContext against the current projection and market
// data state.
func (b *ContextBuilder) Build(ctx context.Context, engineMode types.EngineMode, state map[string]any, riskConfig map[string]any) *TickContext {
	tc := &TickContext{
		Scope:      b.Scope,
		Now:        time.Now().UTC(),
		Balances:   map[string]types.Balance{},
		State:      state,
		EngineMode: engineMode,
		RiskConfig: riskConfig,
		MarketData: b.MarketData,
	}

	if b.Projector != nil {
		if pos, ok, err := b.Projector.Position(ctx, b.Scope); err != nil {
			b.logger.Warn("failed to fetch position", "error", err)
		} else {
			tc.Position, tc.HasPosition = pos, ok
		}

		if balances, err := b.Projector.Balances(ctx, b.Scope); err != nil {
			b.logger.Warn("failed to fetch balances", "error", err)
		} else {
			for _, bal := range balances {
				tc.Balances[bal.Asset] = bal
			}
		}

		if orders, err := b.Projector.OpenOrders(ctx, b.Scope); err != nil {
			b.logger.Warn("failed to fetch open orders", "error", err)
		} else {
			tc.OpenOrders = orders
		}
	}

	if b.MarketData != nil && b.Scope.Symbol != "" {
		tc.OHLCV = b.MarketData.GetOHLCV(ctx, b.Scope.Symbol, b.Timeframe, b.Limit)
		if price, ok := b.MarketData.GetCurrentPrice(ctx, b.Scope.Symbol); ok {
			tc.CurrentPrice, tc.HasCurrentPrice = price, true
		}
	}

	return tc
}
