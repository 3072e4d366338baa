package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// PnLCalculator sums the realized_pnl payload field of today's TradeExecuted
// events for a scope, used by DailyLossLimitRule to gate new orders against
// the daily loss limit.
type PnLCalculator struct {
	Events *store.EventStore
}

// NewPnLCalculator builds a PnLCalculator backed by events.
func NewPnLCalculator(events *store.EventStore) *PnLCalculator {
	return &PnLCalculator{Events: events}
}

// DailyPnL returns the sum of realized_pnl across today's (00:00 UTC to now)
// TradeExecuted events matching scope, ignoring account/venue/exchange/mode/
// symbol mismatches and malformed realized_pnl values rather than failing —
// a corrupt payload should never block every other risk check.
func (c *PnLCalculator) DailyPnL(ctx context.Context, scope types.Scope) (decimal.Decimal, error) {
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	events, err := c.Events.GetByType(ctx, types.EvtTradeExecuted, todayStart)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, e := range events {
		if !scopeMatches(e.Scope, scope) {
			continue
		}
		raw, ok := e.Payload["realized_pnl"]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		pnl, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		total = total.Add(pnl)
	}
	return total, nil
}

func scopeMatches(a, b types.Scope) bool {
	if a.Exchange != b.Exchange || a.Venue != b.Venue || a.Account != b.Account || a.Mode != b.Mode {
		return false
	}
	if b.Symbol != "" && a.Symbol != b.Symbol {
		return false
	}
	return true
}
