package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProjector struct {
	position    types.Position
	hasPosition bool
	positionErr error
	balances    []types.Balance
	balancesErr error
	openOrders  []types.OpenOrder
	openOrdersErr error
}

func (p *fakeProjector) Position(ctx context.Context, scope types.Scope) (types.Position, bool, error) {
	return p.position, p.hasPosition, p.positionErr
}

func (p *fakeProjector) Balances(ctx context.Context, scope types.Scope) ([]types.Balance, error) {
	return p.balances, p.balancesErr
}

func (p *fakeProjector) OpenOrders(ctx context.Context, scope types.Scope) ([]types.OpenOrder, error) {
	return p.openOrders, p.openOrdersErr
}

func TestContextBuilderAssemblesFullContext(t *testing.T) {
	t.Parallel()

	scope := types.Scope{Exchange: "BINANCE", Venue: types.VenueFutures, Symbol: "XRPUSDT"}
	projector := &fakeProjector{
		position:    types.Position{Symbol: "XRPUSDT", Side: types.PositionLong, Qty: decimal.NewFromInt(10)},
		hasPosition: true,
		balances:    []types.Balance{{Asset: "USDT", Free: decimal.NewFromInt(500)}},
		openOrders:  []types.OpenOrder{{ExchangeOrderID: "1"}},
	}

	b := NewContextBuilder(scope, projector, nil, "5m", 50, testLogger())
	tc := b.Build(context.Background(), types.ModeRunning, map[string]any{}, map[string]any{})

	if !tc.HasPosition || tc.Position.Qty.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Errorf("expected position to be populated, got %+v", tc.Position)
	}
	if tc.Balance("USDT").Free.Cmp(decimal.NewFromInt(500)) != 0 {
		t.Errorf("expected USDT balance 500, got %s", tc.Balance("USDT").Free)
	}
	if !tc.HasOpenOrders() {
		t.Error("expected HasOpenOrders() to be true")
	}
	if !tc.CanTrade() {
		t.Error("expected CanTrade() to be true in RUNNING mode")
	}
}

func TestContextBuilderDegradesSafelyOnProjectorErrors(t *testing.T) {
	t.Parallel()

	scope := types.Scope{Exchange: "BINANCE", Venue: types.VenueFutures, Symbol: "XRPUSDT"}
	projector := &fakeProjector{
		positionErr:   errors.New("boom"),
		balancesErr:   errors.New("boom"),
		openOrdersErr: errors.New("boom"),
	}

	b := NewContextBuilder(scope, projector, nil, "5m", 50, testLogger())
	tc := b.Build(context.Background(), types.ModeSafe, nil, nil)

	if tc.HasPosition {
		t.Error("expected HasPosition=false on projector error")
	}
	if len(tc.Balances) != 0 {
		t.Error("expected empty balances on projector error")
	}
	if tc.HasOpenOrders() {
		t.Error("expected no open orders on projector error")
	}
	if !tc.CloseOnly() {
		t.Error("expected CloseOnly() to be true in SAFE mode")
	}
}

func TestTickContextRiskDefaults(t *testing.T) {
	t.Parallel()

	tc := &TickContext{}
	if got, want := tc.RiskPerTrade(), decimal.RequireFromString("0.02"); !got.Equal(want) {
		t.Errorf("RiskPerTrade() = %s, want %s", got, want)
	}
	if got, want := tc.RewardRatio(), decimal.RequireFromString("1.5"); !got.Equal(want) {
		t.Errorf("RewardRatio() = %s, want %s", got, want)
	}
	if got := tc.EquityResetTrades(); got != 50 {
		t.Errorf("EquityResetTrades() = %d, want 50", got)
	}
}

func TestTickContextRiskConfigOverrides(t *testing.T) {
	t.Parallel()

	tc := &TickContext{RiskConfig: map[string]any{"risk_per_trade": "0.05", "equity_reset_trades": 25}}
	if got, want := tc.RiskPerTrade(), decimal.RequireFromString("0.05"); !got.Equal(want) {
		t.Errorf("RiskPerTrade() = %s, want %s", got, want)
	}
	if got := tc.EquityResetTrades(); got != 25 {
		t.Errorf("EquityResetTrades() = %d, want 25", got)
	}
}
