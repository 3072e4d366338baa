package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/internal/marketdata"
	"alphaengine-core/pkg/types"
)

// TickContext is the read-only view a strategy sees on every tick or event
// callback. Its only mutation vectors are the State map and the command
// emitter passed alongside it.
type TickContext struct {
	Scope types.Scope
	Now   time.Time

	Position    types.Position
	HasPosition bool
	Balances    map[string]types.Balance
	OpenOrders  []types.OpenOrder

	OHLCV           []types.Bar
	CurrentPrice    decimal.Decimal
	HasCurrentPrice bool
	MarketData      *marketdata.Provider

	State      map[string]any
	EngineMode types.EngineMode
	RiskConfig map[string]any
}

// Symbol is a shorthand for Scope.Symbol.
func (c *TickContext) Symbol() string { return c.Scope.Symbol }

// Balance looks up a balance by asset, returning the zero value if absent.
func (c *TickContext) Balance(asset string) types.Balance { return c.Balances[asset] }

// HasOpenOrders reports whether any order is currently resting.
func (c *TickContext) HasOpenOrders() bool { return len(c.OpenOrders) > 0 }

// CanTrade reports whether the engine mode allows new orders.
func (c *TickContext) CanTrade() bool { return c.EngineMode == types.ModeRunning }

// CloseOnly reports whether the engine mode restricts the strategy to
// reduce-only activity.
func (c *TickContext) CloseOnly() bool { return c.EngineMode == types.ModeSafe }

// RiskPerTrade is the configured fraction of account equity risked per
// trade, defaulting to 2%.
func (c *TickContext) RiskPerTrade() decimal.Decimal {
	return configDecimalDefault(c.RiskConfig, "risk_per_trade", "0.02")
}

// RewardRatio is the configured reward:risk multiple, defaulting to 1.5.
func (c *TickContext) RewardRatio() decimal.Decimal {
	return configDecimalDefault(c.RiskConfig, "reward_ratio", "1.5")
}

// PartialTPRatio is the configured fraction of a position closed at the
// first take-profit target, defaulting to 50%.
func (c *TickContext) PartialTPRatio() decimal.Decimal {
	return configDecimalDefault(c.RiskConfig, "partial_tp_ratio", "0.5")
}

// EquityResetTrades is the trade count between account-equity reassessments,
// defaulting to 50.
func (c *TickContext) EquityResetTrades() int {
	if c.RiskConfig == nil {
		return 50
	}
	switch v := c.RiskConfig["equity_reset_trades"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 50
	}
}

// GetBars pulls an on-demand frame at a timeframe other than the context's
// primary one, e.g. a higher timeframe trend filter. Returns nil if no
// market-data provider is wired or the symbol is empty.
func (c *TickContext) GetBars(ctx context.Context, timeframe string, limit int) []types.Bar {
	if c.MarketData == nil || c.Scope.Symbol == "" {
		return nil
	}
	return c.MarketData.GetBars(ctx, c.Scope.Symbol, timeframe, limit)
}

func configDecimalDefault(cfg map[string]any, key, def string) decimal.Decimal {
	fallback, _ := decimal.NewFromString(def)
	if cfg == nil {
		return fallback
	}
	switch v := cfg[key].(type) {
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case decimal.Decimal:
		return v
	case float64:
		return decimal.NewFromFloat(v)
	}
	return fallback
}

// PlaceOrderRequest is the argument to CommandEmitter.PlaceOrder. Price and
// StopPrice are omitted from the resulting command payload when zero.
type PlaceOrderRequest struct {
	Side         types.Side
	OrderType    types.OrderType
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	StopPrice    decimal.Decimal
	TimeInForce  types.TimeInForce
	ReduceOnly   bool
	PositionSide types.PositionSide
}

// CommandEmitter is the restricted command-emission surface available to a
// strategy. Only PlaceOrder passes through the risk guard; the others
// mirror the source's emitter.py, which never risk-checks a cancellation or
// a close. A rejected or no-op emission returns an empty command id and a
// nil error.
type CommandEmitter interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error)
	CancelOrder(ctx context.Context, exchangeOrderID, clientOrderID string) (string, error)
	ClosePosition(ctx context.Context, reduceOnly bool) (string, error)
	CancelAllOrders(ctx context.Context) (string, error)
}

// Strategy is the plug-in interface every strategy implements. OnTrade and
// OnOrderUpdate are not part of this interface: a strategy that wants those
// callbacks implements TradeCallback and/or OrderCallback separately, and
// the runner type-asserts for them (the Go analogue of the source's optional
// duck-typed callbacks).
type Strategy interface {
	Name() string
	Version() string
	Description() string
	DefaultParams() map[string]any

	OnInit(ctx context.Context, params map[string]any) error
	OnStart(ctx context.Context, tc *TickContext) error
	OnTick(ctx context.Context, tc *TickContext, emit CommandEmitter) error
	OnStop(ctx context.Context, tc *TickContext) error

	// OnError reports whether the strategy should continue running after
	// the given error. Returning false stops the strategy.
	OnError(ctx context.Context, err error, tc *TickContext) bool
}

// TradeCallback is implemented by strategies that react to fills.
type TradeCallback interface {
	OnTrade(ctx context.Context, trade types.TradeEvent, tc *TickContext, emit CommandEmitter) error
}

// OrderCallback is implemented by strategies that react to order status
// transitions.
type OrderCallback interface {
	OnOrderUpdate(ctx context.Context, order types.OrderEvent, tc *TickContext, emit CommandEmitter) error
}
