package strategy

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

// SmaCrossName is the canonical registry name for SmaCross.
const SmaCrossName = "SmaCross"

// SmaCross is a fixed-quantity golden/dead-cross signal generator. It is
// explicitly educational: it uses no risk-based sizing, unlike AtrRisk, and
// exists to demonstrate the minimal shape of the Strategy interface.
type SmaCross struct {
	fastPeriod     int
	slowPeriod     int
	fixedQuantity  decimal.Decimal
	useMarketOrder bool
	logger         *slog.Logger
}

// NewSmaCross builds an uninitialized SmaCross; OnInit populates its params.
func NewSmaCross(logger *slog.Logger) *SmaCross {
	return &SmaCross{logger: logger.With("component", "strategy", "strategy_name", SmaCrossName)}
}

func (s *SmaCross) Name() string        { return SmaCrossName }
func (s *SmaCross) Version() string     { return "2.0.0" }
func (s *SmaCross) Description() string { return "Simple Moving Average Crossover Strategy (Educational)" }

func (s *SmaCross) DefaultParams() map[string]any {
	return map[string]any{
		"fast_period":      5,
		"slow_period":      20,
		"fixed_quantity":   "10",
		"use_market_order": true,
	}
}

func (s *SmaCross) OnInit(ctx context.Context, params map[string]any) error {
	s.fastPeriod = paramInt(params, "fast_period", 5)
	s.slowPeriod = paramInt(params, "slow_period", 20)
	s.fixedQuantity = paramDecimal(params, "fixed_quantity", "10")
	s.useMarketOrder = paramBool(params, "use_market_order", true)

	s.logger.Info("initialized", "fast_period", s.fastPeriod, "slow_period", s.slowPeriod)
	s.logger.Warn("SmaCross uses fixed quantity; use risk-based sizing for production")
	return nil
}

func (s *SmaCross) OnStart(ctx context.Context, tc *TickContext) error {
	tc.State["prev_fast_above"] = nil
	tc.State["signal_count"] = 0
	s.logger.Info("started", "symbol", tc.Symbol())
	return nil
}

func (s *SmaCross) OnTick(ctx context.Context, tc *TickContext, emit CommandEmitter) error {
	if !tc.CanTrade() {
		return nil
	}

	bars := tc.OHLCV
	if len(bars) < s.slowPeriod {
		return nil
	}

	fastSMA, okFast := SMA(bars, s.fastPeriod)
	slowSMA, okSlow := SMA(bars, s.slowPeriod)
	if !okFast || !okSlow {
		return nil
	}

	fastAbove := fastSMA.GreaterThan(slowSMA)
	prev, hasPrev := tc.State["prev_fast_above"].(bool)
	tc.State["prev_fast_above"] = fastAbove

	if !hasPrev {
		s.logger.Debug("first tick, no signal", "fast_sma", fastSMA, "slow_sma", slowSMA)
		return nil
	}

	switch {
	case fastAbove && !prev:
		if err := s.handleBuySignal(ctx, tc, emit); err != nil {
			return err
		}
		tc.State["signal_count"] = paramInt(tc.State, "signal_count", 0) + 1
	case !fastAbove && prev:
		if err := s.handleSellSignal(ctx, tc, emit); err != nil {
			return err
		}
		tc.State["signal_count"] = paramInt(tc.State, "signal_count", 0) + 1
	}
	return nil
}

func (s *SmaCross) handleBuySignal(ctx context.Context, tc *TickContext, emit CommandEmitter) error {
	s.logger.Info("BUY signal", "symbol", tc.Symbol(), "price", tc.CurrentPrice)

	if tc.HasPosition && tc.Position.IsShort() {
		s.logger.Info("closing short position before buy")
		if _, err := emit.ClosePosition(ctx, true); err != nil {
			return err
		}
	}

	req := PlaceOrderRequest{Side: types.BUY, Quantity: s.fixedQuantity}
	if s.useMarketOrder {
		req.OrderType = types.OrderTypeMarket
	} else {
		req.OrderType = types.OrderTypeLimit
		req.Price = tc.CurrentPrice
	}
	_, err := emit.PlaceOrder(ctx, req)
	return err
}

func (s *SmaCross) handleSellSignal(ctx context.Context, tc *TickContext, emit CommandEmitter) error {
	s.logger.Info("SELL signal", "symbol", tc.Symbol(), "price", tc.CurrentPrice)

	if tc.HasPosition && tc.Position.IsLong() {
		s.logger.Info("closing long position before sell")
		if _, err := emit.ClosePosition(ctx, true); err != nil {
			return err
		}
	}

	req := PlaceOrderRequest{Side: types.SELL, Quantity: s.fixedQuantity}
	if s.useMarketOrder {
		req.OrderType = types.OrderTypeMarket
	} else {
		req.OrderType = types.OrderTypeLimit
		req.Price = tc.CurrentPrice
	}
	_, err := emit.PlaceOrder(ctx, req)
	return err
}

func (s *SmaCross) OnStop(ctx context.Context, tc *TickContext) error {
	s.logger.Info("stopped", "signal_count", paramInt(tc.State, "signal_count", 0))
	return nil
}

func (s *SmaCross) OnError(ctx context.Context, err error, tc *TickContext) bool {
	s.logger.Error("strategy error", "symbol", tc.Symbol(), "error", err)
	return true
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func paramBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func paramDecimal(params map[string]any, key, def string) decimal.Decimal {
	fallback, _ := decimal.NewFromString(def)
	switch v := params[key].(type) {
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
