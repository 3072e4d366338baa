package strategy

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

// AtrRiskName is the canonical registry name for AtrRisk.
const AtrRiskName = "AtrRiskManaged"

// AtrRisk is a risk-managed trend strategy: SMA cross entries, a 2*ATR
// stop, 2%-of-equity position sizing, a 1:1.5 reward:risk 50% partial
// take-profit, a break-even stop move once the partial fills, and periodic
// account-equity reassessment every EquityResetTrades closed trades.
type AtrRisk struct {
	atrPeriod     int
	atrMultiplier decimal.Decimal

	fastSMAPeriod int
	slowSMAPeriod int

	minQty       decimal.Decimal
	qtyPrecision int32

	logger *slog.Logger
}

// NewAtrRisk builds an uninitialized AtrRisk; OnInit populates its params.
func NewAtrRisk(logger *slog.Logger) *AtrRisk {
	return &AtrRisk{logger: logger.With("component", "strategy", "strategy_name", AtrRiskName)}
}

func (s *AtrRisk) Name() string        { return AtrRiskName }
func (s *AtrRisk) Version() string     { return "2.0.0" }
func (s *AtrRisk) Description() string { return "ATR-based Risk Management Strategy with 2% Rule" }

func (s *AtrRisk) DefaultParams() map[string]any {
	return map[string]any{
		"atr_period":      14,
		"atr_multiplier":  "2.0",
		"fast_sma_period": 5,
		"slow_sma_period": 20,
		"min_qty":         "1",
		"qty_precision":   0,
	}
}

func (s *AtrRisk) OnInit(ctx context.Context, params map[string]any) error {
	s.atrPeriod = paramInt(params, "atr_period", 14)
	s.atrMultiplier = paramDecimal(params, "atr_multiplier", "2.0")
	s.fastSMAPeriod = paramInt(params, "fast_sma_period", 5)
	s.slowSMAPeriod = paramInt(params, "slow_sma_period", 20)
	s.minQty = paramDecimal(params, "min_qty", "1")
	s.qtyPrecision = int32(paramInt(params, "qty_precision", 0))

	s.logger.Info("initialized",
		"atr_period", s.atrPeriod, "atr_multiplier", s.atrMultiplier,
		"fast_sma_period", s.fastSMAPeriod, "slow_sma_period", s.slowSMAPeriod)
	return nil
}

func (s *AtrRisk) OnStart(ctx context.Context, tc *TickContext) error {
	state := tc.State
	currentBalance := tc.Balance("USDT").Total()

	if equity, ok := stateDecimal(state, "account_equity"); ok && !equity.IsZero() {
		state["account_equity"] = equity
		s.logger.Info("resumed with restored state",
			"equity", equity,
			"trades_since_reset", paramInt(state, "trade_count_since_reset", 0),
			"total_trades", paramInt(state, "total_trade_count", 0))
	} else {
		state["account_equity"] = currentBalance
		state["trade_count_since_reset"] = 0
		state["total_trade_count"] = 0
		s.logger.Info("started fresh", "symbol", tc.Symbol(), "initial_equity", currentBalance)
	}

	state["prev_fast_above"] = nil
	s.clearTradeState(state)
	return nil
}

func (s *AtrRisk) OnTick(ctx context.Context, tc *TickContext, emit CommandEmitter) error {
	if !tc.CanTrade() {
		return nil
	}

	bars := tc.OHLCV
	state := tc.State
	required := s.slowSMAPeriod
	if s.atrPeriod+1 > required {
		required = s.atrPeriod + 1
	}
	if len(bars) < required {
		return nil
	}

	if !tc.HasPosition {
		if inTrade, _ := state["in_trade"].(bool); inTrade {
			s.clearTradeState(state)
		}
		return s.checkEntrySignal(ctx, tc, emit, state)
	}
	return s.checkExitSignal(ctx, tc, emit, state)
}

func (s *AtrRisk) OnTrade(ctx context.Context, trade types.TradeEvent, tc *TickContext, emit CommandEmitter) error {
	state := tc.State
	if !trade.IsCoreOrder() {
		return nil
	}
	if trade.IsReduce() && trade.IsProfitable() {
		if done, _ := state["partial_tp_done"].(bool); !done {
			state["partial_tp_done"] = true
			return s.moveStopToBreakeven(ctx, tc, emit, state)
		}
	}
	return nil
}

func (s *AtrRisk) OnOrderUpdate(ctx context.Context, order types.OrderEvent, tc *TickContext, emit CommandEmitter) error {
	state := tc.State
	if order.IsFilled() && order.IsStopLoss() {
		s.incrementTradeCount(tc, state)
		s.clearTradeState(state)
		s.logger.Info("stop loss hit", "avg_price", order.AvgPrice)
	}
	return nil
}

func (s *AtrRisk) checkEntrySignal(ctx context.Context, tc *TickContext, emit CommandEmitter, state map[string]any) error {
	fastSMA, okFast := SMA(tc.OHLCV, s.fastSMAPeriod)
	slowSMA, okSlow := SMA(tc.OHLCV, s.slowSMAPeriod)
	if !okFast || !okSlow {
		return nil
	}

	fastAbove := fastSMA.GreaterThan(slowSMA)
	prev, hasPrev := state["prev_fast_above"].(bool)
	state["prev_fast_above"] = fastAbove
	if !hasPrev {
		return nil
	}

	switch {
	case fastAbove && !prev:
		return s.enterLong(ctx, tc, emit, state)
	case !fastAbove && prev:
		return s.enterShort(ctx, tc, emit, state)
	}
	return nil
}

func (s *AtrRisk) checkExitSignal(ctx context.Context, tc *TickContext, emit CommandEmitter, state map[string]any) error {
	fastSMA, okFast := SMA(tc.OHLCV, s.fastSMAPeriod)
	slowSMA, okSlow := SMA(tc.OHLCV, s.slowSMAPeriod)
	if !okFast || !okSlow {
		return nil
	}
	fastAbove := fastSMA.GreaterThan(slowSMA)

	if !tc.HasPosition {
		return nil
	}
	pos := tc.Position

	if pos.IsLong() && !fastAbove {
		s.logger.Info("exit signal: dead cross while LONG")
		return s.closeAllAndCleanup(ctx, tc, emit, state)
	}
	if pos.IsShort() && fastAbove {
		s.logger.Info("exit signal: golden cross while SHORT")
		return s.closeAllAndCleanup(ctx, tc, emit, state)
	}
	return nil
}

func (s *AtrRisk) enterLong(ctx context.Context, tc *TickContext, emit CommandEmitter, state map[string]any) error {
	entryPrice := tc.CurrentPrice
	if !tc.HasCurrentPrice || entryPrice.IsZero() {
		return nil
	}

	atrValue, ok := ATR(tc.OHLCV, s.atrPeriod)
	if !ok {
		s.logger.Warn("cannot calculate ATR, skipping entry")
		return nil
	}

	riskPerTrade, rewardRatio, partialTPRatio := tc.RiskPerTrade(), tc.RewardRatio(), tc.PartialTPRatio()
	stopDistance := atrValue.Mul(s.atrMultiplier)
	stopLossPrice := entryPrice.Sub(stopDistance)

	equity, _ := stateDecimal(state, "account_equity")
	qty := s.calculatePositionSize(equity, entryPrice, stopLossPrice, riskPerTrade)
	if qty.LessThan(s.minQty) {
		s.logger.Warn("calculated qty below min_qty, skipping", "qty", qty, "min_qty", s.minQty)
		return nil
	}

	takeProfitPrice := entryPrice.Add(stopDistance.Mul(rewardRatio))
	partialQty := qty.Mul(partialTPRatio).Truncate(s.qtyPrecision)

	state["in_trade"] = true
	state["entry_price"] = entryPrice
	state["stop_loss_price"] = stopLossPrice
	state["initial_qty"] = qty
	state["partial_tp_done"] = false
	state["direction"] = "LONG"

	s.logger.Info("LONG entry", "qty", qty, "entry", entryPrice, "sl", stopLossPrice, "tp", takeProfitPrice, "atr", atrValue)

	if _, err := emit.PlaceOrder(ctx, PlaceOrderRequest{Side: types.BUY, OrderType: types.OrderTypeMarket, Quantity: qty}); err != nil {
		return err
	}
	if _, err := emit.PlaceOrder(ctx, PlaceOrderRequest{
		Side: types.SELL, OrderType: types.OrderTypeStopMarket, Quantity: qty,
		StopPrice: stopLossPrice, ReduceOnly: true,
	}); err != nil {
		return err
	}
	if partialQty.GreaterThanOrEqual(s.minQty) {
		if _, err := emit.PlaceOrder(ctx, PlaceOrderRequest{
			Side: types.SELL, OrderType: types.OrderTypeLimit, Quantity: partialQty,
			Price: takeProfitPrice, ReduceOnly: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *AtrRisk) enterShort(ctx context.Context, tc *TickContext, emit CommandEmitter, state map[string]any) error {
	entryPrice := tc.CurrentPrice
	if !tc.HasCurrentPrice || entryPrice.IsZero() {
		return nil
	}

	atrValue, ok := ATR(tc.OHLCV, s.atrPeriod)
	if !ok {
		s.logger.Warn("cannot calculate ATR, skipping entry")
		return nil
	}

	riskPerTrade, rewardRatio, partialTPRatio := tc.RiskPerTrade(), tc.RewardRatio(), tc.PartialTPRatio()
	stopDistance := atrValue.Mul(s.atrMultiplier)
	stopLossPrice := entryPrice.Add(stopDistance)

	equity, _ := stateDecimal(state, "account_equity")
	qty := s.calculatePositionSize(equity, entryPrice, stopLossPrice, riskPerTrade)
	if qty.LessThan(s.minQty) {
		s.logger.Warn("calculated qty below min_qty, skipping", "qty", qty, "min_qty", s.minQty)
		return nil
	}

	takeProfitPrice := entryPrice.Sub(stopDistance.Mul(rewardRatio))
	partialQty := qty.Mul(partialTPRatio).Truncate(s.qtyPrecision)

	state["in_trade"] = true
	state["entry_price"] = entryPrice
	state["stop_loss_price"] = stopLossPrice
	state["initial_qty"] = qty
	state["partial_tp_done"] = false
	state["direction"] = "SHORT"

	s.logger.Info("SHORT entry", "qty", qty, "entry", entryPrice, "sl", stopLossPrice, "tp", takeProfitPrice, "atr", atrValue)

	if _, err := emit.PlaceOrder(ctx, PlaceOrderRequest{Side: types.SELL, OrderType: types.OrderTypeMarket, Quantity: qty}); err != nil {
		return err
	}
	if _, err := emit.PlaceOrder(ctx, PlaceOrderRequest{
		Side: types.BUY, OrderType: types.OrderTypeStopMarket, Quantity: qty,
		StopPrice: stopLossPrice, ReduceOnly: true,
	}); err != nil {
		return err
	}
	if partialQty.GreaterThanOrEqual(s.minQty) {
		if _, err := emit.PlaceOrder(ctx, PlaceOrderRequest{
			Side: types.BUY, OrderType: types.OrderTypeLimit, Quantity: partialQty,
			Price: takeProfitPrice, ReduceOnly: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *AtrRisk) calculatePositionSize(accountEquity, entryPrice, stopLossPrice, riskPerTrade decimal.Decimal) decimal.Decimal {
	if riskPerTrade.IsZero() {
		riskPerTrade = decimal.RequireFromString("0.02")
	}
	riskAmount := accountEquity.Mul(riskPerTrade)
	stopDistance := entryPrice.Sub(stopLossPrice).Abs()
	if stopDistance.IsZero() {
		s.logger.Warn("stop distance is zero, cannot calculate size")
		return decimal.Zero
	}
	return riskAmount.Div(stopDistance).Truncate(s.qtyPrecision)
}

func (s *AtrRisk) moveStopToBreakeven(ctx context.Context, tc *TickContext, emit CommandEmitter, state map[string]any) error {
	entryPrice, ok := stateDecimal(state, "entry_price")
	direction, _ := state["direction"].(string)
	if !ok || !tc.HasPosition {
		return nil
	}
	remainingQty := tc.Position.Qty

	for _, order := range tc.OpenOrders {
		if order.Type == types.OrderTypeStopMarket || order.Type == types.OrderTypeStopLimit {
			if _, err := emit.CancelOrder(ctx, order.ExchangeOrderID, ""); err != nil {
				return err
			}
		}
	}

	side := types.SELL
	if direction != "LONG" {
		side = types.BUY
	}
	if _, err := emit.PlaceOrder(ctx, PlaceOrderRequest{
		Side: side, OrderType: types.OrderTypeStopMarket, Quantity: remainingQty,
		StopPrice: entryPrice, ReduceOnly: true,
	}); err != nil {
		return err
	}

	s.logger.Info("SL moved to break-even", "entry_price", entryPrice, "remaining_qty", remainingQty)
	return nil
}

func (s *AtrRisk) closeAllAndCleanup(ctx context.Context, tc *TickContext, emit CommandEmitter, state map[string]any) error {
	if _, err := emit.CancelAllOrders(ctx); err != nil {
		return err
	}
	if _, err := emit.ClosePosition(ctx, true); err != nil {
		return err
	}
	s.incrementTradeCount(tc, state)
	s.clearTradeState(state)
	s.logger.Info("position closed and state cleared")
	return nil
}

func (s *AtrRisk) incrementTradeCount(tc *TickContext, state map[string]any) {
	state["trade_count_since_reset"] = paramInt(state, "trade_count_since_reset", 0) + 1
	state["total_trade_count"] = paramInt(state, "total_trade_count", 0) + 1

	equityResetTrades := tc.EquityResetTrades()
	if paramInt(state, "trade_count_since_reset", 0) >= equityResetTrades {
		newEquity := tc.Balance("USDT").Total()
		oldEquity, _ := stateDecimal(state, "account_equity")
		state["account_equity"] = newEquity
		state["trade_count_since_reset"] = 0
		s.logger.Info("equity reset",
			"after_trades", equityResetTrades, "old_equity", oldEquity, "new_equity", newEquity,
			"total_trades", paramInt(state, "total_trade_count", 0))
	}
}

func (s *AtrRisk) clearTradeState(state map[string]any) {
	state["in_trade"] = false
	state["entry_price"] = nil
	state["stop_loss_price"] = nil
	state["initial_qty"] = nil
	state["partial_tp_done"] = false
	state["direction"] = nil
}

func (s *AtrRisk) OnStop(ctx context.Context, tc *TickContext) error {
	totalTrades := paramInt(tc.State, "total_trade_count", 0)
	finalEquity, _ := stateDecimal(tc.State, "account_equity")
	s.logger.Info("stopped", "total_trades", totalTrades, "final_equity", finalEquity)
	return nil
}

func (s *AtrRisk) OnError(ctx context.Context, err error, tc *TickContext) bool {
	s.logger.Error("strategy error", "error", err)
	return true
}
