package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

// RiskCheckResult is one rule's verdict.
type RiskCheckResult struct {
	Passed   bool
	RuleName string
	Reason   string
	Details  map[string]any
}

func passed(ruleName string) RiskCheckResult {
	return RiskCheckResult{Passed: true, RuleName: ruleName}
}

func rejected(ruleName, reason string, details map[string]any) RiskCheckResult {
	return RiskCheckResult{Passed: false, RuleName: ruleName, Reason: reason, Details: details}
}

// RiskContext is the state a rule checks a command against: config
// thresholds, the current engine mode, and the command's scope's current
// position/balance/open-order/PnL projections.
type RiskContext struct {
	EngineMode      types.EngineMode
	Config          map[string]any
	Position        types.Position
	HasPosition     bool
	Balance         decimal.Decimal
	OpenOrdersCount int
	DailyPnL        decimal.Decimal
}

// RiskRule is one check in the RiskGuard pipeline.
type RiskRule interface {
	Name() string
	AppliesTo(ct types.CommandType) bool
	Check(ctx context.Context, cmd types.Command, rc RiskContext) (RiskCheckResult, error)
}

func configDecimal(cfg map[string]any, key string) decimal.Decimal {
	v, ok := cfg[key]
	if !ok {
		return decimal.Zero
	}
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(t)
	case int:
		return decimal.NewFromInt(int64(t))
	default:
		return decimal.Zero
	}
}

func configInt(cfg map[string]any, key string) int {
	v, ok := cfg[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func payloadDecimal(payload map[string]any, key string) decimal.Decimal {
	v, ok := payload[key]
	if !ok {
		return decimal.Zero
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ————————————————————————————————————————————————————————————————————————
// EngineModeRule — gates trading-class commands on the engine's run mode.
// ————————————————————————————————————————————————————————————————————————

// EngineModeRule blocks trading commands while PAUSED, and blocks new
// (non-reduce-only) orders while SAFE. Engine-control commands (pause,
// resume, mode change) are always allowed through regardless of mode.
type EngineModeRule struct{}

func (EngineModeRule) Name() string { return "EngineMode" }

func (EngineModeRule) AppliesTo(ct types.CommandType) bool { return true }

func (EngineModeRule) Check(ctx context.Context, cmd types.Command, rc RiskContext) (RiskCheckResult, error) {
	switch cmd.CommandType {
	case types.CmdPauseEngine, types.CmdResumeEngine, types.CmdSetEngineMode:
		return passed("EngineMode"), nil
	}

	switch rc.EngineMode {
	case types.ModePaused:
		if cmd.CommandType.IsTradingClass() {
			return rejected("EngineMode", "engine is paused, trading commands blocked", nil), nil
		}
	case types.ModeSafe:
		if cmd.CommandType == types.CmdPlaceOrder && !cmd.ReduceOnly() {
			return rejected("EngineMode", "new orders blocked in SAFE mode", nil), nil
		}
	}
	return passed("EngineMode"), nil
}

// ————————————————————————————————————————————————————————————————————————
// MaxPositionSizeRule
// ————————————————————————————————————————————————————————————————————————

// MaxPositionSizeRule rejects a PlaceOrder whose resulting position would
// exceed config's max_position_size. Reduce-only orders are always allowed.
type MaxPositionSizeRule struct{}

func (MaxPositionSizeRule) Name() string { return "MaxPositionSize" }

func (MaxPositionSizeRule) AppliesTo(ct types.CommandType) bool { return ct == types.CmdPlaceOrder }

func (MaxPositionSizeRule) Check(ctx context.Context, cmd types.Command, rc RiskContext) (RiskCheckResult, error) {
	maxSize := configDecimal(rc.Config, "max_position_size")
	if maxSize.LessThanOrEqual(decimal.Zero) {
		return passed("MaxPositionSize"), nil
	}
	if cmd.ReduceOnly() {
		return passed("MaxPositionSize"), nil
	}

	orderQty := payloadDecimal(cmd.Payload, "quantity")
	orderSide, _ := cmd.Payload["side"].(string)

	var newQty decimal.Decimal
	switch {
	case !rc.HasPosition || rc.Position.Qty.IsZero():
		newQty = orderQty
	case (rc.Position.Side == types.PositionLong && orderSide == string(types.BUY)) ||
		(rc.Position.Side == types.PositionShort && orderSide == string(types.SELL)):
		newQty = rc.Position.Qty.Add(orderQty)
	default:
		newQty = rc.Position.Qty.Sub(orderQty).Abs()
	}

	if newQty.GreaterThan(maxSize) {
		return rejected("MaxPositionSize",
			fmt.Sprintf("position size %s exceeds max %s", newQty, maxSize),
			map[string]any{
				"current_qty": rc.Position.Qty.String(),
				"order_qty":   orderQty.String(),
				"new_qty":     newQty.String(),
				"max_size":    maxSize.String(),
			}), nil
	}
	return passed("MaxPositionSize"), nil
}

// ————————————————————————————————————————————————————————————————————————
// DailyLossLimitRule
// ————————————————————————————————————————————————————————————————————————

// DailyLossLimitRule rejects new orders once today's realized PnL has
// dropped to or past config's daily_loss_limit. Reduce-only orders are
// always allowed through, since closing a losing position shouldn't itself
// be blocked by the loss it would stop.
type DailyLossLimitRule struct{}

func (DailyLossLimitRule) Name() string { return "DailyLossLimit" }

func (DailyLossLimitRule) AppliesTo(ct types.CommandType) bool { return ct == types.CmdPlaceOrder }

func (DailyLossLimitRule) Check(ctx context.Context, cmd types.Command, rc RiskContext) (RiskCheckResult, error) {
	limit := configDecimal(rc.Config, "daily_loss_limit")
	if limit.LessThanOrEqual(decimal.Zero) {
		return passed("DailyLossLimit"), nil
	}

	if rc.DailyPnL.IsNegative() && rc.DailyPnL.Abs().GreaterThanOrEqual(limit) {
		if cmd.ReduceOnly() {
			return passed("DailyLossLimit"), nil
		}
		return rejected("DailyLossLimit",
			fmt.Sprintf("daily loss %s reached limit %s", rc.DailyPnL.Abs(), limit),
			map[string]any{"daily_pnl": rc.DailyPnL.String(), "daily_loss_limit": limit.String()}), nil
	}
	return passed("DailyLossLimit"), nil
}

// ————————————————————————————————————————————————————————————————————————
// MaxOpenOrdersRule
// ————————————————————————————————————————————————————————————————————————

// MaxOpenOrdersRule rejects a new order once the scope's open order count
// has reached config's max_open_orders.
type MaxOpenOrdersRule struct{}

func (MaxOpenOrdersRule) Name() string { return "MaxOpenOrders" }

func (MaxOpenOrdersRule) AppliesTo(ct types.CommandType) bool { return ct == types.CmdPlaceOrder }

func (MaxOpenOrdersRule) Check(ctx context.Context, cmd types.Command, rc RiskContext) (RiskCheckResult, error) {
	max := configInt(rc.Config, "max_open_orders")
	if max <= 0 {
		return passed("MaxOpenOrders"), nil
	}
	if rc.OpenOrdersCount >= max {
		return rejected("MaxOpenOrders",
			fmt.Sprintf("open orders %d reached limit %d", rc.OpenOrdersCount, max),
			map[string]any{"current_count": rc.OpenOrdersCount, "max_orders": max}), nil
	}
	return passed("MaxOpenOrders"), nil
}

// ————————————————————————————————————————————————————————————————————————
// MinBalanceRule
// ————————————————————————————————————————————————————————————————————————

// MinBalanceRule rejects a new order once free balance has dropped below
// config's min_balance. Reduce-only orders are allowed through.
type MinBalanceRule struct{}

func (MinBalanceRule) Name() string { return "MinBalance" }

func (MinBalanceRule) AppliesTo(ct types.CommandType) bool { return ct == types.CmdPlaceOrder }

func (MinBalanceRule) Check(ctx context.Context, cmd types.Command, rc RiskContext) (RiskCheckResult, error) {
	min := configDecimal(rc.Config, "min_balance")
	if min.LessThanOrEqual(decimal.Zero) {
		return passed("MinBalance"), nil
	}
	if rc.Balance.LessThan(min) {
		if cmd.ReduceOnly() {
			return passed("MinBalance"), nil
		}
		return rejected("MinBalance",
			fmt.Sprintf("balance %s below minimum %s", rc.Balance, min),
			map[string]any{"free_balance": rc.Balance.String(), "min_balance": min.String()}), nil
	}
	return passed("MinBalance"), nil
}
