package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// RiskChecker is the guard surface the emitter runs PlaceOrder through.
// Declared locally so this package doesn't import internal/risk directly.
type RiskChecker interface {
	Check(ctx context.Context, cmd types.Command) (passed bool, reason string, err error)
}

// CommandEmitterImpl is the concrete CommandEmitter every strategy is handed.
// Only PlaceOrder is risk-checked, matching the source's emitter.py exactly;
// cancellations and closes are assumed to only ever reduce exposure.
type CommandEmitterImpl struct {
	Commands     *store.CommandStore
	Scope        types.Scope
	StrategyName string
	RiskGuard    RiskChecker
	logger       *slog.Logger
}

// NewCommandEmitter builds a CommandEmitterImpl. riskGuard may be nil, in
// which case PlaceOrder is never rejected at the emission boundary (the
// executor's own risk check, if any, still applies downstream).
func NewCommandEmitter(commands *store.CommandStore, scope types.Scope, strategyName string, riskGuard RiskChecker, logger *slog.Logger) *CommandEmitterImpl {
	return &CommandEmitterImpl{
		Commands:     commands,
		Scope:        scope,
		StrategyName: strategyName,
		RiskGuard:    riskGuard,
		logger:       logger.With("component", "command_emitter", "strategy", strategyName),
	}
}

func (e *CommandEmitterImpl) actor() types.Actor {
	return types.Actor{Kind: types.ActorStrategy, ID: e.StrategyName}
}

// PlaceOrder builds and, if the risk guard accepts it, inserts a PlaceOrder
// command. Returns empty string (no error) if the risk guard rejects it.
func (e *CommandEmitterImpl) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = types.TIFGTC
	}
	positionSide := req.PositionSide
	if positionSide == "" {
		positionSide = types.PositionBoth
	}

	payload := map[string]any{
		"symbol":        e.Scope.Symbol,
		"side":          string(req.Side),
		"order_type":    string(req.OrderType),
		"quantity":      req.Quantity.String(),
		"time_in_force": string(tif),
		"reduce_only":   req.ReduceOnly,
		"position_side": string(positionSide),
	}
	if !req.Price.IsZero() {
		payload["price"] = req.Price.String()
	}
	if !req.StopPrice.IsZero() {
		payload["stop_price"] = req.StopPrice.String()
	}

	cmd := e.newCommand(types.CmdPlaceOrder, payload)
	return e.submit(ctx, cmd, true)
}

// CancelOrder cancels a resting order by either id. At least one must be
// non-empty; otherwise the emission is a logged no-op.
func (e *CommandEmitterImpl) CancelOrder(ctx context.Context, exchangeOrderID, clientOrderID string) (string, error) {
	if exchangeOrderID == "" && clientOrderID == "" {
		e.logger.Warn("cancel_order requires an exchange_order_id or client_order_id")
		return "", nil
	}
	cmd := e.newCommand(types.CmdCancelOrder, map[string]any{
		"exchange_order_id": exchangeOrderID,
		"client_order_id":   clientOrderID,
	})
	return e.submit(ctx, cmd, false)
}

// ClosePosition emits a ClosePosition command for the scoped symbol.
func (e *CommandEmitterImpl) ClosePosition(ctx context.Context, reduceOnly bool) (string, error) {
	cmd := e.newCommand(types.CmdClosePosition, map[string]any{"reduce_only": reduceOnly})
	return e.submit(ctx, cmd, false)
}

// CancelAllOrders emits a CancelAll command for the scoped symbol.
func (e *CommandEmitterImpl) CancelAllOrders(ctx context.Context) (string, error) {
	cmd := e.newCommand(types.CmdCancelAll, map[string]any{})
	return e.submit(ctx, cmd, false)
}

func (e *CommandEmitterImpl) newCommand(ct types.CommandType, payload map[string]any) types.Command {
	id := uuid.NewString()
	return types.Command{
		CommandID:      id,
		CommandType:    ct,
		Actor:          e.actor(),
		Scope:          e.Scope,
		IdempotencyKey: id,
		Priority:       types.PriorityStrategy,
		Payload:        payload,
	}
}

func (e *CommandEmitterImpl) submit(ctx context.Context, cmd types.Command, checkRisk bool) (string, error) {
	if checkRisk && e.RiskGuard != nil {
		passed, reason, err := e.RiskGuard.Check(ctx, cmd)
		if err != nil {
			return "", fmt.Errorf("emitter: risk check: %w", err)
		}
		if !passed {
			e.logger.Warn("command rejected by risk guard", "command_type", cmd.CommandType, "reason", reason)
			return "", nil
		}
	}

	result, err := e.Commands.Insert(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("emitter: insert command: %w", err)
	}
	if !result.Stored {
		return "", nil
	}
	return cmd.CommandID, nil
}
