package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/pkg/types"
)

// PlaceOrderHandler submits an order to the exchange and records
// OrderPlaced on success, OrderRejected on failure. client_order_id is
// always "ae-" + command_id, enforcing idempotency on retried claims.
type PlaceOrderHandler struct {
	Client *exchange.Client
}

func (h *PlaceOrderHandler) CommandType() types.CommandType { return types.CmdPlaceOrder }

func (h *PlaceOrderHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	symbol, _ := cmd.Payload["symbol"].(string)
	side, _ := cmd.Payload["side"].(string)
	orderType, _ := cmd.Payload["order_type"].(string)
	qty := payloadDecimal(cmd.Payload, "quantity")
	price := payloadDecimal(cmd.Payload, "price")
	tif, _ := cmd.Payload["time_in_force"].(string)
	reduceOnly, _ := cmd.Payload["reduce_only"].(bool)
	positionSide, _ := cmd.Payload["position_side"].(string)

	clientOrderID := cmd.ClientOrderID()

	req := exchange.OrderRequest{
		Symbol:        symbol,
		Side:          types.Side(side),
		Type:          types.OrderType(orderType),
		Qty:           qty,
		Price:         price,
		TimeInForce:   types.TimeInForce(tif),
		ReduceOnly:    reduceOnly,
		PositionSide:  types.PositionSide(positionSide),
		ClientOrderID: clientOrderID,
	}

	res, err := h.Client.PlaceOrder(ctx, req)
	scope := cmd.Scope
	scope.Symbol = symbol
	if err != nil {
		event := types.Event{
			EventType:     types.EvtOrderRejected,
			Source:        types.SourceBot,
			EntityKind:    types.EntityOrder,
			EntityID:      cmd.CommandID,
			Scope:         scope,
			DedupKey:      dedup.Family(cmd.Scope.Exchange, "order_rejected", cmd.CommandID),
			CommandID:     cmd.CommandID,
			CorrelationID: cmd.CorrelationID,
			Payload: map[string]any{
				"command_id": cmd.CommandID,
				"error":      err.Error(),
				"payload":    cmd.Payload,
			},
		}
		return Result{Success: false, Error: err.Error(), Events: []types.Event{event}}, nil
	}

	event := types.Event{
		EventType:     types.EvtOrderPlaced,
		Source:        types.SourceBot,
		EntityKind:    types.EntityOrder,
		EntityID:      res.ExchangeOrderID,
		Scope:         scope,
		DedupKey:      dedup.Order(cmd.Scope.Exchange, string(cmd.Scope.Venue), symbol, res.ExchangeOrderID),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"exchange_order_id": res.ExchangeOrderID,
			"client_order_id":   clientOrderID,
			"symbol":            symbol,
			"side":              side,
			"order_type":        orderType,
			"original_qty":      qty.String(),
			"price":             price.String(),
			"time_in_force":     tif,
			"reduce_only":       reduceOnly,
			"position_side":     positionSide,
			"order_status":      res.Status,
		},
	}

	return Result{
		Success: true,
		Payload: map[string]any{
			"exchange_order_id": res.ExchangeOrderID,
			"client_order_id":   clientOrderID,
			"status":            res.Status,
		},
		Events: []types.Event{event},
	}, nil
}

// CancelOrderHandler cancels a resting order by exchange or client order id.
type CancelOrderHandler struct {
	Client *exchange.Client
}

func (h *CancelOrderHandler) CommandType() types.CommandType { return types.CmdCancelOrder }

func (h *CancelOrderHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	symbol, _ := cmd.Payload["symbol"].(string)
	exchangeOrderID, _ := cmd.Payload["exchange_order_id"].(string)
	clientOrderID, _ := cmd.Payload["client_order_id"].(string)

	if exchangeOrderID == "" && clientOrderID == "" {
		return Result{Success: false, Error: "either exchange_order_id or client_order_id required"}, nil
	}

	res, err := h.Client.CancelOrder(ctx, symbol, exchangeOrderID, clientOrderID)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	scope := cmd.Scope
	scope.Symbol = symbol
	event := types.Event{
		EventType:     types.EvtOrderCancelled,
		Source:        types.SourceBot,
		EntityKind:    types.EntityOrder,
		EntityID:      res.ExchangeOrderID,
		Scope:         scope,
		DedupKey:      dedup.OrderStatus(cmd.Scope.Exchange, string(cmd.Scope.Venue), symbol, res.ExchangeOrderID, "CANCELED", cmd.TS.UnixMilli()),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"exchange_order_id": res.ExchangeOrderID,
			"client_order_id":   res.ClientOrderID,
			"symbol":            symbol,
			"status":            "CANCELED",
		},
	}

	return Result{
		Success: true,
		Payload: map[string]any{"exchange_order_id": res.ExchangeOrderID, "status": "CANCELED"},
		Events:  []types.Event{event},
	}, nil
}

// CancelAllHandler cancels every open order on a symbol. Fail-closed: any
// exchange error fails the command rather than assuming partial success.
type CancelAllHandler struct {
	Client *exchange.Client
}

func (h *CancelAllHandler) CommandType() types.CommandType { return types.CmdCancelAll }

func (h *CancelAllHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	symbol, _ := cmd.Payload["symbol"].(string)
	if err := h.Client.CancelAll(ctx, symbol); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	scope := cmd.Scope
	scope.Symbol = symbol
	event := types.Event{
		EventType:     types.EvtOrderCancelled,
		Source:        types.SourceBot,
		EntityKind:    types.EntityOrder,
		EntityID:      "all",
		Scope:         scope,
		DedupKey:      dedup.EngineEvent(fmt.Sprintf("cancel_all:%s:%s", symbol, cmd.CommandID), cmd.TS.UnixMilli()),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload:       map[string]any{"symbol": symbol, "status": "ALL_CANCELED"},
	}

	return Result{Success: true, Payload: map[string]any{"status": "ALL_CANCELED"}, Events: []types.Event{event}}, nil
}

// ClosePositionHandler flattens an open position with a reduce-only market
// order. It reads the current position from the projector rather than
// trusting the command payload for qty/side, since the position may have
// drifted between emission and claim.
type ClosePositionHandler struct {
	Client    *exchange.Client
	Projector PositionGetter
}

// PositionGetter is the subset of risk.Projector this handler needs,
// declared locally so this package doesn't import internal/risk.
type PositionGetter interface {
	Position(ctx context.Context, scope types.Scope) (types.Position, bool, error)
}

func (h *ClosePositionHandler) CommandType() types.CommandType { return types.CmdClosePosition }

func (h *ClosePositionHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	symbol, _ := cmd.Payload["symbol"].(string)
	scope := cmd.Scope
	scope.Symbol = symbol

	pos, hasPosition, err := h.Projector.Position(ctx, scope)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	if !hasPosition || pos.Qty.IsZero() {
		return Result{Success: true, Payload: map[string]any{"status": "NO_POSITION"}}, nil
	}

	side := types.SELL
	if pos.IsShort() {
		side = types.BUY
	}
	clientOrderID := cmd.ClientOrderID()

	res, err := h.Client.ClosePosition(ctx, symbol, side, pos.Qty, clientOrderID)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	event := types.Event{
		EventType:     types.EvtOrderPlaced,
		Source:        types.SourceBot,
		EntityKind:    types.EntityOrder,
		EntityID:      res.ExchangeOrderID,
		Scope:         scope,
		DedupKey:      dedup.Order(cmd.Scope.Exchange, string(cmd.Scope.Venue), symbol, res.ExchangeOrderID),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"exchange_order_id": res.ExchangeOrderID,
			"client_order_id":   clientOrderID,
			"symbol":            symbol,
			"side":              string(side),
			"order_type":        string(types.OrderTypeMarket),
			"original_qty":      pos.Qty.String(),
			"reduce_only":       true,
			"order_status":      res.Status,
		},
	}

	return Result{
		Success: true,
		Payload: map[string]any{"exchange_order_id": res.ExchangeOrderID, "status": res.Status},
		Events:  []types.Event{event},
	}, nil
}

// SetLeverageHandler changes account leverage for a symbol. Emits no event:
// leverage is account configuration, not a trading fact, and the exchange's
// own position snapshots already carry the effective leverage.
type SetLeverageHandler struct {
	Client *exchange.Client
}

func (h *SetLeverageHandler) CommandType() types.CommandType { return types.CmdSetLeverage }

func (h *SetLeverageHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	symbol, _ := cmd.Payload["symbol"].(string)
	leverage := payloadInt(cmd.Payload, "leverage")
	if leverage <= 0 {
		return Result{Success: false, Error: "leverage must be positive"}, nil
	}

	if err := h.Client.SetLeverage(ctx, symbol, leverage); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Payload: map[string]any{"symbol": symbol, "leverage": leverage}}, nil
}

func payloadDecimal(payload map[string]any, key string) decimal.Decimal {
	switch v := payload[key].(type) {
	case decimal.Decimal:
		return v
	case string:
		if v == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	default:
		return decimal.Zero
	}
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
