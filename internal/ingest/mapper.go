// Package ingest is the streaming half of the ingestion plane: it reads
// decoded WebSocket frames off the exchange adapter's UserStream, turns
// each into the matching domain event, appends
// it to the event store (dedup-gated, safe to replay on reconnect), folds
// it into the live projection, and forwards fills/order transitions to the
// strategy runner's callbacks.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/projection"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// RunnerDispatcher is the subset of strategy.Runner the mapper drives.
// Declared locally so this package doesn't import internal/strategy.
type RunnerDispatcher interface {
	HandleTradeEvent(ctx context.Context, trade types.TradeEvent)
	HandleOrderEvent(ctx context.Context, order types.OrderEvent)
}

// Mapper wires a UserStream's frame channels to the event store, the
// projection, and the strategy runner.
type Mapper struct {
	Events     *store.EventStore
	Projection *projection.Store
	Runner     RunnerDispatcher
	Scope      types.Scope
	logger     *slog.Logger
}

// NewMapper builds a Mapper for the given scope.
func NewMapper(events *store.EventStore, proj *projection.Store, runner RunnerDispatcher, scope types.Scope, logger *slog.Logger) *Mapper {
	return &Mapper{
		Events:     events,
		Projection: proj,
		Runner:     runner,
		Scope:      scope,
		logger:     logger.With("component", "ws_mapper"),
	}
}

// Run drains stream's three frame channels until ctx is cancelled. It is
// the one long-lived worker translating raw WebSocket activity into
// domain events.
func (m *Mapper) Run(ctx context.Context, stream *exchange.UserStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-stream.AccountUpdates():
			if !ok {
				return
			}
			m.handleAccountUpdate(ctx, f)
		case f, ok := <-stream.OrderTradeUpdates():
			if !ok {
				return
			}
			m.handleOrderTradeUpdate(ctx, f)
		case f, ok := <-stream.MarginCalls():
			if !ok {
				return
			}
			m.handleMarginCall(ctx, f)
		}
	}
}

type rawBalance struct {
	Asset              string `json:"a"`
	WalletBalance      string `json:"wb"`
	CrossWalletBalance string `json:"cw"`
}

type rawPosition struct {
	Symbol         string `json:"s"`
	PositionAmount string `json:"pa"`
	EntryPrice     string `json:"ep"`
	UnrealizedPnL  string `json:"up"`
	PositionSide   string `json:"ps"`
}

func (m *Mapper) handleAccountUpdate(ctx context.Context, f exchange.AccountUpdateFrame) {
	ts := time.UnixMilli(f.EventTimeMS).UTC()

	for _, raw := range f.Balances {
		var b rawBalance
		if err := unmarshalOrLog(raw, &b, m.logger); err != nil {
			continue
		}
		free := parseDec(b.WalletBalance)
		scope := m.Scope
		event := types.Event{
			TS:         ts,
			Source:     types.SourceWebsocket,
			EntityKind: types.EntityBalance,
			EntityID:   b.Asset,
			Scope:      scope,
			DedupKey:   dedup.Balance(scope.Exchange, string(scope.Venue), b.Asset, f.EventTimeMS),
			EventType:  types.EvtBalanceChanged,
			Payload: map[string]any{
				"asset": b.Asset,
				"free":  free.String(),
			},
		}
		m.append(ctx, event)
		m.Projection.ApplyBalance(scope.Venue, types.Balance{Venue: scope.Venue, Asset: b.Asset, Free: free})
	}

	for _, raw := range f.Positions {
		var p rawPosition
		if err := unmarshalOrLog(raw, &p, m.logger); err != nil {
			continue
		}
		qty := parseDec(p.PositionAmount)
		side := types.PositionSide(p.PositionSide)
		if side == "" {
			side = types.PositionLong
			if qty.IsNegative() {
				side = types.PositionShort
			}
		}
		scope := m.Scope
		scope.Symbol = p.Symbol
		event := types.Event{
			TS:         ts,
			Source:     types.SourceWebsocket,
			EntityKind: types.EntityPosition,
			EntityID:   p.Symbol,
			Scope:      scope,
			DedupKey:   dedup.Position(scope.Exchange, string(scope.Venue), p.Symbol, f.EventTimeMS),
			EventType:  types.EvtPositionChanged,
			Payload: map[string]any{
				"symbol":         p.Symbol,
				"side":           string(side),
				"qty":            qty.Abs().String(),
				"entry_price":    p.EntryPrice,
				"unrealized_pnl": p.UnrealizedPnL,
			},
		}
		m.append(ctx, event)
		m.Projection.ApplyPosition(scope.Venue, types.Position{
			Symbol:        p.Symbol,
			Side:          side,
			Qty:           qty.Abs(),
			EntryPrice:    parseDec(p.EntryPrice),
			UnrealizedPnL: parseDec(p.UnrealizedPnL),
		})
	}
}

func (m *Mapper) handleOrderTradeUpdate(ctx context.Context, f exchange.OrderTradeUpdateFrame) {
	ts := time.UnixMilli(f.UpdateTimeMS).UTC()
	scope := m.Scope
	scope.Symbol = f.Symbol
	exchangeOrderID := formatOrderID(f.ExchangeOrderID)
	status := types.OrderStatus(f.Status)

	orderEvent := types.OrderEvent{
		OrderID:       exchangeOrderID,
		ClientOrderID: f.ClientOrderID,
		Symbol:        f.Symbol,
		Status:        status,
		OrderType:     types.OrderType(f.OrderType),
		Side:          types.Side(f.Side),
		ExecutedQty:   parseDec(f.LastFilledQty),
		Timestamp:     ts,
	}

	eventType := types.EvtOrderUpdated
	if status == types.OrderStatusCanceled {
		eventType = types.EvtOrderCancelled
	}
	event := types.Event{
		TS:         ts,
		Source:     types.SourceWebsocket,
		EntityKind: types.EntityOrder,
		EntityID:   exchangeOrderID,
		Scope:      scope,
		DedupKey:   dedup.OrderStatus(scope.Exchange, string(scope.Venue), f.Symbol, exchangeOrderID, f.Status, f.UpdateTimeMS),
		EventType:  eventType,
		Payload: map[string]any{
			"exchange_order_id": exchangeOrderID,
			"client_order_id":   f.ClientOrderID,
			"symbol":            f.Symbol,
			"side":              f.Side,
			"order_type":        f.OrderType,
			"order_status":      f.Status,
			"original_qty":      f.LastFilledQty,
			"price":             f.LastFilledPrice,
		},
	}
	m.append(ctx, event)
	openOrder, _ := openOrderFromFrame(f, exchangeOrderID)
	m.Projection.ApplyOrder(openOrder, status)
	m.Runner.HandleOrderEvent(ctx, orderEvent)

	if status == types.OrderStatusFilled || status == types.OrderStatusPartiallyFilled {
		m.appendTrade(ctx, f, ts, exchangeOrderID)
	}
}

func (m *Mapper) appendTrade(ctx context.Context, f exchange.OrderTradeUpdateFrame, ts time.Time, exchangeOrderID string) {
	scope := m.Scope
	scope.Symbol = f.Symbol
	tradeID := formatOrderID(f.TradeID)
	price := parseDec(f.LastFilledPrice)
	qty := parseDec(f.LastFilledQty)

	event := types.Event{
		TS:         ts,
		Source:     types.SourceWebsocket,
		EntityKind: types.EntityTrade,
		EntityID:   tradeID,
		Scope:      scope,
		DedupKey:   dedup.Trade(scope.Exchange, string(scope.Venue), f.Symbol, tradeID),
		EventType:  types.EvtTradeExecuted,
		Payload: map[string]any{
			"exchange_trade_id": tradeID,
			"exchange_order_id": exchangeOrderID,
			"client_order_id":   f.ClientOrderID,
			"symbol":            f.Symbol,
			"side":              f.Side,
			"price":             f.LastFilledPrice,
			"quantity":          f.LastFilledQty,
		},
	}
	m.append(ctx, event)

	m.Runner.HandleTradeEvent(ctx, types.TradeEvent{
		TradeID:       tradeID,
		OrderID:       exchangeOrderID,
		ClientOrderID: f.ClientOrderID,
		Symbol:        f.Symbol,
		Side:          types.Side(f.Side),
		Price:         price,
		Quantity:      qty,
		Timestamp:     ts,
	})
}

func (m *Mapper) handleMarginCall(ctx context.Context, f exchange.MarginCallFrame) {
	ts := time.UnixMilli(f.EventTimeMS).UTC()
	for _, raw := range f.Positions {
		var p rawPosition
		if err := unmarshalOrLog(raw, &p, m.logger); err != nil {
			continue
		}
		scope := m.Scope
		scope.Symbol = p.Symbol
		event := types.Event{
			TS:         ts,
			Source:     types.SourceWebsocket,
			EntityKind: types.EntityPosition,
			EntityID:   p.Symbol,
			Scope:      scope,
			DedupKey:   dedup.EngineEvent("margin_call:"+p.Symbol, f.EventTimeMS),
			EventType:  types.EvtPositionChanged,
			Payload: map[string]any{
				"symbol":         p.Symbol,
				"margin_call":    true,
				"unrealized_pnl": p.UnrealizedPnL,
			},
		}
		m.append(ctx, event)
		m.logger.Warn("margin call received", "symbol", p.Symbol, "unrealized_pnl", p.UnrealizedPnL)
	}
}

func (m *Mapper) append(ctx context.Context, event types.Event) {
	if _, err := m.Events.Append(ctx, event); err != nil {
		m.logger.Error("failed to append ws-derived event", "event_type", event.EventType, "error", err)
	}
}

func openOrderFromFrame(f exchange.OrderTradeUpdateFrame, exchangeOrderID string) (types.OpenOrder, types.OrderStatus) {
	return types.OpenOrder{
		ExchangeOrderID: exchangeOrderID,
		ClientOrderID:   f.ClientOrderID,
		Symbol:          f.Symbol,
		Side:            types.Side(f.Side),
		Type:            types.OrderType(f.OrderType),
		Price:           parseDec(f.LastFilledPrice),
	}, types.OrderStatus(f.Status)
}

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatOrderID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func unmarshalOrLog(raw json.RawMessage, v any, logger *slog.Logger) error {
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Error("unmarshal ws payload element", "error", err)
		return err
	}
	return nil
}
