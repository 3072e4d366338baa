// Package projection maintains an in-memory read-side view of the current
// position, balance, and open-order state by applying the same events the
// event store persists. It backs the risk guard's Projector, the strategy
// runtime's Projector, and the close-position handler's PositionGetter —
// one materialized view, three narrow read interfaces, so the engine can
// answer risk/strategy queries without replaying the log on every tick.
//
// The view is rebuilt from scratch by RebuildFrom, which replays the event
// store from seq 0; this backs the RebuildProjection command and doubles
// as the initial load at engine startup.
package projection

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

type positionKey struct {
	venue  types.Venue
	symbol string
}

type balanceKey struct {
	venue types.Venue
	asset string
}

// Store is the in-memory projection. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	positions  map[positionKey]types.Position
	balances   map[balanceKey]types.Balance
	openOrders map[string]types.OpenOrder // keyed by exchange_order_id
}

// New builds an empty projection.
func New() *Store {
	return &Store{
		positions:  make(map[positionKey]types.Position),
		balances:   make(map[balanceKey]types.Balance),
		openOrders: make(map[string]types.OpenOrder),
	}
}

// ApplyPosition upserts a position snapshot (from a PositionChanged event or
// a margin-call frame). A zero-quantity position clears the slot entirely so
// Position's hasPosition return stays accurate.
func (s *Store) ApplyPosition(venue types.Venue, pos types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey{venue: venue, symbol: pos.Symbol}
	if pos.Qty.IsZero() {
		delete(s.positions, key)
		return
	}
	s.positions[key] = pos
}

// ApplyBalance upserts a balance snapshot (from a BalanceChanged event).
func (s *Store) ApplyBalance(venue types.Venue, bal types.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey{venue: venue, asset: bal.Asset}] = bal
}

// ApplyOrder upserts a resting order, or removes it once it reaches a
// terminal status (FILLED, CANCELED, EXPIRED, REJECTED).
func (s *Store) ApplyOrder(order types.OpenOrder, status types.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status {
	case types.OrderStatusFilled, types.OrderStatusCanceled, types.OrderStatusExpired, types.OrderStatusRejected:
		delete(s.openOrders, order.ExchangeOrderID)
	default:
		s.openOrders[order.ExchangeOrderID] = order
	}
}

// Position implements risk.Projector, strategy.Projector and
// executor.PositionGetter's single-symbol lookup.
func (s *Store) Position(ctx context.Context, scope types.Scope) (types.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[positionKey{venue: scope.Venue, symbol: scope.Symbol}]
	return pos, ok, nil
}

// Balance implements risk.Projector's single-asset lookup.
func (s *Store) Balance(ctx context.Context, scope types.Scope, asset string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.balances[balanceKey{venue: scope.Venue, asset: asset}]
	if !ok {
		return decimal.Zero, nil
	}
	return bal.Free, nil
}

// Balances implements strategy.Projector's full-venue listing.
func (s *Store) Balances(ctx context.Context, scope types.Scope) ([]types.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Balance, 0, len(s.balances))
	for k, bal := range s.balances {
		if k.venue == scope.Venue {
			out = append(out, bal)
		}
	}
	return out, nil
}

// OpenOrders implements strategy.Projector's full listing for scope.Symbol.
func (s *Store) OpenOrders(ctx context.Context, scope types.Scope) ([]types.OpenOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.OpenOrder, 0, len(s.openOrders))
	for _, o := range s.openOrders {
		if scope.Symbol == "" || o.Symbol == scope.Symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

// OpenOrdersCount implements risk.Projector's count-only query.
func (s *Store) OpenOrdersCount(ctx context.Context, scope types.Scope) (int, error) {
	orders, err := s.OpenOrders(ctx, scope)
	return len(orders), err
}

// Reset clears the projection; used by RebuildProjection before replay.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[positionKey]types.Position)
	s.balances = make(map[balanceKey]types.Balance)
	s.openOrders = make(map[string]types.OpenOrder)
}

// EventSource is the subset of store.EventStore the rebuilder needs,
// declared locally to avoid a direct dependency on the store package's
// full surface.
type EventSource interface {
	GetSince(ctx context.Context, lastSeq int64, limit int) ([]types.Event, error)
	LastSeq(ctx context.Context) (int64, error)
}

// ApplyEvent folds one event into the projection if it's one of the types
// this view tracks; unrecognized event types are no-ops.
func (s *Store) ApplyEvent(e types.Event) {
	switch e.EventType {
	case types.EvtPositionChanged:
		pos := positionFromPayload(e.Payload)
		s.ApplyPosition(e.Scope.Venue, pos)
	case types.EvtBalanceChanged:
		bal := balanceFromPayload(e.Payload)
		s.ApplyBalance(e.Scope.Venue, bal)
	case types.EvtOrderPlaced, types.EvtOrderUpdated:
		order, status := openOrderFromPayload(e.Payload)
		s.ApplyOrder(order, status)
	case types.EvtOrderCancelled:
		order, _ := openOrderFromPayload(e.Payload)
		s.ApplyOrder(order, types.OrderStatusCanceled)
	}
}

// RebuildFrom replays every event in src from the beginning, in batches,
// returning the sequence range replayed. It backs RebuildProjectionHandler.
func (s *Store) RebuildFrom(ctx context.Context, src EventSource) (fromSeq, toSeq int64, err error) {
	s.Reset()
	const batchSize = 1000
	var lastSeq int64
	for {
		events, err := src.GetSince(ctx, lastSeq, batchSize)
		if err != nil {
			return 0, lastSeq, err
		}
		if len(events) == 0 {
			break
		}
		for _, e := range events {
			s.ApplyEvent(e)
			lastSeq = e.Seq
		}
		if len(events) < batchSize {
			break
		}
	}
	return 0, lastSeq, nil
}

func decimalFromPayload(payload map[string]any, key string) decimal.Decimal {
	s, _ := payload[key].(string)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func positionFromPayload(payload map[string]any) types.Position {
	symbol, _ := payload["symbol"].(string)
	side, _ := payload["side"].(string)
	leverage := 0
	switch v := payload["leverage"].(type) {
	case int:
		leverage = v
	case float64:
		leverage = int(v)
	}
	return types.Position{
		Symbol:        symbol,
		Side:          types.PositionSide(side),
		Qty:           decimalFromPayload(payload, "qty"),
		EntryPrice:    decimalFromPayload(payload, "entry_price"),
		UnrealizedPnL: decimalFromPayload(payload, "unrealized_pnl"),
		Leverage:      leverage,
	}
}

func balanceFromPayload(payload map[string]any) types.Balance {
	asset, _ := payload["asset"].(string)
	return types.Balance{
		Asset:  asset,
		Free:   decimalFromPayload(payload, "free"),
		Locked: decimalFromPayload(payload, "locked"),
	}
}

func openOrderFromPayload(payload map[string]any) (types.OpenOrder, types.OrderStatus) {
	symbol, _ := payload["symbol"].(string)
	side, _ := payload["side"].(string)
	orderType, _ := payload["order_type"].(string)
	exchangeOrderID, _ := payload["exchange_order_id"].(string)
	clientOrderID, _ := payload["client_order_id"].(string)
	statusStr, _ := payload["order_status"].(string)
	if statusStr == "" {
		statusStr, _ = payload["status"].(string)
	}
	reduceOnly, _ := payload["reduce_only"].(bool)
	return types.OpenOrder{
		ExchangeOrderID: exchangeOrderID,
		ClientOrderID:   clientOrderID,
		Symbol:          symbol,
		Side:            types.Side(side),
		Type:            types.OrderType(orderType),
		Qty:             decimalFromPayload(payload, "original_qty"),
		Price:           decimalFromPayload(payload, "price"),
		ReduceOnly:      reduceOnly,
	}, types.OrderStatus(statusStr)
}
