package projection

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

func TestApplyPositionUpsertsAndClearsOnZeroQty(t *testing.T) {
	t.Parallel()
	s := New()
	scope := types.Scope{Venue: types.VenueFutures, Symbol: "BTCUSDT"}

	s.ApplyPosition(types.VenueFutures, types.Position{Symbol: "BTCUSDT", Side: types.PositionLong, Qty: decimal.NewFromInt(1)})
	pos, ok, err := s.Position(context.Background(), scope)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !ok || !pos.Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("Position = %+v, ok=%v", pos, ok)
	}

	s.ApplyPosition(types.VenueFutures, types.Position{Symbol: "BTCUSDT", Qty: decimal.Zero})
	_, ok, err = s.Position(context.Background(), scope)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if ok {
		t.Error("expected position to be cleared once qty reaches zero")
	}
}

func TestApplyBalanceAndBalances(t *testing.T) {
	t.Parallel()
	s := New()
	s.ApplyBalance(types.VenueFutures, types.Balance{Asset: "USDT", Free: decimal.NewFromInt(100)})
	s.ApplyBalance(types.VenueSpot, types.Balance{Asset: "USDT", Free: decimal.NewFromInt(50)})

	free, err := s.Balance(context.Background(), types.Scope{Venue: types.VenueFutures}, "USDT")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !free.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Balance = %s, want 100", free)
	}

	balances, err := s.Balances(context.Background(), types.Scope{Venue: types.VenueSpot})
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(balances) != 1 || !balances[0].Free.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Balances = %+v", balances)
	}
}

func TestApplyOrderRemovesOnTerminalStatus(t *testing.T) {
	t.Parallel()
	s := New()
	order := types.OpenOrder{ExchangeOrderID: "1", Symbol: "BTCUSDT"}

	s.ApplyOrder(order, types.OrderStatusNew)
	count, err := s.OpenOrdersCount(context.Background(), types.Scope{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("OpenOrdersCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	s.ApplyOrder(order, types.OrderStatusFilled)
	count, err = s.OpenOrdersCount(context.Background(), types.Scope{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("OpenOrdersCount: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 once order is filled", count)
	}
}

func TestOpenOrdersFiltersBySymbol(t *testing.T) {
	t.Parallel()
	s := New()
	s.ApplyOrder(types.OpenOrder{ExchangeOrderID: "1", Symbol: "BTCUSDT"}, types.OrderStatusNew)
	s.ApplyOrder(types.OpenOrder{ExchangeOrderID: "2", Symbol: "ETHUSDT"}, types.OrderStatusNew)

	orders, err := s.OpenOrders(context.Background(), types.Scope{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].Symbol != "BTCUSDT" {
		t.Errorf("orders = %+v", orders)
	}
}

func TestApplyEventDispatchesByEventType(t *testing.T) {
	t.Parallel()
	s := New()
	s.ApplyEvent(types.Event{
		EventType: types.EvtBalanceChanged,
		Scope:     types.Scope{Venue: types.VenueFutures},
		Payload:   map[string]any{"asset": "USDT", "free": "10"},
	})
	free, err := s.Balance(context.Background(), types.Scope{Venue: types.VenueFutures}, "USDT")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !free.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Balance = %s, want 10", free)
	}

	s.ApplyEvent(types.Event{
		EventType: types.EvtPositionChanged,
		Scope:     types.Scope{Venue: types.VenueFutures},
		Payload:   map[string]any{"symbol": "BTCUSDT", "side": "LONG", "qty": "2"},
	})
	pos, ok, err := s.Position(context.Background(), types.Scope{Venue: types.VenueFutures, Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !ok || !pos.Qty.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Position = %+v, ok=%v", pos, ok)
	}
}

type fakeEventSource struct {
	events []types.Event
}

func (f *fakeEventSource) GetSince(ctx context.Context, lastSeq int64, limit int) ([]types.Event, error) {
	var out []types.Event
	for _, e := range f.events {
		if e.Seq > lastSeq {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeEventSource) LastSeq(ctx context.Context) (int64, error) {
	if len(f.events) == 0 {
		return 0, nil
	}
	return f.events[len(f.events)-1].Seq, nil
}

func TestRebuildFromReplaysEventsAndResetsFirst(t *testing.T) {
	t.Parallel()
	s := New()
	s.ApplyBalance(types.VenueFutures, types.Balance{Asset: "STALE", Free: decimal.NewFromInt(999)})

	src := &fakeEventSource{events: []types.Event{
		{Seq: 1, EventType: types.EvtBalanceChanged, Scope: types.Scope{Venue: types.VenueFutures}, Payload: map[string]any{"asset": "USDT", "free": "42"}},
		{Seq: 2, EventType: types.EvtPositionChanged, Scope: types.Scope{Venue: types.VenueFutures}, Payload: map[string]any{"symbol": "BTCUSDT", "side": "LONG", "qty": "1"}},
	}}

	fromSeq, toSeq, err := s.RebuildFrom(context.Background(), src)
	if err != nil {
		t.Fatalf("RebuildFrom: %v", err)
	}
	if fromSeq != 0 || toSeq != 2 {
		t.Errorf("fromSeq=%d toSeq=%d, want 0,2", fromSeq, toSeq)
	}

	if _, err := s.Balance(context.Background(), types.Scope{Venue: types.VenueFutures}, "STALE"); err != nil {
		t.Fatalf("Balance: %v", err)
	}
	stale, _ := s.Balance(context.Background(), types.Scope{Venue: types.VenueFutures}, "STALE")
	if !stale.IsZero() {
		t.Errorf("stale balance = %s, want 0 after reset", stale)
	}

	fresh, _ := s.Balance(context.Background(), types.Scope{Venue: types.VenueFutures}, "USDT")
	if !fresh.Equal(decimal.NewFromInt(42)) {
		t.Errorf("fresh balance = %s, want 42", fresh)
	}
}
