package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

type fakeEmitter struct {
	placed  []PlaceOrderRequest
	closed  []bool
	cancels int
}

func (e *fakeEmitter) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	e.placed = append(e.placed, req)
	return "cmd-1", nil
}
func (e *fakeEmitter) CancelOrder(ctx context.Context, exchangeOrderID, clientOrderID string) (string, error) {
	e.cancels++
	return "cmd-cancel", nil
}
func (e *fakeEmitter) ClosePosition(ctx context.Context, reduceOnly bool) (string, error) {
	e.closed = append(e.closed, reduceOnly)
	return "cmd-close", nil
}
func (e *fakeEmitter) CancelAllOrders(ctx context.Context) (string, error) {
	e.cancels++
	return "cmd-cancel-all", nil
}

func risingBars(n int, start float64, step float64) []types.Bar {
	bars := make([]types.Bar, n)
	base := time.Now().Add(-time.Duration(n) * time.Hour)
	for i := 0; i < n; i++ {
		close := start + step*float64(i)
		bars[i] = types.Bar{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     decimal.NewFromFloat(close),
			High:     decimal.NewFromFloat(close + 1),
			Low:      decimal.NewFromFloat(close - 1),
			Close:    decimal.NewFromFloat(close),
		}
	}
	return bars
}

func newSmaCrossTC(bars []types.Bar) *TickContext {
	return &TickContext{
		Scope:      types.Scope{Symbol: "XRPUSDT"},
		Balances:   map[string]types.Balance{},
		OHLCV:      bars,
		EngineMode: types.ModeRunning,
		State:      map[string]any{},
	}
}

func TestSmaCrossSkipsWithInsufficientData(t *testing.T) {
	t.Parallel()

	s := NewSmaCross(testLogger())
	if err := s.OnInit(context.Background(), s.DefaultParams()); err != nil {
		t.Fatalf("OnInit: %v", err)
	}
	tc := newSmaCrossTC(risingBars(5, 1, 0.1))
	emit := &fakeEmitter{}

	if err := s.OnTick(context.Background(), tc, emit); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if len(emit.placed) != 0 {
		t.Errorf("expected no orders with insufficient data, got %d", len(emit.placed))
	}
}

func TestSmaCrossFirstTickNoSignal(t *testing.T) {
	t.Parallel()

	s := NewSmaCross(testLogger())
	_ = s.OnInit(context.Background(), s.DefaultParams())
	tc := newSmaCrossTC(risingBars(25, 1, 0.1))
	emit := &fakeEmitter{}

	if err := s.OnStart(context.Background(), tc); err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	if err := s.OnTick(context.Background(), tc, emit); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if len(emit.placed) != 0 {
		t.Errorf("expected no orders on the first tick, got %d", len(emit.placed))
	}
	if tc.State["prev_fast_above"] == nil {
		t.Error("expected prev_fast_above to be recorded after the first tick")
	}
}

func TestSmaCrossEntersOnGoldenCross(t *testing.T) {
	t.Parallel()

	s := NewSmaCross(testLogger())
	_ = s.OnInit(context.Background(), s.DefaultParams())
	bars := risingBars(25, 1, -0.05)
	tc := newSmaCrossTC(bars)
	emit := &fakeEmitter{}

	_ = s.OnStart(context.Background(), tc)
	// Prime prev_fast_above=false with a declining series, then flip to rising.
	if err := s.OnTick(context.Background(), tc, emit); err != nil {
		t.Fatalf("priming OnTick: %v", err)
	}

	tc.OHLCV = risingBars(25, 1, 0.2)
	if err := s.OnTick(context.Background(), tc, emit); err != nil {
		t.Fatalf("OnTick: %v", err)
	}

	if len(emit.placed) != 1 || emit.placed[0].Side != types.BUY {
		t.Errorf("expected a single BUY order on golden cross, got %+v", emit.placed)
	}
}

func TestSmaCrossClosesOppositePositionFirst(t *testing.T) {
	t.Parallel()

	s := NewSmaCross(testLogger())
	_ = s.OnInit(context.Background(), s.DefaultParams())
	tc := newSmaCrossTC(risingBars(25, 1, -0.05))
	tc.HasPosition = true
	tc.Position = types.Position{Side: types.PositionShort, Qty: decimal.NewFromInt(5)}
	emit := &fakeEmitter{}

	_ = s.OnStart(context.Background(), tc)
	_ = s.OnTick(context.Background(), tc, emit)
	tc.OHLCV = risingBars(25, 1, 0.2)
	if err := s.OnTick(context.Background(), tc, emit); err != nil {
		t.Fatalf("OnTick: %v", err)
	}

	if len(emit.closed) != 1 {
		t.Errorf("expected ClosePosition to be called once before entering, got %d", len(emit.closed))
	}
}

func TestSmaCrossSkipsWhenCannotTrade(t *testing.T) {
	t.Parallel()

	s := NewSmaCross(testLogger())
	_ = s.OnInit(context.Background(), s.DefaultParams())
	tc := newSmaCrossTC(risingBars(25, 1, 0.1))
	tc.EngineMode = types.ModeSafe
	emit := &fakeEmitter{}

	if err := s.OnTick(context.Background(), tc, emit); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if len(emit.placed) != 0 {
		t.Error("expected no orders while the engine is not in RUNNING mode")
	}
}
