package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

type fakeStrategy struct {
	name          string
	onInitErr     error
	onStartErr    error
	onTickErr     error
	onErrorResult bool
	tickCalls     int
	startCalls    int
	stopCalls     int
}

func (f *fakeStrategy) Name() string                         { return f.name }
func (f *fakeStrategy) Version() string                      { return "1.0.0" }
func (f *fakeStrategy) Description() string                  { return "fake" }
func (f *fakeStrategy) DefaultParams() map[string]any         { return map[string]any{} }
func (f *fakeStrategy) OnInit(ctx context.Context, p map[string]any) error { return f.onInitErr }
func (f *fakeStrategy) OnStart(ctx context.Context, tc *TickContext) error {
	f.startCalls++
	return f.onStartErr
}
func (f *fakeStrategy) OnTick(ctx context.Context, tc *TickContext, emit CommandEmitter) error {
	f.tickCalls++
	return f.onTickErr
}
func (f *fakeStrategy) OnStop(ctx context.Context, tc *TickContext) error {
	f.stopCalls++
	return nil
}
func (f *fakeStrategy) OnError(ctx context.Context, err error, tc *TickContext) bool {
	return f.onErrorResult
}

func newTestRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events := store.NewEventStore(db)
	commands := store.NewCommandStore(db)
	configs := store.NewConfigStore(db)
	scope := types.Scope{Exchange: "BINANCE", Venue: types.VenueFutures, Symbol: "XRPUSDT"}
	builder := NewContextBuilder(scope, &fakeProjector{}, nil, "5m", 50, testLogger())

	r := NewRunner(events, commands, configs, scope, builder, nil, nil, nil, testLogger())
	return r, mock
}

func expectEventInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`INSERT INTO event_store`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
}

func expectConfigGetMiss(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT config_key, value, version, updated_by, updated_at`).
		WillReturnError(errors.New("sql: no rows in result set"))
}

func expectConfigSet(mock sqlmock.Sqlmock, value map[string]any) {
	valueJSON, _ := json.Marshal(value)
	mock.ExpectQuery(`INSERT INTO config_store`).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "value", "version", "updated_by", "updated_at"}).
			AddRow("k", valueJSON, 1, "strategy_runner", time.Now().UTC()))
}

func TestRunnerLoadStartTickStop(t *testing.T) {
	t.Parallel()

	r, mock := newTestRunner(t)
	expectEventInsert(mock) // loaded
	s := &fakeStrategy{name: "Fake"}

	if err := r.LoadStrategy(context.Background(), s, nil); err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}

	expectConfigGetMiss(mock) // restoreStrategyState
	expectEventInsert(mock)   // started
	expectConfigSet(mock, map[string]any{"is_running": true})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.startCalls != 1 {
		t.Errorf("expected OnStart called once, got %d", s.startCalls)
	}
	if !r.IsRunning() {
		t.Error("expected runner to report running after Start")
	}

	r.Tick(context.Background())
	if s.tickCalls != 1 {
		t.Errorf("expected OnTick called once, got %d", s.tickCalls)
	}

	expectEventInsert(mock) // stopped
	expectConfigSet(mock, map[string]any{"is_running": false})

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.stopCalls != 1 {
		t.Errorf("expected OnStop called once, got %d", s.stopCalls)
	}
	if r.IsRunning() {
		t.Error("expected runner to report not running after Stop")
	}
}

func TestRunnerTickStopsStrategyWhenOnErrorReturnsFalse(t *testing.T) {
	t.Parallel()

	r, mock := newTestRunner(t)
	expectEventInsert(mock) // loaded
	s := &fakeStrategy{name: "Fake", onTickErr: errors.New("boom"), onErrorResult: false}

	if err := r.LoadStrategy(context.Background(), s, nil); err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}

	expectConfigGetMiss(mock)
	expectEventInsert(mock)
	expectConfigSet(mock, map[string]any{"is_running": true})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	expectEventInsert(mock) // stop triggered by the failed tick
	expectConfigSet(mock, map[string]any{"is_running": false})

	r.Tick(context.Background())

	if r.IsRunning() {
		t.Error("expected the runner to stop the strategy after OnError returned false")
	}
}

func TestRunnerTickContinuesWhenOnErrorReturnsTrue(t *testing.T) {
	t.Parallel()

	r, mock := newTestRunner(t)
	expectEventInsert(mock)
	s := &fakeStrategy{name: "Fake", onTickErr: errors.New("boom"), onErrorResult: true}

	if err := r.LoadStrategy(context.Background(), s, nil); err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}
	expectConfigGetMiss(mock)
	expectEventInsert(mock)
	expectConfigSet(mock, map[string]any{"is_running": true})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.Tick(context.Background())

	if !r.IsRunning() {
		t.Error("expected the runner to keep running when OnError returns true")
	}
}

func TestRunnerHandleTradeEventIgnoresOtherSymbols(t *testing.T) {
	t.Parallel()

	r, mock := newTestRunner(t)
	expectEventInsert(mock)
	s := &fakeStrategy{name: "Fake"}
	if err := r.LoadStrategy(context.Background(), s, nil); err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}
	expectConfigGetMiss(mock)
	expectEventInsert(mock)
	expectConfigSet(mock, map[string]any{"is_running": true})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.HandleTradeEvent(context.Background(), types.TradeEvent{Symbol: "BTCUSDT"})
}

func TestStateDecimalAndStateInt(t *testing.T) {
	t.Parallel()

	state := map[string]any{"equity": "123.45", "count": 7}
	if d, ok := stateDecimal(state, "equity"); !ok || d.String() != "123.45" {
		t.Errorf("stateDecimal() = %v, %v", d, ok)
	}
	if got := stateInt(state, "count"); got != 7 {
		t.Errorf("stateInt() = %d, want 7", got)
	}
	if got := stateInt(state, "missing"); got != 0 {
		t.Errorf("stateInt() for missing key = %d, want 0", got)
	}
}
