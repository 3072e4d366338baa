package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

type fakeRiskChecker struct {
	passed bool
	reason string
	err    error
	calls  int
}

func (c *fakeRiskChecker) Check(ctx context.Context, cmd types.Command) (bool, string, error) {
	c.calls++
	return c.passed, c.reason, c.err
}

func newTestCommandStore(t *testing.T) (*store.CommandStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewCommandStore(db), mock
}

func TestPlaceOrderInsertsWhenRiskGuardPasses(t *testing.T) {
	t.Parallel()

	cs, mock := newTestCommandStore(t)
	mock.ExpectQuery(`INSERT INTO command_store`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))

	checker := &fakeRiskChecker{passed: true}
	e := NewCommandEmitter(cs, types.Scope{Symbol: "XRPUSDT"}, "SmaCross", checker, testLogger())

	id, err := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Side: types.BUY, OrderType: types.OrderTypeMarket, Quantity: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id == "" {
		t.Error("expected a non-empty command id")
	}
	if checker.calls != 1 {
		t.Errorf("expected risk guard to be checked once, got %d", checker.calls)
	}
}

func TestPlaceOrderReturnsEmptyWhenRiskGuardRejects(t *testing.T) {
	t.Parallel()

	cs, _ := newTestCommandStore(t)
	checker := &fakeRiskChecker{passed: false, reason: "max position size"}
	e := NewCommandEmitter(cs, types.Scope{Symbol: "XRPUSDT"}, "SmaCross", checker, testLogger())

	id, err := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Side: types.BUY, OrderType: types.OrderTypeMarket, Quantity: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty command id on rejection, got %q", id)
	}
}

func TestPlaceOrderPropagatesRiskGuardError(t *testing.T) {
	t.Parallel()

	cs, _ := newTestCommandStore(t)
	checker := &fakeRiskChecker{err: errors.New("boom")}
	e := NewCommandEmitter(cs, types.Scope{Symbol: "XRPUSDT"}, "SmaCross", checker, testLogger())

	_, err := e.PlaceOrder(context.Background(), PlaceOrderRequest{
		Side: types.BUY, OrderType: types.OrderTypeMarket, Quantity: decimal.NewFromInt(10),
	})
	if err == nil {
		t.Fatal("expected an error when the risk guard errors")
	}
}

func TestCancelOrderRequiresAnID(t *testing.T) {
	t.Parallel()

	cs, _ := newTestCommandStore(t)
	e := NewCommandEmitter(cs, types.Scope{Symbol: "XRPUSDT"}, "SmaCross", nil, testLogger())

	id, err := e.CancelOrder(context.Background(), "", "")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if id != "" {
		t.Error("expected empty command id when neither id is supplied")
	}
}

func TestCancelOrderDoesNotRiskCheck(t *testing.T) {
	t.Parallel()

	cs, mock := newTestCommandStore(t)
	mock.ExpectQuery(`INSERT INTO command_store`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))

	checker := &fakeRiskChecker{passed: false}
	e := NewCommandEmitter(cs, types.Scope{Symbol: "XRPUSDT"}, "SmaCross", checker, testLogger())

	id, err := e.CancelOrder(context.Background(), "ex-1", "")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if id == "" {
		t.Error("expected CancelOrder to insert even though the risk guard would reject")
	}
	if checker.calls != 0 {
		t.Errorf("expected CancelOrder to bypass the risk guard, guard was checked %d times", checker.calls)
	}
}

func TestClosePositionAndCancelAllBypassRiskGuard(t *testing.T) {
	t.Parallel()

	cs, mock := newTestCommandStore(t)
	mock.ExpectQuery(`INSERT INTO command_store`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO command_store`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(2)))

	checker := &fakeRiskChecker{passed: false}
	e := NewCommandEmitter(cs, types.Scope{Symbol: "XRPUSDT"}, "SmaCross", checker, testLogger())

	if _, err := e.ClosePosition(context.Background(), true); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if _, err := e.CancelAllOrders(context.Background()); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if checker.calls != 0 {
		t.Errorf("expected neither call to touch the risk guard, got %d checks", checker.calls)
	}
}
