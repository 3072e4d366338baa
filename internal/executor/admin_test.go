package executor

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

type fakeReconciler struct {
	adjustedCount int
	err           error
}

func (r *fakeReconciler) Reconcile(ctx context.Context, ledgerBalances map[types.Venue]map[string]decimal.Decimal) (int, error) {
	return r.adjustedCount, r.err
}

func TestRunReconcileHandlerReportsAdjustedCount(t *testing.T) {
	t.Parallel()
	h := &RunReconcileHandler{
		Reconciler:     &fakeReconciler{adjustedCount: 2},
		LedgerBalances: func(ctx context.Context) (map[types.Venue]map[string]decimal.Decimal, error) { return nil, nil },
	}

	res, err := h.Execute(context.Background(), types.Command{CommandID: "cmd-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Payload["adjusted_count"] != 2 {
		t.Errorf("expected success with adjusted_count=2, got %+v", res)
	}
	if len(res.Events) != 0 {
		t.Error("expected no events; the reconciler appends its own")
	}
}

func TestRunReconcileHandlerFailsWhenLedgerBalancesErrors(t *testing.T) {
	t.Parallel()
	h := &RunReconcileHandler{
		Reconciler:     &fakeReconciler{},
		LedgerBalances: func(ctx context.Context) (map[types.Venue]map[string]decimal.Decimal, error) { return nil, errors.New("db down") },
	}

	res, err := h.Execute(context.Background(), types.Command{CommandID: "cmd-2"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("expected failure when the ledger balance lookup errors")
	}
}

func TestRebuildProjectionHandlerEmitsEvent(t *testing.T) {
	t.Parallel()
	h := &RebuildProjectionHandler{
		Rebuild: func(ctx context.Context) (int64, int64, error) { return 10, 500, nil },
	}

	res, err := h.Execute(context.Background(), types.Command{CommandID: "cmd-3"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if len(res.Events) != 1 || res.Events[0].EventType != types.EvtProjectionRebuilt {
		t.Fatalf("expected a single ProjectionRebuilt event, got %+v", res.Events)
	}
	if res.Events[0].Payload["from_seq"] != int64(10) || res.Events[0].Payload["to_seq"] != int64(500) {
		t.Errorf("unexpected payload %+v", res.Events[0].Payload)
	}
}

func TestUpdateConfigHandlerSurfacesVersionConflict(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	configs := store.NewConfigStore(db)

	mock.ExpectQuery(`UPDATE config_store SET`).WillReturnError(sql.ErrNoRows)

	h := &UpdateConfigHandler{Configs: configs}
	cmd := types.Command{
		CommandID: "cmd-8",
		Actor:     types.Actor{Kind: types.ActorUser, ID: "op"},
		Payload: map[string]any{
			"key":              "risk",
			"value":            map[string]any{"max_position_size": "100"},
			"expected_version": 3,
		},
	}

	res, execErr := h.Execute(context.Background(), cmd)
	if execErr != nil {
		t.Fatalf("Execute: %v", execErr)
	}
	if res.Success || res.Error != "version conflict" {
		t.Errorf("expected version conflict failure, got %+v", res)
	}
}

func TestUpdateConfigHandlerSuccess(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	configs := store.NewConfigStore(db)

	mock.ExpectQuery(`INSERT INTO config_store`).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "value", "version", "updated_by", "updated_at"}).
			AddRow("risk", []byte(`{"max_position_size":"100"}`), 2, "USER:op", time.Now().UTC()))

	h := &UpdateConfigHandler{Configs: configs}
	cmd := types.Command{
		CommandID: "cmd-9",
		Actor:     types.Actor{Kind: types.ActorUser, ID: "op"},
		Payload: map[string]any{
			"key":   "risk",
			"value": map[string]any{"max_position_size": "100"},
		},
	}

	res, execErr := h.Execute(context.Background(), cmd)
	if execErr != nil {
		t.Fatalf("Execute: %v", execErr)
	}
	if !res.Success || res.Payload["version"] != 2 {
		t.Errorf("expected success with version=2, got %+v", res)
	}
}

func TestInternalTransferHandlerValidatesPayload(t *testing.T) {
	t.Parallel()
	h := &InternalTransferHandler{Client: dryRunExchangeClient()}

	res, err := h.Execute(context.Background(), types.Command{CommandID: "cmd-4", Payload: map[string]any{"asset": "USDT"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("expected failure when from_venue/to_venue/amount are missing")
	}
}

func TestInternalTransferHandlerSuccess(t *testing.T) {
	t.Parallel()
	h := &InternalTransferHandler{Client: dryRunExchangeClient()}
	cmd := types.Command{
		CommandID: "cmd-5",
		Scope:     types.Scope{Exchange: "BINANCE"},
		Payload: map[string]any{
			"asset":      "USDT",
			"from_venue": "SPOT",
			"to_venue":   "FUTURES",
			"amount":     "100",
		},
	}

	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || len(res.Events) != 1 || res.Events[0].EventType != types.EvtInternalTransferCompleted {
		t.Fatalf("expected a successful InternalTransferCompleted event, got %+v", res)
	}
}

func TestWithdrawHandlerRejectsBelowMinimum(t *testing.T) {
	t.Parallel()
	h := &WithdrawHandler{Client: dryRunExchangeClient(), MinWithdrawUSDT: decimal.NewFromInt(10)}
	cmd := types.Command{
		CommandID: "cmd-6",
		Payload:   map[string]any{"asset": "USDT", "address": "0xabc", "amount": "5"},
	}

	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("expected rejection below the configured minimum")
	}
}

func TestWithdrawHandlerSuccess(t *testing.T) {
	t.Parallel()
	h := &WithdrawHandler{Client: dryRunExchangeClient()}
	cmd := types.Command{
		CommandID: "cmd-7",
		Scope:     types.Scope{Exchange: "BINANCE"},
		Payload:   map[string]any{"asset": "USDT", "address": "0xabc", "amount": "50"},
	}

	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || len(res.Events) != 1 || res.Events[0].EventType != types.EvtWithdrawCompleted {
		t.Fatalf("expected a successful WithdrawCompleted event, got %+v", res)
	}
}
