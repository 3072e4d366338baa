package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// Reconciler is the subset of recovery.OpeningReconciler (via its
// ReconcilerAdapter) this handler needs; declared locally so executor
// doesn't import recovery or poller directly.
type Reconciler interface {
	Reconcile(ctx context.Context, ledgerBalances map[types.Venue]map[string]decimal.Decimal) (adjustedCount int, err error)
}

// LedgerBalanceGetter mirrors poller.LedgerBalanceGetter.
type LedgerBalanceGetter func(ctx context.Context) (map[types.Venue]map[string]decimal.Decimal, error)

// RunReconcileHandler invokes the opening reconciler out of its normal
// cadence. The reconciler appends its own OpeningBalanceAdjusted events
// directly to the event store, so this handler emits none itself.
type RunReconcileHandler struct {
	Reconciler     Reconciler
	LedgerBalances LedgerBalanceGetter
}

func (h *RunReconcileHandler) CommandType() types.CommandType { return types.CmdRunReconcile }

func (h *RunReconcileHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	ledgerBalances, err := h.LedgerBalances(ctx)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	adjustedCount, err := h.Reconciler.Reconcile(ctx, ledgerBalances)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Payload: map[string]any{"adjusted_count": adjustedCount}}, nil
}

// ProjectionRebuilder forces the in-process projection cache to recompute
// from the event log, reporting the sequence range it replayed.
type ProjectionRebuilder func(ctx context.Context) (fromSeq, toSeq int64, err error)

// RebuildProjectionHandler is a safety valve after a suspected projection
// bug: forces a full recompute rather than trusting incremental application.
type RebuildProjectionHandler struct {
	Rebuild ProjectionRebuilder
}

func (h *RebuildProjectionHandler) CommandType() types.CommandType { return types.CmdRebuildProj }

func (h *RebuildProjectionHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	start := time.Now().UTC()
	fromSeq, toSeq, err := h.Rebuild(ctx)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	durationMs := time.Since(start).Milliseconds()

	event := types.Event{
		EventType:     types.EvtProjectionRebuilt,
		TS:            start,
		Source:        types.SourceBot,
		EntityKind:    types.EntityEngine,
		EntityID:      "main",
		Scope:         cmd.Scope,
		DedupKey:      dedup.EngineEvent(fmt.Sprintf("projection_rebuilt:%s", cmd.CommandID), start.UnixMilli()),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"from_seq":    fromSeq,
			"to_seq":      toSeq,
			"duration_ms": durationMs,
		},
	}

	return Result{
		Success: true,
		Payload: map[string]any{"from_seq": fromSeq, "to_seq": toSeq, "duration_ms": durationMs},
		Events:  []types.Event{event},
	}, nil
}

// UpdateConfigHandler wraps config_store.Set. A version conflict fails the
// command with last_error="version conflict" rather than silently
// overwriting a concurrent write.
type UpdateConfigHandler struct {
	Configs *store.ConfigStore
}

func (h *UpdateConfigHandler) CommandType() types.CommandType { return types.CmdUpdateConfig }

func (h *UpdateConfigHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	key, _ := cmd.Payload["key"].(string)
	if key == "" {
		return Result{Success: false, Error: "key is required"}, nil
	}
	value, _ := cmd.Payload["value"].(map[string]any)
	if value == nil {
		return Result{Success: false, Error: "value is required"}, nil
	}

	var expectedVersion *int
	if _, ok := cmd.Payload["expected_version"]; ok {
		ev := payloadInt(cmd.Payload, "expected_version")
		expectedVersion = &ev
	}

	entry, err := h.Configs.Set(ctx, key, value, actorString(cmd.Actor), expectedVersion)
	if err == store.ErrVersionConflict {
		return Result{Success: false, Error: "version conflict"}, nil
	}
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	return Result{Success: true, Payload: map[string]any{"key": key, "version": entry.Version}}, nil
}

// InternalTransferHandler moves an asset between the account's SPOT and
// FUTURES sub-ledgers.
type InternalTransferHandler struct {
	Client *exchange.Client
}

func (h *InternalTransferHandler) CommandType() types.CommandType { return types.CmdInternalTransfer }

func (h *InternalTransferHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	asset, _ := cmd.Payload["asset"].(string)
	from, _ := cmd.Payload["from_venue"].(string)
	to, _ := cmd.Payload["to_venue"].(string)
	amount := payloadDecimal(cmd.Payload, "amount")
	if asset == "" || from == "" || to == "" || !amount.IsPositive() {
		return Result{Success: false, Error: "asset, from_venue, to_venue and a positive amount are required"}, nil
	}

	res, err := h.Client.InternalTransfer(ctx, asset, amount, types.Venue(from), types.Venue(to))
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	tranID := res.TranID
	if tranID == "" {
		tranID = uuid.NewString()
	}
	event := types.Event{
		EventType:     types.EvtInternalTransferCompleted,
		Source:        types.SourceBot,
		EntityKind:    types.EntityTransfer,
		EntityID:      tranID,
		Scope:         cmd.Scope,
		DedupKey:      dedup.Family(cmd.Scope.Exchange, "transfer", tranID),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"tran_id":    tranID,
			"asset":      asset,
			"amount":     amount.String(),
			"from_venue": from,
			"to_venue":   to,
			"status":     res.Status,
		},
	}

	return Result{
		Success: true,
		Payload: map[string]any{"tran_id": tranID, "status": res.Status},
		Events:  []types.Event{event},
	}, nil
}

// WithdrawHandler requests an external withdrawal. Always user-priority and
// always trading-class regardless of engine mode — that classification
// lives in types.CommandType.IsTradingClass, not here.
type WithdrawHandler struct {
	Client          *exchange.Client
	MinWithdrawUSDT decimal.Decimal
}

func (h *WithdrawHandler) CommandType() types.CommandType { return types.CmdWithdraw }

func (h *WithdrawHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	asset, _ := cmd.Payload["asset"].(string)
	address, _ := cmd.Payload["address"].(string)
	network, _ := cmd.Payload["network"].(string)
	amount := payloadDecimal(cmd.Payload, "amount")
	if asset == "" || address == "" || !amount.IsPositive() {
		return Result{Success: false, Error: "asset, address and a positive amount are required"}, nil
	}
	if h.MinWithdrawUSDT.IsPositive() && amount.LessThan(h.MinWithdrawUSDT) {
		return Result{Success: false, Error: fmt.Sprintf("amount %s below minimum withdrawal %s", amount, h.MinWithdrawUSDT)}, nil
	}

	res, err := h.Client.Withdraw(ctx, asset, address, amount, network)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	tranID := res.TranID
	if tranID == "" {
		tranID = uuid.NewString()
	}
	event := types.Event{
		EventType:     types.EvtWithdrawCompleted,
		Source:        types.SourceBot,
		EntityKind:    types.EntityWithdraw,
		EntityID:      tranID,
		Scope:         cmd.Scope,
		DedupKey:      dedup.Family(cmd.Scope.Exchange, "withdraw", tranID),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"tran_id": tranID,
			"asset":   asset,
			"amount":  amount.String(),
			"address": address,
			"network": network,
			"status":  res.Status,
		},
	}

	return Result{
		Success: true,
		Payload: map[string]any{"tran_id": tranID, "status": res.Status},
		Events:  []types.Event{event},
	}, nil
}
