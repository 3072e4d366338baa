// Package recovery implements the first-run bootstrap sequence: record the
// starting capital snapshot, backfill the recent history that predates the
// bot's own event log, and reconcile the ledger's computed balance against
// the exchange's actual balance once that backfill settles.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// adjustmentThreshold is the minimum absolute difference worth recording;
// anything smaller is float-dust from wallet interest ticks, not drift.
var adjustmentThreshold = decimal.NewFromFloat(0.0001)

// Adjustment describes a single venue/asset discrepancy between the ledger's
// computed balance and the exchange's actual balance.
type Adjustment struct {
	Venue    types.Venue
	Asset    string
	Ledger   decimal.Decimal
	Exchange decimal.Decimal
	Diff     decimal.Decimal
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Adjustments []Adjustment
	Skipped     int
}

// OpeningReconciler compares the ledger's replayed balance against the
// exchange's real balance and emits an OpeningBalanceAdjusted event for every
// asset whose difference exceeds adjustmentThreshold.
type OpeningReconciler struct {
	Client *exchange.Client
	Events *store.EventStore
	Scope  types.Scope
}

// NewOpeningReconciler builds a reconciler scoped to scope.
func NewOpeningReconciler(client *exchange.Client, events *store.EventStore, scope types.Scope) *OpeningReconciler {
	return &OpeningReconciler{Client: client, Events: events, Scope: scope}
}

// AsPoller adapts OpeningReconciler to poller.Reconciler's narrower
// signature (adjusted count only), so the reconciliation poller can trigger
// it without this package importing poller's full Poller interface.
func (r *OpeningReconciler) AsPoller() *ReconcilerAdapter {
	return &ReconcilerAdapter{r}
}

// ReconcilerAdapter narrows OpeningReconciler.Reconcile's detailed
// ReconcileResult down to the adjusted count poller.Reconciliation expects.
type ReconcilerAdapter struct {
	*OpeningReconciler
}

func (a *ReconcilerAdapter) Reconcile(ctx context.Context, ledgerBalances map[types.Venue]map[string]decimal.Decimal) (int, error) {
	result, err := a.OpeningReconciler.Reconcile(ctx, ledgerBalances)
	if err != nil {
		return 0, err
	}
	return len(result.Adjustments), nil
}

// Reconcile fetches the exchange's FUTURES and SPOT balances, compares them
// against ledgerBalances (the ledger's own computed view, keyed the same
// way), and appends an adjustment event for every material difference.
func (r *OpeningReconciler) Reconcile(ctx context.Context, ledgerBalances map[types.Venue]map[string]decimal.Decimal) (ReconcileResult, error) {
	exchangeBalances, err := r.fetchExchangeBalances(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("opening reconciler: fetch exchange balances: %w", err)
	}

	result := ReconcileResult{}
	for _, venue := range []types.Venue{types.VenueFutures, types.VenueSpot} {
		assets := unionAssets(ledgerBalances[venue], exchangeBalances[venue])
		for _, asset := range assets {
			ledgerAmt := ledgerBalances[venue][asset]
			exchangeAmt := exchangeBalances[venue][asset]
			diff := exchangeAmt.Sub(ledgerAmt)

			if diff.Abs().LessThan(adjustmentThreshold) {
				result.Skipped++
				continue
			}

			adj := Adjustment{Venue: venue, Asset: asset, Ledger: ledgerAmt, Exchange: exchangeAmt, Diff: diff}
			saved, err := r.appendAdjustment(ctx, adj)
			if err != nil {
				return result, fmt.Errorf("opening reconciler: append adjustment: %w", err)
			}
			if saved {
				result.Adjustments = append(result.Adjustments, adj)
			}
		}
	}
	return result, nil
}

func (r *OpeningReconciler) fetchExchangeBalances(ctx context.Context) (map[types.Venue]map[string]decimal.Decimal, error) {
	out := map[types.Venue]map[string]decimal.Decimal{
		types.VenueFutures: {},
		types.VenueSpot:    {},
	}
	futures, err := r.Client.AccountSnapshot(ctx, types.VenueFutures)
	if err != nil {
		return nil, err
	}
	out[types.VenueFutures] = futures

	spot, err := r.Client.AccountSnapshot(ctx, types.VenueSpot)
	if err != nil {
		return nil, err
	}
	out[types.VenueSpot] = spot
	return out, nil
}

func (r *OpeningReconciler) appendAdjustment(ctx context.Context, adj Adjustment) (bool, error) {
	tsMs := time.Now().UTC().UnixMilli()
	key := dedup.OpeningAdjustment(r.Scope.Mode, string(adj.Venue), adj.Asset, tsMs)
	res, err := r.Events.Append(ctx, types.Event{
		EventType:  types.EvtOpeningBalanceAdjusted,
		Source:     types.SourceBot,
		EntityKind: types.EntityCapital,
		EntityID:   fmt.Sprintf("%s_%s", adj.Venue, adj.Asset),
		Scope:      r.Scope,
		DedupKey:   key,
		Payload: map[string]any{
			"venue":    string(adj.Venue),
			"asset":    adj.Asset,
			"ledger":   adj.Ledger.String(),
			"exchange": adj.Exchange.String(),
			"diff":     adj.Diff.String(),
		},
	})
	if err != nil {
		return false, err
	}
	return res.Stored, nil
}

func unionAssets(a, b map[string]decimal.Decimal) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for asset := range a {
		if _, ok := seen[asset]; !ok {
			seen[asset] = struct{}{}
			out = append(out, asset)
		}
	}
	for asset := range b {
		if _, ok := seen[asset]; !ok {
			seen[asset] = struct{}{}
			out = append(out, asset)
		}
	}
	return out
}
