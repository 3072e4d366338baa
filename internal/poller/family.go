package poller

import (
	"context"
	"fmt"
	"time"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// familyFetcher is the shape shared by the history endpoints a Family
// poller wraps: transfer/convert/deposit-withdraw/dust all return a flat
// list of HistoryRecords since a given time.
type familyFetcher func(ctx context.Context, since time.Time) ([]exchange.HistoryRecord, error)

// Family polls one of the "transfer family" history endpoints — internal
// transfers, small-asset converts, deposits/withdrawals, or dust-to-BNB
// conversions — all of which share the same dedup-key shape
// ({exchange}:{family}:{id}) and emit a single event type per record.
// The four instances differ from each other only in endpoint, family
// tag, and event type.
type Family struct {
	*Base
	fetch      familyFetcher
	family     string
	eventType  types.EventType
	entityKind types.EntityKind
	Events     *store.EventStore
	Scope      types.Scope
}

func newFamily(name, family string, eventType types.EventType, entityKind types.EntityKind, fetch familyFetcher, events *store.EventStore, configs *store.ConfigStore, scope types.Scope) *Family {
	return &Family{
		Base:       &Base{PollerName: name, Configs: configs},
		fetch:      fetch,
		family:     family,
		eventType:  eventType,
		entityKind: entityKind,
		Events:     events,
		Scope:      scope,
	}
}

// NewTransfer polls internal SPOT<->FUTURES transfer history every 30
// minutes by default.
func NewTransfer(client *exchange.Client, events *store.EventStore, configs *store.ConfigStore, scope types.Scope) *Family {
	return newFamily("transfer", "transfer", types.EvtInternalTransferCompleted, types.EntityTransfer, client.TransferHistory, events, configs, scope)
}

// NewConvert polls small-asset convert history every hour by default.
func NewConvert(client *exchange.Client, events *store.EventStore, configs *store.ConfigStore, scope types.Scope) *Family {
	return newFamily("convert", "convert", types.EvtConvertExecuted, types.EntityConvert, client.ConvertHistory, events, configs, scope)
}

// NewDepositWithdraw polls deposit/withdraw history every 6 hours by default.
func NewDepositWithdraw(client *exchange.Client, events *store.EventStore, configs *store.ConfigStore, scope types.Scope) *Family {
	return newFamily("deposit_withdraw", "deposit_withdraw", types.EvtDepositCompleted, types.EntityDeposit, client.DepositWithdrawHistory, events, configs, scope)
}

// NewDust polls the dust-to-BNB conversion log. The engine registers it on a
// fixed 30-minute cadence; bnb_fee's check_interval_sec is not read.
func NewDust(client *exchange.Client, events *store.EventStore, configs *store.ConfigStore, scope types.Scope) *Family {
	return newFamily("dust", "dust", types.EvtDustConverted, types.EntityDust, client.DustLog, events, configs, scope)
}

func (f *Family) Name() string { return f.PollerName }

// DoPoll fetches history records since and appends one event per record,
// dedup-gated on {exchange}:{family}:{id} so re-polled overlap windows and
// restarted backfills never double-append.
func (f *Family) DoPoll(ctx context.Context, since time.Time) (int, error) {
	records, err := f.fetch(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("%s poller: fetch: %w", f.family, err)
	}

	created := 0
	for _, rec := range records {
		key := dedup.Family(f.Scope.Exchange, f.family, rec.ID)
		res, err := f.Events.Append(ctx, types.Event{
			EventType:  f.eventType,
			TS:         rec.TxTime,
			Source:     types.SourceBot,
			EntityKind: f.entityKind,
			EntityID:   rec.ID,
			Scope:      f.Scope,
			DedupKey:   key,
			Payload: map[string]any{
				"asset":   rec.Asset,
				"amount":  rec.Amount.String(),
				"kind":    rec.Kind,
				"status":  rec.Status,
				"tran_id": rec.ID,
				"source":  "poller",
			},
		})
		if err != nil {
			return created, fmt.Errorf("%s poller: append: %w", f.family, err)
		}
		if res.Stored {
			created++
		}
	}
	return created, nil
}
