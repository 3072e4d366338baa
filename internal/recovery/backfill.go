package recovery

import (
	"context"
	"fmt"
	"time"

	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/poller"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// DefaultMaxDays bounds how far back Backfill looks when no epoch date is
// given.
const DefaultMaxDays = 20

// BackfillResult is the per-family count of events Backfill appended.
type BackfillResult struct {
	Income          int
	Transfer        int
	Convert         int
	DepositWithdraw int
	Dust            int
}

// Total sums every family's count.
func (r BackfillResult) Total() int {
	return r.Income + r.Transfer + r.Convert + r.DepositWithdraw + r.Dust
}

// Backfill replays the exchange's income/transfer/convert/deposit-withdraw/
// dust history from a starting point forward, so a freshly started bot (or
// one recovering from extended downtime) doesn't treat its own first poll
// cycle as the dawn of time. It reuses each family poller's DoPoll directly:
// backfilling and ongoing polling share one fetch/dedup/append path, so a
// record backfilled once and re-observed by the live poller never double-counts.
type Backfill struct {
	income          *poller.Income
	transfer        *poller.Family
	convert         *poller.Family
	depositWithdraw *poller.Family
	dust            *poller.Family
}

// NewBackfill wires a Backfill against the same event/config stores and
// scope the live pollers use.
func NewBackfill(client *exchange.Client, events *store.EventStore, configs *store.ConfigStore, scope types.Scope) *Backfill {
	return &Backfill{
		income:          poller.NewIncome(client, events, configs, scope),
		transfer:        poller.NewTransfer(client, events, configs, scope),
		convert:         poller.NewConvert(client, events, configs, scope),
		depositWithdraw: poller.NewDepositWithdraw(client, events, configs, scope),
		dust:            poller.NewDust(client, events, configs, scope),
	}
}

// Run backfills everything since "since" (computed by the caller: either
// now-DefaultMaxDays, or an InitialCapitalEstablished epoch date).
func (b *Backfill) Run(ctx context.Context, since time.Time) (BackfillResult, error) {
	var result BackfillResult
	var err error

	if result.Income, err = b.income.DoPoll(ctx, since); err != nil {
		return result, fmt.Errorf("backfill: income: %w", err)
	}
	if result.Transfer, err = b.transfer.DoPoll(ctx, since); err != nil {
		return result, fmt.Errorf("backfill: transfer: %w", err)
	}
	if result.Convert, err = b.convert.DoPoll(ctx, since); err != nil {
		return result, fmt.Errorf("backfill: convert: %w", err)
	}
	if result.DepositWithdraw, err = b.depositWithdraw.DoPoll(ctx, since); err != nil {
		return result, fmt.Errorf("backfill: deposit_withdraw: %w", err)
	}
	if result.Dust, err = b.dust.DoPoll(ctx, since); err != nil {
		return result, fmt.Errorf("backfill: dust: %w", err)
	}
	return result, nil
}

// SinceFromEpoch returns epochDate's UTC midnight, syncing the backfill
// window with InitialCapitalEstablished so every backfilled event sorts
// after the starting-capital snapshot, never before it.
func SinceFromEpoch(epochDate string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", epochDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("recovery: parse epoch date %q: %w", epochDate, err)
	}
	return t, nil
}
