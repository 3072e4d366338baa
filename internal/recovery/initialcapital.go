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

// initialCapitalConfigKey is the config_store row that records whether the
// bot's starting capital has already been established.
const initialCapitalConfigKey = "initial_capital"

// InitialCapital is the recorded snapshot of the account's starting balance,
// taken once on first run so every later P&L figure has a reference point.
type InitialCapital struct {
	SpotUSDT    decimal.Decimal
	FuturesUSDT decimal.Decimal
	TotalUSDT   decimal.Decimal
	EpochDate   string // YYYY-MM-DD
}

// InitialCapitalRecorder records the account's starting capital exactly
// once. A second call against an already-initialized scope is a no-op.
type InitialCapitalRecorder struct {
	Client  *exchange.Client
	Events  *store.EventStore
	Configs *store.ConfigStore
	Scope   types.Scope
}

// NewInitialCapitalRecorder builds a recorder scoped to scope.
func NewInitialCapitalRecorder(client *exchange.Client, events *store.EventStore, configs *store.ConfigStore, scope types.Scope) *InitialCapitalRecorder {
	return &InitialCapitalRecorder{Client: client, Events: events, Configs: configs, Scope: scope}
}

// IsInitialized reports whether Record has already run for this scope.
func (r *InitialCapitalRecorder) IsInitialized(ctx context.Context) (bool, error) {
	entry, err := r.Configs.Get(ctx, initialCapitalConfigKey)
	if err != nil {
		return false, nil // absent row means not yet initialized, not an error
	}
	initialized, _ := entry.Value["initialized"].(bool)
	return initialized, nil
}

// Record snapshots SPOT and FUTURES balances as of now, persists them to
// config_store, and appends an InitialCapitalEstablished event timestamped
// at epochDate's UTC midnight so every backfilled event that follows sorts
// after it — replaying the log never produces a negative ledger balance.
func (r *InitialCapitalRecorder) Record(ctx context.Context) (InitialCapital, error) {
	if initialized, err := r.IsInitialized(ctx); err != nil {
		return InitialCapital{}, err
	} else if initialized {
		return r.loadRecorded(ctx)
	}

	now := time.Now().UTC()
	spot, err := r.Client.AccountSnapshot(ctx, types.VenueSpot)
	if err != nil {
		return InitialCapital{}, fmt.Errorf("initial capital: spot snapshot: %w", err)
	}
	futures, err := r.Client.AccountSnapshot(ctx, types.VenueFutures)
	if err != nil {
		return InitialCapital{}, fmt.Errorf("initial capital: futures snapshot: %w", err)
	}

	spotUSDT := spot["USDT"]
	futuresUSDT := futures["USDT"]
	snap := InitialCapital{
		SpotUSDT:    spotUSDT,
		FuturesUSDT: futuresUSDT,
		TotalUSDT:   spotUSDT.Add(futuresUSDT),
		EpochDate:   now.Format("2006-01-02"),
	}

	if err := r.save(ctx, snap); err != nil {
		return InitialCapital{}, err
	}
	if err := r.appendEvent(ctx, snap); err != nil {
		return InitialCapital{}, err
	}
	return snap, nil
}

func (r *InitialCapitalRecorder) save(ctx context.Context, snap InitialCapital) error {
	_, err := r.Configs.Set(ctx, initialCapitalConfigKey, map[string]any{
		"USDT":         snap.TotalUSDT.String(),
		"SPOT_USDT":    snap.SpotUSDT.String(),
		"FUTURES_USDT": snap.FuturesUSDT.String(),
		"epoch_date":   snap.EpochDate,
		"initialized":  true,
		"recorded_at":  time.Now().UTC().Format(time.RFC3339),
	}, "recovery", nil)
	if err != nil {
		return fmt.Errorf("initial capital: save: %w", err)
	}
	return nil
}

func (r *InitialCapitalRecorder) loadRecorded(ctx context.Context) (InitialCapital, error) {
	entry, err := r.Configs.Get(ctx, initialCapitalConfigKey)
	if err != nil {
		return InitialCapital{}, fmt.Errorf("initial capital: load: %w", err)
	}
	total, _ := entry.Value["USDT"].(string)
	spot, _ := entry.Value["SPOT_USDT"].(string)
	futures, _ := entry.Value["FUTURES_USDT"].(string)
	epoch, _ := entry.Value["epoch_date"].(string)

	return InitialCapital{
		SpotUSDT:    parseDecimalOrZero(spot),
		FuturesUSDT: parseDecimalOrZero(futures),
		TotalUSDT:   parseDecimalOrZero(total),
		EpochDate:   epoch,
	}, nil
}

// appendEvent sets the event's timestamp to epochDate's UTC midnight, not
// the wall-clock time of the snapshot, so it sorts ahead of the backfilled
// history that started at that same epoch.
func (r *InitialCapitalRecorder) appendEvent(ctx context.Context, snap InitialCapital) error {
	epochMidnight, err := time.Parse("2006-01-02", snap.EpochDate)
	if err != nil {
		return fmt.Errorf("initial capital: parse epoch date: %w", err)
	}

	key := dedup.InitialCapital(r.Scope.Mode, snap.EpochDate)
	_, err = r.Events.Append(ctx, types.Event{
		EventType:  types.EvtInitialCapitalEstablished,
		TS:         epochMidnight,
		Source:     types.SourceBot,
		EntityKind: types.EntityCapital,
		EntityID:   "initial_" + r.Scope.Mode,
		Scope:      r.Scope,
		DedupKey:   key,
		Payload: map[string]any{
			"spot_usdt":     snap.SpotUSDT.String(),
			"futures_usdt":  snap.FuturesUSDT.String(),
			"total_usdt":    snap.TotalUSDT.String(),
			"snapshot_date": snap.EpochDate,
			"method":        "daily_snapshot",
			"confidence":    "exact",
		},
	})
	if err != nil {
		return fmt.Errorf("initial capital: append event: %w", err)
	}
	return nil
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
