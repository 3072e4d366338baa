package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrVersionConflict is returned by ConfigStore.Set when an expected_version
// is supplied and does not match the row's current version.
var ErrVersionConflict = errors.New("config_store: version conflict")

// ConfigEntry is a single typed key/value row with optimistic versioning.
type ConfigEntry struct {
	Key       string
	Value     map[string]any
	Version   int
	UpdatedBy string
	UpdatedAt time.Time
}

// DefaultConfigs holds the canonical default rows seeded on first boot:
// engine mode and poll cadence, risk thresholds, the active strategy and
// its persisted state, bot status, and two transfer-related blocks —
// "transfer" (withdraw/deposit limits and hold windows) and "bnb_fee"
// (thresholds for auto-converting dust into BNB to cover trading fees).
var DefaultConfigs = map[string]map[string]any{
	"engine": {
		"mode":              "RUNNING",
		"poll_interval_sec": 30,
	},
	"risk": {
		"max_position_size":   "0",
		"daily_loss_limit":    "0",
		"max_open_orders":     0,
		"min_balance":         "0",
		"risk_per_trade":      "0.02",
		"reward_ratio":        "1.5",
		"partial_tp_ratio":    "0.5",
		"equity_reset_trades": 50,
	},
	"strategy": {
		"name":       nil,
		"module":     nil,
		"class":      nil,
		"params":     map[string]any{},
		"auto_start": false,
	},
	"strategy_state": {
		"account_equity":          "0",
		"trade_count_since_reset": 0,
		"total_trade_count":       0,
	},
	"bot_status": {
		"is_running":       false,
		"strategy_name":    nil,
		"strategy_running": false,
		"last_heartbeat":   nil,
		"tick_count":       0,
		"started_at":       nil,
	},
	"transfer": {
		"min_deposit_krw":           5000,
		"min_withdraw_usdt":         10,
		"trx_fee":                   1,
		"daily_withdraw_limit_usdt": 0,
		"krw_deposit_hold_hours":    24,
	},
	"bnb_fee": {
		"enabled":            true,
		"min_bnb_ratio":      "0.01",
		"target_bnb_ratio":   "0.02",
		"min_trigger_usdt":   "10",
		"check_interval_sec": 3600,
	},
}

// ConfigStore is the typed key/value config table with per-key versioning.
// A small in-memory cache fronts reads and is invalidated on every write.
type ConfigStore struct {
	db *sql.DB

	cacheMu sync.RWMutex
	cache   map[string]ConfigEntry
}

// NewConfigStore wraps db as a ConfigStore.
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db, cache: make(map[string]ConfigEntry)}
}

// EnsureDefaults seeds any of DefaultConfigs not already present.
func (s *ConfigStore) EnsureDefaults(ctx context.Context) error {
	for key, value := range DefaultConfigs {
		_, err := s.Get(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := s.Set(ctx, key, value, "system", nil); err != nil {
			return fmt.Errorf("config_store: seed default %q: %w", key, err)
		}
	}
	return nil
}

// Get returns the current entry for key, preferring the in-memory cache.
func (s *ConfigStore) Get(ctx context.Context, key string) (ConfigEntry, error) {
	s.cacheMu.RLock()
	if e, ok := s.cache[key]; ok {
		s.cacheMu.RUnlock()
		return e, nil
	}
	s.cacheMu.RUnlock()

	var e ConfigEntry
	var valueJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT config_key, value, version, updated_by, updated_at
		FROM config_store WHERE config_key = $1
	`, key).Scan(&e.Key, &valueJSON, &e.Version, &e.UpdatedBy, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ConfigEntry{}, sql.ErrNoRows
		}
		return ConfigEntry{}, fmt.Errorf("config_store: get %q: %w", key, err)
	}
	if err := json.Unmarshal(valueJSON, &e.Value); err != nil {
		return ConfigEntry{}, fmt.Errorf("config_store: unmarshal %q: %w", key, err)
	}

	s.cacheMu.Lock()
	s.cache[key] = e
	s.cacheMu.Unlock()
	return e, nil
}

// Set upserts key=value, incrementing version. If expectedVersion is
// non-nil, the write fails with ErrVersionConflict unless the row's current
// version matches.
func (s *ConfigStore) Set(ctx context.Context, key string, value map[string]any, updatedBy string, expectedVersion *int) (ConfigEntry, error) {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return ConfigEntry{}, fmt.Errorf("config_store: marshal %q: %w", key, err)
	}
	now := time.Now().UTC()

	var e ConfigEntry
	var gotJSON []byte

	if expectedVersion == nil {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO config_store (config_key, value, version, updated_by, created_at, updated_at)
			VALUES ($1, $2, 1, $3, $4, $4)
			ON CONFLICT (config_key) DO UPDATE SET
				value = EXCLUDED.value,
				version = config_store.version + 1,
				updated_by = EXCLUDED.updated_by,
				updated_at = EXCLUDED.updated_at
			RETURNING config_key, value, version, updated_by, updated_at
		`, key, valueJSON, updatedBy, now).Scan(&e.Key, &gotJSON, &e.Version, &e.UpdatedBy, &e.UpdatedAt)
	} else {
		err = s.db.QueryRowContext(ctx, `
			UPDATE config_store SET
				value = $2, version = version + 1, updated_by = $3, updated_at = $4
			WHERE config_key = $1 AND version = $5
			RETURNING config_key, value, version, updated_by, updated_at
		`, key, valueJSON, updatedBy, now, *expectedVersion).Scan(&e.Key, &gotJSON, &e.Version, &e.UpdatedBy, &e.UpdatedAt)
		if err == sql.ErrNoRows {
			return ConfigEntry{}, ErrVersionConflict
		}
	}
	if err != nil {
		return ConfigEntry{}, fmt.Errorf("config_store: set %q: %w", key, err)
	}
	if err := json.Unmarshal(gotJSON, &e.Value); err != nil {
		return ConfigEntry{}, fmt.Errorf("config_store: unmarshal %q: %w", key, err)
	}

	s.cacheMu.Lock()
	delete(s.cache, key) // invalidate: next Get repopulates from the row just written
	s.cacheMu.Unlock()
	return e, nil
}

// ClearCache drops every cached entry, forcing the next Get to hit the DB.
func (s *ConfigStore) ClearCache() {
	s.cacheMu.Lock()
	s.cache = make(map[string]ConfigEntry)
	s.cacheMu.Unlock()
}
