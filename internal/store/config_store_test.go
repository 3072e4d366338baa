package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestConfigGetCachesReads(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cs := NewConfigStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT config_key, value, version, updated_by, updated_at FROM config_store`).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "value", "version", "updated_by", "updated_at"}).
			AddRow("engine", []byte(`{"mode":"RUNNING"}`), 1, "system", now))

	e1, err := cs.Get(context.Background(), "engine")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e1.Version != 1 {
		t.Errorf("Version = %d, want 1", e1.Version)
	}

	// Second read must hit the cache, not issue another query.
	e2, err := cs.Get(context.Background(), "engine")
	if err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if e2.Value["mode"] != "RUNNING" {
		t.Errorf("cached Value[mode] = %v, want RUNNING", e2.Value["mode"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations (cache should have avoided a second query): %v", err)
	}
}

func TestConfigSetInvalidatesCache(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cs := NewConfigStore(db)
	now := time.Now().UTC()

	// Prime the cache.
	mock.ExpectQuery(`SELECT config_key, value, version, updated_by, updated_at FROM config_store`).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "value", "version", "updated_by", "updated_at"}).
			AddRow("risk", []byte(`{"max_open_orders":5}`), 1, "system", now))
	if _, err := cs.Get(context.Background(), "risk"); err != nil {
		t.Fatalf("priming Get: %v", err)
	}

	mock.ExpectQuery(`INSERT INTO config_store`).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "value", "version", "updated_by", "updated_at"}).
			AddRow("risk", []byte(`{"max_open_orders":10}`), 2, "admin", now))

	if _, err := cs.Set(context.Background(), "risk", map[string]any{"max_open_orders": 10}, "admin", nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// A subsequent Get must hit the DB again since Set invalidated the cache.
	mock.ExpectQuery(`SELECT config_key, value, version, updated_by, updated_at FROM config_store`).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "value", "version", "updated_by", "updated_at"}).
			AddRow("risk", []byte(`{"max_open_orders":10}`), 2, "admin", now))

	e, err := cs.Get(context.Background(), "risk")
	if err != nil {
		t.Fatalf("Get after Set: %v", err)
	}
	if e.Version != 2 {
		t.Errorf("Version after Set = %d, want 2", e.Version)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConfigSetVersionConflict(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cs := NewConfigStore(db)

	mock.ExpectQuery(`UPDATE config_store SET`).
		WillReturnError(sql.ErrNoRows)

	expected := 3
	_, err = cs.Set(context.Background(), "risk", map[string]any{}, "admin", &expected)
	if err != ErrVersionConflict {
		t.Errorf("Set() error = %v, want ErrVersionConflict", err)
	}
}
