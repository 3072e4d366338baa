package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"alphaengine-core/pkg/types"
)

func TestAppendNew(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	es := NewEventStore(db)

	mock.ExpectQuery(`INSERT INTO event_store`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	res, err := es.Append(context.Background(), types.Event{
		EventID:   "evt-1",
		EventType: types.EvtOrderPlaced,
		TS:        time.Now().UTC(),
		Source:    types.SourceBot,
		EntityKind: types.EntityOrder,
		EntityID:  "123",
		Scope:     types.Scope{Exchange: "BINANCE", Venue: types.VenueFutures, Account: "main", Mode: "PRODUCTION"},
		DedupKey:  "BINANCE:FUTURES:XRPUSDT:order:123",
		Payload:   map[string]any{"qty": "10"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !res.Stored || res.Seq != 42 {
		t.Errorf("Append() = %+v, want Stored=true Seq=42", res)
	}
}

func TestAppendDuplicate(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	es := NewEventStore(db)

	mock.ExpectQuery(`INSERT INTO event_store`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT seq FROM event_store WHERE dedup_key`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))

	res, err := es.Append(context.Background(), types.Event{
		EventID:   "evt-dup",
		EventType: types.EvtOrderPlaced,
		Source:    types.SourceBot,
		EntityKind: types.EntityOrder,
		EntityID:  "123",
		Scope:     types.Scope{Exchange: "BINANCE", Venue: types.VenueFutures, Account: "main", Mode: "PRODUCTION"},
		DedupKey:  "BINANCE:FUTURES:XRPUSDT:order:123",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Stored {
		t.Error("Append() reported Stored=true for a duplicate dedup_key")
	}
	if res.Seq != 7 {
		t.Errorf("Append() Seq = %d, want 7 (the existing row)", res.Seq)
	}
}
