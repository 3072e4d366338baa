package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"alphaengine-core/pkg/types"
)

// EventStore is the append-only event log. Append is its only mutation;
// every other method is a read.
type EventStore struct {
	db *sql.DB
}

// NewEventStore wraps db as an EventStore.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// AppendResult reports whether Append actually inserted a new row.
type AppendResult struct {
	Stored bool
	Seq    int64
}

// Append inserts e if its dedup_key is new, otherwise reports Stored=false
// and returns the existing row's seq. This is the sole mutation on the log.
func (s *EventStore) Append(ctx context.Context, e types.Event) (AppendResult, error) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return AppendResult{}, fmt.Errorf("event_store: marshal payload: %w", err)
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO event_store
			(event_id, event_type, ts, correlation_id, causation_id, command_id, source,
			 entity_kind, entity_id, scope_exchange, scope_venue, scope_account, scope_symbol,
			 scope_mode, dedup_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING seq
	`, e.EventID, string(e.EventType), e.TS, e.CorrelationID, nullString(e.CausationID),
		nullString(e.CommandID), string(e.Source), string(e.EntityKind), e.EntityID,
		e.Scope.Exchange, string(e.Scope.Venue), e.Scope.Account, e.Scope.Symbol, e.Scope.Mode,
		e.DedupKey, payloadJSON, time.Now().UTC(),
	).Scan(&seq)

	if err == sql.ErrNoRows {
		existing, getErr := s.getSeqByDedupKey(ctx, e.DedupKey)
		if getErr != nil {
			return AppendResult{}, getErr
		}
		return AppendResult{Stored: false, Seq: existing}, nil
	}
	if err != nil {
		return AppendResult{}, fmt.Errorf("event_store: insert: %w", err)
	}
	return AppendResult{Stored: true, Seq: seq}, nil
}

func (s *EventStore) getSeqByDedupKey(ctx context.Context, dedupKey string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM event_store WHERE dedup_key = $1`, dedupKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("event_store: lookup duplicate: %w", err)
	}
	return seq, nil
}

// GetByID returns the event with the given event_id.
func (s *EventStore) GetByID(ctx context.Context, eventID string) (types.Event, error) {
	row := s.db.QueryRowContext(ctx, baseSelect+`WHERE event_id = $1`, eventID)
	return scanEvent(row)
}

// GetByEntity returns every event about the given entity, oldest first.
func (s *EventStore) GetByEntity(ctx context.Context, entityKind types.EntityKind, entityID string) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+`WHERE entity_kind = $1 AND entity_id = $2 ORDER BY seq ASC`,
		string(entityKind), entityID)
	if err != nil {
		return nil, fmt.Errorf("event_store: get by entity: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetByType returns every event of the given type since sinceTS (UTC),
// oldest first.
func (s *EventStore) GetByType(ctx context.Context, eventType types.EventType, sinceTS time.Time) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+`WHERE event_type = $1 AND ts >= $2 ORDER BY seq ASC`,
		string(eventType), sinceTS)
	if err != nil {
		return nil, fmt.Errorf("event_store: get by type: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetSince returns up to limit events with seq > lastSeq, oldest first. It is
// the cursor interface readers use to observe a consistent monotone stream.
func (s *EventStore) GetSince(ctx context.Context, lastSeq int64, limit int) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+`WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, lastSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("event_store: get since: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Count returns the total number of events in the log.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM event_store`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("event_store: count: %w", err)
	}
	return n, nil
}

// LastSeq returns the highest seq currently in the log, or 0 if empty.
func (s *EventStore) LastSeq(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT max(seq) FROM event_store`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("event_store: last seq: %w", err)
	}
	if !n.Valid {
		return 0, nil
	}
	return n.Int64, nil
}

const baseSelect = `
	SELECT seq, event_id, event_type, ts, correlation_id, causation_id, command_id, source,
	       entity_kind, entity_id, scope_exchange, scope_venue, scope_account, scope_symbol,
	       scope_mode, dedup_key, payload, created_at
	FROM event_store
`

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (types.Event, error) {
	var e types.Event
	var causationID, commandID sql.NullString
	var payloadJSON []byte

	err := row.Scan(&e.Seq, &e.EventID, &e.EventType, &e.TS, &e.CorrelationID, &causationID,
		&commandID, &e.Source, &e.EntityKind, &e.EntityID, &e.Scope.Exchange, &e.Scope.Venue,
		&e.Scope.Account, &e.Scope.Symbol, &e.Scope.Mode, &e.DedupKey, &payloadJSON, &e.CreatedAt)
	if err != nil {
		return types.Event{}, fmt.Errorf("event_store: scan: %w", err)
	}
	e.CausationID = causationID.String
	e.CommandID = commandID.String
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return types.Event{}, fmt.Errorf("event_store: unmarshal payload: %w", err)
		}
	}
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]types.Event, error) {
	var events []types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event_store: rows: %w", err)
	}
	return events, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
