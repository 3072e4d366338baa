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

// CommandStore is the command log: insert, claim, and status-transition.
type CommandStore struct {
	db *sql.DB
}

// NewCommandStore wraps db as a CommandStore.
func NewCommandStore(db *sql.DB) *CommandStore {
	return &CommandStore{db: db}
}

// Insert stores cmd if its idempotency_key is new. A re-submission of the
// same key is a no-op; the caller should then look up the original via
// GetByIdempotencyKey.
func (s *CommandStore) Insert(ctx context.Context, cmd types.Command) (AppendResult, error) {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = cmd.CommandID
	}
	if cmd.TS.IsZero() {
		cmd.TS = time.Now().UTC()
	}
	if cmd.Status == "" {
		cmd.Status = types.StatusNew
	}
	payloadJSON, err := json.Marshal(cmd.Payload)
	if err != nil {
		return AppendResult{}, fmt.Errorf("command_store: marshal payload: %w", err)
	}

	now := time.Now().UTC()
	var seq int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO command_store
			(command_id, command_type, ts, correlation_id, causation_id, actor_kind, actor_id,
			 scope_exchange, scope_venue, scope_account, scope_symbol, scope_mode,
			 idempotency_key, status, priority, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING seq
	`, cmd.CommandID, string(cmd.CommandType), cmd.TS, cmd.CorrelationID, nullString(cmd.CausationID),
		string(cmd.Actor.Kind), cmd.Actor.ID, cmd.Scope.Exchange, string(cmd.Scope.Venue), cmd.Scope.Account,
		cmd.Scope.Symbol, cmd.Scope.Mode, cmd.IdempotencyKey, string(cmd.Status), cmd.Priority,
		payloadJSON, now, now,
	).Scan(&seq)

	if err == sql.ErrNoRows {
		return AppendResult{Stored: false}, nil
	}
	if err != nil {
		return AppendResult{}, fmt.Errorf("command_store: insert: %w", err)
	}
	return AppendResult{Stored: true, Seq: seq}, nil
}

// ClaimOne atomically selects the oldest NEW row with the highest priority
// and transitions it to SENT, stamping claimed_at. The transition is CAS-like:
// the UPDATE is conditional on the row still being NEW, and a losing race
// retries against the next candidate. Returns (Command{}, false, nil) if no
// claimable command exists.
func (s *CommandStore) ClaimOne(ctx context.Context) (types.Command, bool, error) {
	for {
		var commandID string
		err := s.db.QueryRowContext(ctx, `
			SELECT command_id FROM command_store
			WHERE status = 'NEW'
			ORDER BY priority DESC, ts ASC
			LIMIT 1
		`).Scan(&commandID)
		if err == sql.ErrNoRows {
			return types.Command{}, false, nil
		}
		if err != nil {
			return types.Command{}, false, fmt.Errorf("command_store: select claimable: %w", err)
		}

		now := time.Now().UTC()
		result, err := s.db.ExecContext(ctx, `
			UPDATE command_store SET status = 'SENT', claimed_at = $2, updated_at = $2
			WHERE command_id = $1 AND status = 'NEW'
		`, commandID, now)
		if err != nil {
			return types.Command{}, false, fmt.Errorf("command_store: claim: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return types.Command{}, false, fmt.Errorf("command_store: claim rows affected: %w", err)
		}
		if rows == 0 {
			// Lost the race to another claimer; retry against the next candidate.
			continue
		}

		cmd, err := s.GetByID(ctx, commandID)
		if err != nil {
			return types.Command{}, false, err
		}
		return cmd, true, nil
	}
}

// UpdateStatus transitions cmd's status, optionally attaching a result or
// error payload. completed_at is stamped when status is terminal (ACK/FAILED).
func (s *CommandStore) UpdateStatus(ctx context.Context, commandID string, status types.CommandStatus, result map[string]any, lastErr string) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("command_store: marshal result: %w", err)
		}
	}

	now := time.Now().UTC()
	var completedAt any
	if status == types.StatusAck || status == types.StatusFailed {
		completedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE command_store SET
			status = $2,
			result = COALESCE($3, result),
			last_error = COALESCE(NULLIF($4, ''), last_error),
			updated_at = $5,
			completed_at = COALESCE(completed_at, $6)
		WHERE command_id = $1
	`, commandID, string(status), nullBytes(resultJSON), lastErr, now, completedAt)
	if err != nil {
		return fmt.Errorf("command_store: update status: %w", err)
	}
	return nil
}

// GetByID returns the command with the given command_id.
func (s *CommandStore) GetByID(ctx context.Context, commandID string) (types.Command, error) {
	row := s.db.QueryRowContext(ctx, cmdBaseSelect+`WHERE command_id = $1`, commandID)
	return scanCommand(row)
}

// GetByIdempotencyKey returns the command stored under the given idempotency
// key, if any.
func (s *CommandStore) GetByIdempotencyKey(ctx context.Context, key string) (types.Command, error) {
	row := s.db.QueryRowContext(ctx, cmdBaseSelect+`WHERE idempotency_key = $1`, key)
	return scanCommand(row)
}

// FindByStatus returns commands in the given status, highest priority and
// oldest timestamp first.
func (s *CommandStore) FindByStatus(ctx context.Context, status types.CommandStatus) ([]types.Command, error) {
	rows, err := s.db.QueryContext(ctx, cmdBaseSelect+`WHERE status = $1 ORDER BY priority DESC, ts ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("command_store: find by status: %w", err)
	}
	defer rows.Close()
	return scanCommands(rows)
}

// CountByStatus returns the number of commands currently in the given status.
func (s *CommandStore) CountByStatus(ctx context.Context, status types.CommandStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM command_store WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("command_store: count by status: %w", err)
	}
	return n, nil
}

// DeleteOldCompleted removes ACK/FAILED commands older than the retention
// window, returning the number of rows removed.
func (s *CommandStore) DeleteOldCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM command_store
		WHERE status IN ('ACK', 'FAILED') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("command_store: delete old completed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("command_store: delete old completed rows affected: %w", err)
	}
	return n, nil
}

const cmdBaseSelect = `
	SELECT seq, command_id, command_type, ts, correlation_id, causation_id, actor_kind, actor_id,
	       scope_exchange, scope_venue, scope_account, scope_symbol, scope_mode,
	       idempotency_key, status, priority, payload, result, last_error,
	       created_at, updated_at, claimed_at, completed_at
	FROM command_store
`

func scanCommand(row scannable) (types.Command, error) {
	var c types.Command
	var seq int64
	var causationID sql.NullString
	var payloadJSON, resultJSON []byte
	var lastError sql.NullString
	var claimedAt, completedAt sql.NullTime

	err := row.Scan(&seq, &c.CommandID, &c.CommandType, &c.TS, &c.CorrelationID, &causationID,
		&c.Actor.Kind, &c.Actor.ID, &c.Scope.Exchange, &c.Scope.Venue, &c.Scope.Account, &c.Scope.Symbol,
		&c.Scope.Mode, &c.IdempotencyKey, &c.Status, &c.Priority, &payloadJSON, &resultJSON, &lastError,
		&c.CreatedAt, &c.UpdatedAt, &claimedAt, &completedAt)
	if err != nil {
		return types.Command{}, fmt.Errorf("command_store: scan: %w", err)
	}
	_ = seq // command_store's own seq is internal ordering, not part of the domain Command
	c.CausationID = causationID.String
	c.LastError = lastError.String
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &c.Payload); err != nil {
			return types.Command{}, fmt.Errorf("command_store: unmarshal payload: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &c.Result); err != nil {
			return types.Command{}, fmt.Errorf("command_store: unmarshal result: %w", err)
		}
	}
	if claimedAt.Valid {
		c.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}

func scanCommands(rows *sql.Rows) ([]types.Command, error) {
	var cmds []types.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("command_store: rows: %w", err)
	}
	return cmds, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
