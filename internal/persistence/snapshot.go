package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"OutcomeMarket/internal/core"

	"github.com/google/uuid"
)

// snapshotFormatVersion 1: JSON-encoded core.SnapshotState
const snapshotFormatVersion = 1

// SnapshotManager saves and loads core snapshots and reads the command log
// tail for replay.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is a stored snapshot and its metadata.
type SnapshotData struct {
	SnapshotID uuid.UUID
	Sequence   int64
	State      *core.SnapshotState
	SizeBytes  int
	Verified   bool
	CreatedAt  time.Time
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists state, replacing any snapshot at the same sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, state *core.SnapshotState, createdAt time.Time) (*SnapshotData, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	snap := &SnapshotData{
		SnapshotID: uuid.New(),
		Sequence:   state.Sequence,
		State:      state,
		SizeBytes:  len(data),
		CreatedAt:  createdAt,
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snap.SnapshotID, snap.Sequence, string(data), state.StateHash[:], snapshotFormatVersion, snap.SizeBytes, createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT snapshot_id, sequence, data, size_bytes, verified, created_at
		FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion)

	var (
		snap SnapshotData
		data []byte
	)
	if err := row.Scan(&snap.SnapshotID, &snap.Sequence, &data, &snap.SizeBytes, &snap.Verified, &snap.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No snapshot: cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap.State = &core.SnapshotState{}
	if err := json.Unmarshal(data, snap.State); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %d: %w", snap.Sequence, err)
	}
	return &snap, nil
}

// VerifyAgainstLog marks unverified snapshots whose state hash matches the
// logged command at the same sequence. A snapshot ahead of the persisted log
// stays unverified until the log catches up. Returns how many were marked.
func (sm *SnapshotManager) VerifyAgainstLog(ctx context.Context) (int64, error) {
	res, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots s
		SET verified = TRUE
		FROM event_log.commands c
		WHERE s.verified = FALSE
		  AND c.sequence = s.sequence
		  AND c.state_hash = s.state_hash
	`)
	if err != nil {
		return 0, fmt.Errorf("verify snapshots: %w", err)
	}
	return res.RowsAffected()
}

// LoadCommandsFrom loads logged commands from a given sequence for replay.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, sender, payload,
		       outcome, reason, state_hash, prev_hash, timestamp
		FROM event_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.CommandType, &c.IdempotencyKey, &c.Sender, &c.Payload,
			&c.Outcome, &c.Reason, &c.StateHash, &c.PrevHash, &c.Timestamp,
		); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

// RecentIdempotencyKeys returns the composite keys of the last n logged
// commands, oldest first, for warming the core's LRU.
func (sm *SnapshotManager) RecentIdempotencyKeys(ctx context.Context, n int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT command_type || ':' || idempotency_key
		FROM (
			SELECT sequence, command_type, idempotency_key
			FROM event_log.commands
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, n)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.commands`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
