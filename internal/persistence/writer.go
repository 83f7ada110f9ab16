package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CommandLogWriter writes commands, journals and events to Postgres using
// multi-row INSERTs. Every insert ignores conflicts so a retried batch is
// harmless.
type CommandLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in event_log.commands
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Sender         string
	Payload        []byte // JSON-encoded command
	Outcome        string
	Reason         string
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	CommandRef    string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string // Raw subunits, base 10
	JournalType   string
	Timestamp     int64
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence   int64
	EventIndex int
	EventType  string
	Payload    []byte
}

func NewCommandLogWriter(db *sql.DB) *CommandLogWriter {
	return &CommandLogWriter{db: db}
}

// placeholders renders "($1, $2, ...), (...)" for rows of width columns.
func placeholders(rows, width int) string {
	values := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		cols := make([]string, width)
		for c := range cols {
			cols[c] = fmt.Sprintf("$%d", i*width+c+1)
		}
		values = append(values, "("+strings.Join(cols, ", ")+")")
	}
	return strings.Join(values, ", ")
}

// WriteCommandBatch writes a batch of commands to event_log.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, ex execer, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(commands)*10)
	for _, c := range commands {
		args = append(args,
			c.Sequence, c.CommandType, c.IdempotencyKey, c.Sender, string(c.Payload),
			c.Outcome, c.Reason, c.StateHash, c.PrevHash, c.Timestamp,
		)
	}

	query := `INSERT INTO event_log.commands
		(sequence, command_type, idempotency_key, sender, payload, outcome, reason, state_hash, prev_hash, timestamp)
		VALUES ` + placeholders(len(commands), 10) + ` ON CONFLICT (sequence) DO NOTHING`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *CommandLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(journals)*10)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.CommandRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Asset, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, command_ref, sequence, debit_account, credit_account, asset, amount, journal_type, timestamp)
		VALUES ` + placeholders(len(journals), 10) + ` ON CONFLICT (journal_id) DO NOTHING`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteEventBatch writes emitted domain events to event_log.events.
func (w *CommandLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(events)*4)
	for _, e := range events {
		args = append(args, e.Sequence, e.EventIndex, e.EventType, string(e.Payload))
	}

	query := `INSERT INTO event_log.events (sequence, event_index, event_type, payload)
		VALUES ` + placeholders(len(events), 4) + ` ON CONFLICT (sequence, event_index) DO NOTHING`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
