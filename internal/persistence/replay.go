package persistence

import (
	"bytes"
	"context"
	"fmt"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/failure"
)

// CommandSource reads the command log in sequence order.
type CommandSource interface {
	LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error)
}

const replayPageSize = 1000

// Replay feeds logged commands from the core's next sequence onward back
// through it, checking every outcome and state hash against the log. The
// core must not have a tier-2 idempotency store attached yet, or every
// logged command would be skipped as a duplicate.
func Replay(ctx context.Context, src CommandSource, c *core.DeterministicCore) (int64, error) {
	var replayed int64
	from := c.GetSequence()

	for {
		rows, err := src.LoadCommandsFrom(ctx, from, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load commands from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return replayed, err
			}
			if err := replayOne(c, row); err != nil {
				return replayed, err
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}
}

func replayOne(c *core.DeterministicCore, row CommandRow) error {
	if row.Sequence != c.GetSequence() {
		return fmt.Errorf("command log gap: expected sequence %d, found %d", c.GetSequence(), row.Sequence)
	}

	cmd, err := command.Decode(row.CommandType, row.Payload)
	if err != nil {
		return fmt.Errorf("seq %d: %w", row.Sequence, err)
	}

	res, err := c.ProcessCommand(cmd)
	switch {
	case res.Duplicate:
		return fmt.Errorf("seq %d: replayed command reported as duplicate", row.Sequence)
	case err != nil && !failure.IsCommitted(err):
		return fmt.Errorf("seq %d: logged %s command now fails: %w", row.Sequence, row.Outcome, err)
	case err == nil && row.Outcome != command.OutcomeApplied.String():
		return fmt.Errorf("seq %d: logged as %s but applied cleanly", row.Sequence, row.Outcome)
	}

	hash := c.GetStateHash()
	if !bytes.Equal(hash[:], row.StateHash) {
		return fmt.Errorf("FATAL: state hash mismatch at seq %d: expected %x, got %x", row.Sequence, row.StateHash, hash)
	}
	return nil
}
