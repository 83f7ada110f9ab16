package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"OutcomeMarket/internal/core"
)

// Output is one core output flattened into table rows.
type Output struct {
	Command  CommandRow
	Journals []JournalRow
	Events   []EventRow
	Emitted  time.Time // When the core handed it off
}

// NewOutput converts a core output into rows. Events that fail to encode are
// a programming error and panic.
func NewOutput(out core.CoreOutput) Output {
	env := out.Envelope
	o := Output{
		Emitted: time.Now(),
		Command: CommandRow{
			Sequence:       env.Sequence,
			CommandType:    env.CommandType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Sender:         env.Sender.Hex(),
			Payload:        env.Payload,
			Outcome:        env.Outcome.String(),
			Reason:         env.Reason,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
		},
	}

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			o.Journals = append(o.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				CommandRef:    j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Asset:         j.Asset.String(),
				Amount:        j.Amount.String(),
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}

	for i, e := range out.Events {
		payload, err := json.Marshal(e)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode %s event: %v", e.EventType(), err))
		}
		o.Events = append(o.Events, EventRow{
			Sequence:   env.Sequence,
			EventIndex: i,
			EventType:  e.EventType().String(),
			Payload:    payload,
		})
	}
	return o
}
