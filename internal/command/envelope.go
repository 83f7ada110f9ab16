package command

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Outcome of a logged command. Plain rejections change nothing and are not
// logged; a rejection that still committed state (an event discarded for
// starting too late) is.
type Outcome int32

const (
	OutcomeApplied Outcome = iota
	OutcomeRejectedCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeRejectedCommitted:
		return "rejected_committed"
	default:
		return "unknown"
	}
}

// Envelope wraps every command in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Client-chosen idempotency key
	IdempotencyKey string

	CommandType Type
	Sender      common.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command
	Payload []byte

	Outcome Outcome
	Reason  string

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}
