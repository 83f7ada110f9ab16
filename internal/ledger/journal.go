package ledger

import (
	"fmt"

	fpmath "OutcomeMarket/internal/math"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeBurn
	JournalTypeTransfer
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// journalNamespace derives journal and batch IDs from the command sequence so
// replaying the log reproduces them.
var journalNamespace = uuid.MustParse("6f1f7a44-5d1e-4b6e-9d0a-2c1f3e6b8a10")

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string     // Idempotency key of the source command
	Sequence      int64      // Core sequence of the source command
	DebitAccount  AccountKey // Balance increases
	CreditAccount AccountKey // Balance decreases
	Asset         AssetID
	Amount        fpmath.Wad // Always positive
	JournalType   JournalType
	Timestamp     int64 // Command timestamp (epoch microseconds)
}

// Batch holds the journals produced by one command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("batch:%d", sequence))),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

func (b *Batch) append(jt JournalType, debit, credit AccountKey, asset AssetID, amount fpmath.Wad) Journal {
	j := Journal{
		JournalID:     uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("journal:%d:%d", b.Sequence, len(b.Journals)))),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	}
	b.Journals = append(b.Journals, j)
	return j
}

// Validate ensures the batch is well-formed. Each journal moves one positive
// amount from the credit account to the debit account, so every entry is
// balanced on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
