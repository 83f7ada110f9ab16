package ledger

import (
	"bytes"
	"sort"

	"OutcomeMarket/internal/failure"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTransferExceedsBalance   = failure.Economic("transfer amount exceeds balance")
	ErrTransferExceedsAllowance = failure.Economic("transfer amount exceeds allowance")
	ErrBurnExceedsBalance       = failure.Economic("burn amount exceeds balance")
	ErrZeroAddress              = failure.Invalid("zero address")
)

type allowanceKey struct {
	Asset   AssetID
	Owner   common.Address
	Spender common.Address
}

// Ledger owns every token balance and allowance in the market. Movements made
// while a batch is open are recorded as journals of that batch.
type Ledger struct {
	tracker    *BalanceTracker
	allowances map[allowanceKey]fpmath.Wad
	batch      *Batch
}

func NewLedger() *Ledger {
	return &Ledger{
		tracker:    NewBalanceTracker(),
		allowances: make(map[allowanceKey]fpmath.Wad),
	}
}

func (l *Ledger) Tracker() *BalanceTracker {
	return l.tracker
}

// BeginBatch opens the journal batch for one command.
func (l *Ledger) BeginBatch(eventRef string, sequence, timestamp int64) {
	l.batch = NewBatch(eventRef, sequence, timestamp)
}

// TakeBatch closes the open batch and returns it, or nil if nothing moved.
func (l *Ledger) TakeBatch() *Batch {
	b := l.batch
	l.batch = nil
	if b == nil || len(b.Journals) == 0 {
		return nil
	}
	return b
}

func (l *Ledger) Token(asset AssetID) *Token {
	return &Token{asset: asset, ledger: l}
}

func (l *Ledger) post(jt JournalType, debit, credit AccountKey, amount fpmath.Wad) error {
	if amount.IsZero() {
		return nil
	}
	j := Journal{
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         debit.Asset,
		Amount:        amount,
		JournalType:   jt,
	}
	if err := l.tracker.ApplyJournal(j); err != nil {
		return err
	}
	if l.batch != nil {
		l.batch.append(jt, debit, credit, debit.Asset, amount)
	}
	return nil
}

// BalanceEntry is one non-zero holder balance.
type BalanceEntry struct {
	Owner  common.Address `json:"owner"`
	Asset  AssetID        `json:"asset"`
	Amount fpmath.Wad     `json:"amount"`
}

type SupplyEntry struct {
	Asset  AssetID    `json:"asset"`
	Amount fpmath.Wad `json:"amount"`
}

type AllowanceEntry struct {
	Asset   AssetID        `json:"asset"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  fpmath.Wad     `json:"amount"`
}

// State is a deterministic, ordered copy of the ledger.
type State struct {
	Balances   []BalanceEntry   `json:"balances"`
	Supply     []SupplyEntry    `json:"supply"`
	Allowances []AllowanceEntry `json:"allowances"`
}

func (l *Ledger) Snapshot() State {
	var s State
	for key, amount := range l.tracker.Snapshot() {
		s.Balances = append(s.Balances, BalanceEntry{Owner: key.Owner, Asset: key.Asset, Amount: amount})
	}
	sort.Slice(s.Balances, func(i, j int) bool {
		a, b := s.Balances[i], s.Balances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return a.Asset < b.Asset
	})

	for _, asset := range AllAssets {
		if supply := l.tracker.Supply(asset); !supply.IsZero() {
			s.Supply = append(s.Supply, SupplyEntry{Asset: asset, Amount: supply})
		}
	}

	for key, amount := range l.allowances {
		s.Allowances = append(s.Allowances, AllowanceEntry{Asset: key.Asset, Owner: key.Owner, Spender: key.Spender, Amount: amount})
	}
	sort.Slice(s.Allowances, func(i, j int) bool {
		a, b := s.Allowances[i], s.Allowances[j]
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})
	return s
}

// Restore replaces the ledger contents. The open batch is left untouched.
func (l *Ledger) Restore(s State) {
	balances := make(map[AccountKey]fpmath.Wad, len(s.Balances))
	for _, e := range s.Balances {
		balances[HolderKey(e.Owner, e.Asset)] = e.Amount
	}
	supply := make(map[AssetID]fpmath.Wad, len(s.Supply))
	for _, e := range s.Supply {
		supply[e.Asset] = e.Amount
	}
	l.tracker.Restore(balances, supply)

	l.allowances = make(map[allowanceKey]fpmath.Wad, len(s.Allowances))
	for _, e := range s.Allowances {
		if !e.Amount.IsZero() {
			l.allowances[allowanceKey{Asset: e.Asset, Owner: e.Owner, Spender: e.Spender}] = e.Amount
		}
	}
}
