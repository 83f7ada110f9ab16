package ledger

import (
	"fmt"

	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceTracker maintains in-memory holder balances and per-asset supply.
// The issuance account is implicit: its (negative) balance is the supply.
type BalanceTracker struct {
	balances map[AccountKey]fpmath.Wad
	supply   map[AssetID]fpmath.Wad
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]fpmath.Wad),
		supply:   make(map[AssetID]fpmath.Wad),
	}
}

// ApplyJournal applies a single journal entry. It fails without mutating
// anything when the credited holder cannot cover the amount.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if j.CreditAccount.Scope == AccountScopeHolder {
		have := bt.balances[j.CreditAccount]
		if have.Lt(j.Amount) {
			return fmt.Errorf("account %s has %s, needs %s", j.CreditAccount.AccountPath(), have, j.Amount)
		}
	}
	if j.DebitAccount.Scope == AccountScopeIssuance {
		if bt.supply[j.Asset].Lt(j.Amount) {
			return fmt.Errorf("burn of %s exceeds %s supply", j.Amount, j.Asset)
		}
	}

	bt.debit(j.DebitAccount, j.Amount)
	bt.credit(j.CreditAccount, j.Amount)
	return nil
}

func (bt *BalanceTracker) debit(key AccountKey, amount fpmath.Wad) {
	if key.Scope == AccountScopeIssuance {
		bt.supply[key.Asset] = bt.supply[key.Asset].Sub(amount)
		return
	}
	bt.balances[key] = bt.balances[key].Add(amount)
}

func (bt *BalanceTracker) credit(key AccountKey, amount fpmath.Wad) {
	if key.Scope == AccountScopeIssuance {
		bt.supply[key.Asset] = bt.supply[key.Asset].Add(amount)
		return
	}
	remaining := bt.balances[key].Sub(amount)
	if remaining.IsZero() {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = remaining
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			return err
		}
	}

	return nil
}

func (bt *BalanceTracker) GetBalance(key AccountKey) fpmath.Wad {
	return bt.balances[key]
}

func (bt *BalanceTracker) BalanceOf(owner common.Address, asset AssetID) fpmath.Wad {
	return bt.balances[HolderKey(owner, asset)]
}

func (bt *BalanceTracker) Supply(asset AssetID) fpmath.Wad {
	return bt.supply[asset]
}

// ComputeHolderTotals sums holder balances per asset. It must equal Supply for
// every asset.
func (bt *BalanceTracker) ComputeHolderTotals() map[AssetID]fpmath.Wad {
	totals := make(map[AssetID]fpmath.Wad)

	for key, balance := range bt.balances {
		totals[key.Asset] = totals[key.Asset].Add(balance)
	}

	return totals
}

// Snapshot returns a copy of all holder balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]fpmath.Wad {
	snapshot := make(map[AccountKey]fpmath.Wad, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SupplySnapshot returns a copy of per-asset supply
func (bt *BalanceTracker) SupplySnapshot() map[AssetID]fpmath.Wad {
	snapshot := make(map[AssetID]fpmath.Wad, len(bt.supply))
	for k, v := range bt.supply {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances and supplies.
func (bt *BalanceTracker) Restore(balances map[AccountKey]fpmath.Wad, supply map[AssetID]fpmath.Wad) {
	bt.balances = make(map[AccountKey]fpmath.Wad, len(balances))
	for k, v := range balances {
		if !v.IsZero() {
			bt.balances[k] = v
		}
	}
	bt.supply = make(map[AssetID]fpmath.Wad, len(supply))
	for k, v := range supply {
		bt.supply[k] = v
	}
}
