package ledger

import "fmt"

// CheckSupply fails when the holders of some asset do not add up to its
// issued supply.
func CheckSupply(t *BalanceTracker) error {
	held := t.ComputeHolderTotals()
	for _, asset := range AllAssets {
		if supply := t.Supply(asset); !held[asset].Eq(supply) {
			return fmt.Errorf("%s: holders own %s of %s issued", asset, held[asset], supply)
		}
	}
	return nil
}
