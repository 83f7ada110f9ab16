package ledger

import (
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a fungible-token view of one ledger asset.
type Token struct {
	asset  AssetID
	ledger *Ledger
}

func (t *Token) Asset() AssetID {
	return t.asset
}

func (t *Token) BalanceOf(owner common.Address) fpmath.Wad {
	return t.ledger.tracker.BalanceOf(owner, t.asset)
}

func (t *Token) TotalSupply() fpmath.Wad {
	return t.ledger.tracker.Supply(t.asset)
}

func (t *Token) Allowance(owner, spender common.Address) fpmath.Wad {
	return t.ledger.allowances[allowanceKey{Asset: t.asset, Owner: owner, Spender: spender}]
}

// Approve sets the amount spender may move out of owner's account.
func (t *Token) Approve(owner, spender common.Address, amount fpmath.Wad) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	key := allowanceKey{Asset: t.asset, Owner: owner, Spender: spender}
	if amount.IsZero() {
		delete(t.ledger.allowances, key)
		return nil
	}
	t.ledger.allowances[key] = amount
	return nil
}

func (t *Token) Transfer(from, to common.Address, amount fpmath.Wad) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if t.BalanceOf(from).Lt(amount) {
		return ErrTransferExceedsBalance
	}
	return t.ledger.post(JournalTypeTransfer, HolderKey(to, t.asset), HolderKey(from, t.asset), amount)
}

// TransferFrom moves amount out of from's account on behalf of spender and
// consumes the allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount fpmath.Wad) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	allowed := t.Allowance(from, spender)
	if allowed.Lt(amount) {
		return ErrTransferExceedsAllowance
	}
	if t.BalanceOf(from).Lt(amount) {
		return ErrTransferExceedsBalance
	}
	if err := t.Approve(from, spender, allowed.Sub(amount)); err != nil {
		return err
	}
	return t.ledger.post(JournalTypeTransfer, HolderKey(to, t.asset), HolderKey(from, t.asset), amount)
}

func (t *Token) Mint(to common.Address, amount fpmath.Wad) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	return t.ledger.post(JournalTypeMint, HolderKey(to, t.asset), IssuanceKey(t.asset), amount)
}

func (t *Token) Burn(from common.Address, amount fpmath.Wad) error {
	if t.BalanceOf(from).Lt(amount) {
		return ErrBurnExceedsBalance
	}
	return t.ledger.post(JournalTypeBurn, IssuanceKey(t.asset), HolderKey(from, t.asset), amount)
}
