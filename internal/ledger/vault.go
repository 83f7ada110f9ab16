package ledger

import (
	"fmt"

	"OutcomeMarket/internal/event"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Vault mints and burns the two outcome tokens. Only the pool holds a Vault.
type Vault struct {
	white *Token
	black *Token
}

func NewVault(l *Ledger) *Vault {
	return &Vault{
		white: l.Token(AssetWhite),
		black: l.Token(AssetBlack),
	}
}

// OutcomeAsset maps a side to its token asset.
func OutcomeAsset(side event.Side) AssetID {
	switch side {
	case event.SideWhite:
		return AssetWhite
	case event.SideBlack:
		return AssetBlack
	}
	return AssetUnknown
}

func (v *Vault) token(side event.Side) (*Token, error) {
	switch side {
	case event.SideWhite:
		return v.white, nil
	case event.SideBlack:
		return v.black, nil
	}
	return nil, fmt.Errorf("vault: unknown side %d", side)
}

func (v *Vault) Mint(side event.Side, to common.Address, amount fpmath.Wad) error {
	t, err := v.token(side)
	if err != nil {
		return err
	}
	return t.Mint(to, amount)
}

func (v *Vault) Burn(side event.Side, from common.Address, amount fpmath.Wad) error {
	t, err := v.token(side)
	if err != nil {
		return err
	}
	return t.Burn(from, amount)
}

func (v *Vault) BalanceOf(side event.Side, owner common.Address) fpmath.Wad {
	t, err := v.token(side)
	if err != nil {
		return fpmath.Zero
	}
	return t.BalanceOf(owner)
}

func (v *Vault) TotalSupply(side event.Side) fpmath.Wad {
	t, err := v.token(side)
	if err != nil {
		return fpmath.Zero
	}
	return t.TotalSupply()
}
