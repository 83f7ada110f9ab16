package pool

import (
	"fmt"

	"OutcomeMarket/internal/event"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

func (p *Pool) Address() common.Address { return p.cfg.Address }
func (p *Pool) Fee() fpmath.Wad         { return p.cfg.Fee }
func (p *Pool) WhitePrice() fpmath.Wad  { return p.state.WhitePrice }
func (p *Pool) BlackPrice() fpmath.Wad  { return p.state.BlackPrice }
func (p *Pool) Ongoing() bool           { return p.state.Ongoing }

func (p *Pool) Price(side event.Side) fpmath.Wad {
	if side == event.SideWhite {
		return p.state.WhitePrice
	}
	return p.state.BlackPrice
}

func (p *Pool) Reserve(side event.Side) fpmath.Wad {
	reserve, _ := p.sideCounters(side)
	return *reserve
}

func (p *Pool) Bought(side event.Side) fpmath.Wad {
	_, bought := p.sideCounters(side)
	return *bought
}

// Inventory is the pool's own holding of side tokens minted by liquidity.
func (p *Pool) Inventory(side event.Side) fpmath.Wad {
	return p.vault.BalanceOf(side, p.cfg.Address)
}

func (p *Pool) TotalShares() fpmath.Wad {
	return p.shares.TotalSupply()
}

func (p *Pool) SharesOf(owner common.Address) fpmath.Wad {
	return p.shares.BalanceOf(owner)
}

// Snapshot returns a copy of the pool state.
func (p *Pool) Snapshot() State {
	return p.state
}

func (p *Pool) Restore(s State) {
	p.state = s
	p.locked = false
}

// CheckInvariants verifies that both reserves cover their outstanding tokens,
// that the reserves are held by the pool and that prices sum to One outside
// an armed skew.
func (p *Pool) CheckInvariants() error {
	for _, side := range []event.Side{event.SideWhite, event.SideBlack} {
		reserve, bought := p.sideCounters(side)
		if liability := fpmath.Liability(*bought, p.Price(side)); liability.Gt(*reserve) {
			return fmt.Errorf("%s reserve %s below liability %s", side, *reserve, liability)
		}
	}
	total := p.state.CollateralForWhite.Add(p.state.CollateralForBlack)
	if held := p.collateral.BalanceOf(p.cfg.Address); held.Lt(total) {
		return fmt.Errorf("pool holds %s collateral but reserves total %s", held, total)
	}
	if !p.state.Ongoing && !p.state.WhitePrice.Add(p.state.BlackPrice).Eq(fpmath.One) {
		return fmt.Errorf("prices %s + %s do not sum to one", p.state.WhitePrice, p.state.BlackPrice)
	}
	return nil
}
