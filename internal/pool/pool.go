// Package pool implements the outcome-token market maker.
//
// Prices are fixed between events and always sum to One outside an armed
// skew. Every payout floors and every liability is taken at its ceiling, so
// each side's reserve always covers its outstanding tokens at the current
// price.
package pool

import (
	"fmt"

	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrPriceAboveLimit      = failure.Economic("price higher than acceptable")
	ErrPriceBelowLimit      = failure.Economic("price lower than acceptable")
	ErrBuyBackExceedsSold   = failure.Economic("cannot buy back more than sold from the pool")
	ErrNotEnoughDelegated   = failure.Economic("not enough delegated collateral")
	ErrNotEnoughCollateral  = failure.Economic("not enough collateral in user's account")
	ErrNotEnoughTokens      = failure.Economic("not enough tokens in user's account")
	ErrNotEnoughDelegatedBW = failure.Economic("not enough delegated liquidity tokens")
	ErrNotEnoughShares      = failure.Economic("not enough liquidity tokens in user's account")
	ErrNoLiquidity          = failure.Economic("pool has no liquidity")
	ErrZeroPayment          = failure.Invalid("payment should be greater than zero")
	ErrZeroAmount           = failure.Invalid("amount should be greater than zero")
	ErrUnknownSide          = failure.Invalid("unknown side")
	ErrInvalidResult        = failure.Invalid("invalid event result")
	ErrPriceChangeTooLarge  = failure.Invalid("price change part must be less than one")
	ErrIncorrectOrderer     = failure.Authorization("incorrect orderer")
	ErrNotOwner             = failure.Authorization("caller is not the owner")
	ErrNotEventContract     = failure.Authorization("caller should be the event contract")
	ErrEventInProgress      = failure.State("event in progress")
	ErrEventAlreadyStarted  = failure.State("event already started")
	ErrEventNotStarted      = failure.State("event not started")
	ErrReentrantCall        = failure.State("reentrant call")
)

// CollateralToken is the fungible token the pool settles in.
type CollateralToken interface {
	BalanceOf(owner common.Address) fpmath.Wad
	Allowance(owner, spender common.Address) fpmath.Wad
	Transfer(from, to common.Address, amount fpmath.Wad) error
	TransferFrom(spender, from, to common.Address, amount fpmath.Wad) error
}

// ShareToken is the liquidity-share token. Only the pool mints and burns it.
type ShareToken interface {
	CollateralToken
	TotalSupply() fpmath.Wad
	Mint(to common.Address, amount fpmath.Wad) error
	Burn(from common.Address, amount fpmath.Wad) error
}

// Vault mints and burns outcome tokens.
type Vault interface {
	Mint(side event.Side, to common.Address, amount fpmath.Wad) error
	Burn(side event.Side, from common.Address, amount fpmath.Wad) error
	BalanceOf(side event.Side, owner common.Address) fpmath.Wad
}

type Config struct {
	Address            common.Address // The pool's own account
	Owner              common.Address
	Authority          common.Address // Lifecycle, the only settlement caller
	Fee                fpmath.Wad
	InitialWhitePrice  fpmath.Wad
	MaxPriceChangePart fpmath.Wad
}

// DefaultFee is 0.3%.
var DefaultFee = fpmath.MustDecimal("0.003")

// State is the full mutable state of the pool.
type State struct {
	WhitePrice         fpmath.Wad     `json:"white_price"`
	BlackPrice         fpmath.Wad     `json:"black_price"`
	CollateralForWhite fpmath.Wad     `json:"collateral_for_white"`
	CollateralForBlack fpmath.Wad     `json:"collateral_for_black"`
	WhiteBought        fpmath.Wad     `json:"white_bought"`
	BlackBought        fpmath.Wad     `json:"black_bought"`
	Orderer            common.Address `json:"orderer"`
	OrdererRestricted  bool           `json:"orderer_restricted"`
	Ongoing            bool           `json:"ongoing"`
	PriceChangePart    fpmath.Wad     `json:"price_change_part"`
	WhitePriceBefore   fpmath.Wad     `json:"white_price_before"`
	BlackPriceBefore   fpmath.Wad     `json:"black_price_before"`
}

type Pool struct {
	cfg        Config
	collateral CollateralToken
	shares     ShareToken
	vault      Vault
	emitter    event.Emitter

	state  State
	locked bool
}

func New(cfg Config, collateral CollateralToken, shares ShareToken, vault Vault, emitter event.Emitter) (*Pool, error) {
	if cfg.InitialWhitePrice.IsZero() || !cfg.InitialWhitePrice.Lt(fpmath.One) {
		return nil, fmt.Errorf("initial white price %s must be in (0, 1)", cfg.InitialWhitePrice)
	}
	if !cfg.Fee.Lt(fpmath.One) {
		return nil, fmt.Errorf("fee %s must be below one", cfg.Fee)
	}
	if cfg.MaxPriceChangePart.IsZero() || !cfg.MaxPriceChangePart.Lt(fpmath.One) {
		cfg.MaxPriceChangePart = fpmath.One.Sub(fpmath.NewWad(1))
	}
	return &Pool{
		cfg:        cfg,
		collateral: collateral,
		shares:     shares,
		vault:      vault,
		emitter:    emitter,
		state: State{
			WhitePrice: cfg.InitialWhitePrice,
			BlackPrice: fpmath.One.Sub(cfg.InitialWhitePrice),
		},
	}, nil
}

func (p *Pool) enter() error {
	if p.locked {
		return ErrReentrantCall
	}
	p.locked = true
	return nil
}

func (p *Pool) exit() { p.locked = false }

// Buy sells tokensOut of side to caller for payment collateral.
func (p *Pool) Buy(caller common.Address, side event.Side, maxPrice, payment fpmath.Wad) (fpmath.Wad, error) {
	if err := p.enter(); err != nil {
		return fpmath.Zero, err
	}
	defer p.exit()

	if !side.Valid() {
		return fpmath.Zero, ErrUnknownSide
	}
	if p.state.Ongoing {
		return fpmath.Zero, ErrEventInProgress
	}
	if p.state.OrdererRestricted && caller != p.state.Orderer {
		return fpmath.Zero, ErrIncorrectOrderer
	}
	if payment.IsZero() {
		return fpmath.Zero, ErrZeroPayment
	}
	price := p.Price(side)
	if price.Gt(maxPrice) {
		return fpmath.Zero, ErrPriceAboveLimit
	}
	if err := p.checkFunds(caller, payment); err != nil {
		return fpmath.Zero, err
	}

	tokens, fee := fpmath.TokensForPayment(payment, price, p.cfg.Fee)

	reserve, bought := p.sideCounters(side)
	*reserve = reserve.Add(payment)
	*bought = bought.Add(tokens)

	if err := p.collateral.TransferFrom(p.cfg.Address, caller, p.cfg.Address, payment); err != nil {
		return fpmath.Zero, err
	}
	if err := p.vault.Mint(side, caller, tokens); err != nil {
		return fpmath.Zero, err
	}

	p.emitter.Emit(&event.Buy{User: caller, Side: side, Amount: tokens, Price: price, Payment: payment, Fee: fee})
	return tokens, nil
}

// Sell buys tokensIn of side back from caller. It is also the settlement
// buyback path used by the order queue.
func (p *Pool) Sell(caller common.Address, side event.Side, minPrice, tokensIn fpmath.Wad) (fpmath.Wad, error) {
	if err := p.enter(); err != nil {
		return fpmath.Zero, err
	}
	defer p.exit()

	if !side.Valid() {
		return fpmath.Zero, ErrUnknownSide
	}
	if p.state.Ongoing {
		return fpmath.Zero, ErrEventInProgress
	}
	if tokensIn.IsZero() {
		return fpmath.Zero, ErrZeroAmount
	}
	price := p.Price(side)
	if price.Lt(minPrice) {
		return fpmath.Zero, ErrPriceBelowLimit
	}
	reserve, bought := p.sideCounters(side)
	if tokensIn.Gt(*bought) {
		return fpmath.Zero, ErrBuyBackExceedsSold
	}
	if p.vault.BalanceOf(side, caller).Lt(tokensIn) {
		return fpmath.Zero, ErrNotEnoughTokens
	}

	_, fee, net := fpmath.CollateralForTokens(tokensIn, price, p.cfg.Fee)
	if reserve.Lt(net) {
		panic(fmt.Sprintf("FATAL: %s reserve %s cannot pay %s", side, *reserve, net))
	}

	*bought = bought.Sub(tokensIn)
	*reserve = reserve.Sub(net)

	if err := p.vault.Burn(side, caller, tokensIn); err != nil {
		return fpmath.Zero, err
	}
	if err := p.collateral.Transfer(p.cfg.Address, caller, net); err != nil {
		return fpmath.Zero, err
	}

	p.emitter.Emit(&event.Sell{User: caller, Side: side, Amount: tokensIn, Price: price, Payout: net, Fee: fee})
	return net, nil
}

// AddLiquidity deposits amount collateral split in the current price ratio and
// credits caller with liquidity shares.
func (p *Pool) AddLiquidity(caller common.Address, amount fpmath.Wad) (fpmath.Wad, error) {
	if err := p.enter(); err != nil {
		return fpmath.Zero, err
	}
	defer p.exit()

	if p.state.Ongoing {
		return fpmath.Zero, ErrEventInProgress
	}
	if amount.IsZero() {
		return fpmath.Zero, ErrZeroAmount
	}
	if err := p.checkFunds(caller, amount); err != nil {
		return fpmath.Zero, err
	}

	bw := amount.DivDown(p.state.WhitePrice.Add(p.state.BlackPrice))
	forWhite := amount.MulDown(p.state.WhitePrice)
	forBlack := amount.Sub(forWhite)

	p.state.CollateralForWhite = p.state.CollateralForWhite.Add(forWhite)
	p.state.CollateralForBlack = p.state.CollateralForBlack.Add(forBlack)

	if err := p.collateral.TransferFrom(p.cfg.Address, caller, p.cfg.Address, amount); err != nil {
		return fpmath.Zero, err
	}
	if err := p.vault.Mint(event.SideWhite, p.cfg.Address, bw); err != nil {
		return fpmath.Zero, err
	}
	if err := p.vault.Mint(event.SideBlack, p.cfg.Address, bw); err != nil {
		return fpmath.Zero, err
	}
	if err := p.shares.Mint(caller, bw); err != nil {
		return fpmath.Zero, err
	}

	p.emitter.Emit(&event.AddLiquidity{
		User:             caller,
		WhitePrice:       p.state.WhitePrice,
		BlackPrice:       p.state.BlackPrice,
		BWAmount:         bw,
		CollateralAmount: amount,
	})
	return bw, nil
}

// WithdrawLiquidity redeems bw shares for the caller's proportion of the LP
// equity on both sides.
func (p *Pool) WithdrawLiquidity(caller common.Address, bw fpmath.Wad) (fpmath.Wad, error) {
	if err := p.enter(); err != nil {
		return fpmath.Zero, err
	}
	defer p.exit()

	if p.state.Ongoing {
		return fpmath.Zero, ErrEventInProgress
	}
	if bw.IsZero() {
		return fpmath.Zero, ErrZeroAmount
	}
	if p.shares.Allowance(caller, p.cfg.Address).Lt(bw) {
		return fpmath.Zero, ErrNotEnoughDelegatedBW
	}
	if p.shares.BalanceOf(caller).Lt(bw) {
		return fpmath.Zero, ErrNotEnoughShares
	}
	totalShares := p.shares.TotalSupply()
	if totalShares.IsZero() {
		return fpmath.Zero, ErrNoLiquidity
	}

	outWhite := fpmath.ProRata(p.equity(event.SideWhite), bw, totalShares)
	outBlack := fpmath.ProRata(p.equity(event.SideBlack), bw, totalShares)
	burnWhite := fpmath.ProRata(p.vault.BalanceOf(event.SideWhite, p.cfg.Address), bw, totalShares)
	burnBlack := fpmath.ProRata(p.vault.BalanceOf(event.SideBlack, p.cfg.Address), bw, totalShares)
	out := outWhite.Add(outBlack)

	p.state.CollateralForWhite = p.state.CollateralForWhite.Sub(outWhite)
	p.state.CollateralForBlack = p.state.CollateralForBlack.Sub(outBlack)

	if err := p.shares.TransferFrom(p.cfg.Address, caller, p.cfg.Address, bw); err != nil {
		return fpmath.Zero, err
	}
	if err := p.shares.Burn(p.cfg.Address, bw); err != nil {
		return fpmath.Zero, err
	}
	if err := p.vault.Burn(event.SideWhite, p.cfg.Address, burnWhite); err != nil {
		return fpmath.Zero, err
	}
	if err := p.vault.Burn(event.SideBlack, p.cfg.Address, burnBlack); err != nil {
		return fpmath.Zero, err
	}
	if err := p.collateral.Transfer(p.cfg.Address, caller, out); err != nil {
		return fpmath.Zero, err
	}

	p.emitter.Emit(&event.WithdrawLiquidity{
		User:             caller,
		WhitePrice:       p.state.WhitePrice,
		BlackPrice:       p.state.BlackPrice,
		BWAmount:         bw,
		CollateralAmount: out,
	})
	return out, nil
}

// AddCollateral tops up the reserves without minting anything.
func (p *Pool) AddCollateral(caller common.Address, forWhite, forBlack fpmath.Wad) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if caller != p.cfg.Owner {
		return ErrNotOwner
	}
	total := forWhite.Add(forBlack)
	if total.IsZero() {
		return ErrZeroAmount
	}
	if err := p.checkFunds(caller, total); err != nil {
		return err
	}

	p.state.CollateralForWhite = p.state.CollateralForWhite.Add(forWhite)
	p.state.CollateralForBlack = p.state.CollateralForBlack.Add(forBlack)

	if err := p.collateral.TransferFrom(p.cfg.Address, caller, p.cfg.Address, total); err != nil {
		return err
	}

	p.emitter.Emit(&event.CollateralAdded{User: caller, ForWhite: forWhite, ForBlack: forBlack})
	return nil
}

// SetOrderer designates the single caller allowed to buy while the
// restriction is on.
func (p *Pool) SetOrderer(caller, orderer common.Address, restricted bool) error {
	if caller != p.cfg.Owner {
		return ErrNotOwner
	}
	p.state.Orderer = orderer
	p.state.OrdererRestricted = restricted
	p.emitter.Emit(&event.OrdererChanged{Orderer: orderer, Restricted: restricted})
	return nil
}

// SubmitEventStarted arms the skew for the event that just started.
func (p *Pool) SubmitEventStarted(caller common.Address, priceChangePart fpmath.Wad) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if caller != p.cfg.Authority {
		return ErrNotEventContract
	}
	if p.state.Ongoing {
		return ErrEventAlreadyStarted
	}
	if priceChangePart.Gt(p.cfg.MaxPriceChangePart) {
		return ErrPriceChangeTooLarge
	}

	p.state.Ongoing = true
	p.state.PriceChangePart = priceChangePart
	p.state.WhitePriceBefore = p.state.WhitePrice
	p.state.BlackPriceBefore = p.state.BlackPrice
	return nil
}

// SubmitEventResult reprices the pool for result (+1 white wins, -1 black
// wins, 0 draw) and clears the skew.
func (p *Pool) SubmitEventResult(caller common.Address, result int8) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if caller != p.cfg.Authority {
		return ErrNotEventContract
	}
	if !p.state.Ongoing {
		return ErrEventNotStarted
	}
	if result < -1 || result > 1 {
		return ErrInvalidResult
	}

	out, err := fpmath.ComputeSettlement(fpmath.SettlementInput{
		WhitePrice:      p.state.WhitePrice,
		BlackPrice:      p.state.BlackPrice,
		WhiteReserve:    p.state.CollateralForWhite,
		BlackReserve:    p.state.CollateralForBlack,
		WhiteBought:     p.state.WhiteBought,
		BlackBought:     p.state.BlackBought,
		PriceChangePart: p.state.PriceChangePart,
		Result:          result,
	})
	if err != nil {
		return fmt.Errorf("settle event: %w", err)
	}

	p.state.WhitePrice = out.WhitePrice
	p.state.BlackPrice = out.BlackPrice
	p.state.CollateralForWhite = out.WhiteReserve
	p.state.CollateralForBlack = out.BlackReserve
	p.state.Ongoing = false
	p.state.PriceChangePart = fpmath.Zero
	p.state.WhitePriceBefore = fpmath.Zero
	p.state.BlackPriceBefore = fpmath.Zero

	p.emitter.Emit(&event.PriceChanged{
		Result:       result,
		WhitePrice:   out.WhitePrice,
		BlackPrice:   out.BlackPrice,
		WhiteReserve: out.WhiteReserve,
		BlackReserve: out.BlackReserve,
		PriceShift:   out.PriceShift,
		Clamped:      out.Clamped,
	})
	return nil
}

func (p *Pool) checkFunds(caller common.Address, amount fpmath.Wad) error {
	if p.collateral.Allowance(caller, p.cfg.Address).Lt(amount) {
		return ErrNotEnoughDelegated
	}
	if p.collateral.BalanceOf(caller).Lt(amount) {
		return ErrNotEnoughCollateral
	}
	return nil
}

func (p *Pool) sideCounters(side event.Side) (reserve, bought *fpmath.Wad) {
	if side == event.SideWhite {
		return &p.state.CollateralForWhite, &p.state.WhiteBought
	}
	return &p.state.CollateralForBlack, &p.state.BlackBought
}

// equity is the part of a side's reserve not owed to token holders.
func (p *Pool) equity(side event.Side) fpmath.Wad {
	reserve, bought := p.sideCounters(side)
	liability := fpmath.Liability(*bought, p.Price(side))
	if liability.Gt(*reserve) {
		return fpmath.Zero
	}
	return reserve.Sub(liability)
}
