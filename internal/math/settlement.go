package math

import "errors"

var ErrInsolventReserves = errors.New("reserves do not cover outstanding tokens")

// ApplyFee splits amount into the fee (floored) and what remains.
func ApplyFee(amount, rate Wad) (fee, net Wad) {
	fee = amount.MulDown(rate)
	return fee, amount.Sub(fee)
}

// TokensForPayment is the number of outcome tokens a payment buys at price
// after the fee is taken.
func TokensForPayment(payment, price, rate Wad) (tokens, fee Wad) {
	fee, net := ApplyFee(payment, rate)
	return net.DivDown(price), fee
}

// CollateralForTokens values tokens at price and takes the fee off the gross.
func CollateralForTokens(tokens, price, rate Wad) (gross, fee, net Wad) {
	gross = tokens.MulDown(price)
	fee, net = ApplyFee(gross, rate)
	return gross, fee, net
}

// Liability is what the reserve must hold to buy back bought tokens at price.
func Liability(bought, price Wad) Wad {
	return bought.MulUp(price)
}

// ProRata is floor(total * part / whole); zero when whole is zero.
func ProRata(total, part, whole Wad) Wad {
	if whole.IsZero() {
		return Zero
	}
	return MulDiv(total, part, whole, RoundDown)
}

// SettlementInput is the pool state at the moment an event result arrives.
// Result is +1 when white wins, -1 when black wins and 0 for a draw.
type SettlementInput struct {
	WhitePrice      Wad
	BlackPrice      Wad
	WhiteReserve    Wad
	BlackReserve    Wad
	WhiteBought     Wad
	BlackBought     Wad
	PriceChangePart Wad
	Result          int8
}

// Settlement is the repriced pool state after a result.
type Settlement struct {
	WhitePrice   Wad
	BlackPrice   Wad
	WhiteReserve Wad
	BlackReserve Wad
	PriceShift   Wad  // Amount moved from the loser's price to the winner's
	Clamped      bool // Shift was reduced to keep LP equity non-negative
}

// ComputeSettlement moves floor(loserPrice * part) from the losing side's
// price to the winner's and re-allocates reserves so each side covers its
// outstanding tokens at the new price. Remaining LP equity is split in the new
// price ratio. Total collateral is conserved exactly.
func ComputeSettlement(in SettlementInput) (Settlement, error) {
	total := in.WhiteReserve.Add(in.BlackReserve)
	liab0 := Liability(in.WhiteBought, in.WhitePrice).Add(Liability(in.BlackBought, in.BlackPrice))
	if liab0.Gt(total) {
		return Settlement{}, ErrInsolventReserves
	}

	out := Settlement{
		WhitePrice:   in.WhitePrice,
		BlackPrice:   in.BlackPrice,
		WhiteReserve: in.WhiteReserve,
		BlackReserve: in.BlackReserve,
	}
	if in.Result == 0 {
		return out, nil
	}

	// Orient as winner/loser.
	pW, pL, bW, bL := in.WhitePrice, in.BlackPrice, in.WhiteBought, in.BlackBought
	if in.Result < 0 {
		pW, pL, bW, bL = in.BlackPrice, in.WhitePrice, in.BlackBought, in.WhiteBought
	}

	shift := pL.MulDown(in.PriceChangePart)
	if bW.Gt(bL) {
		// Each ceiling adds at most one subunit, hence the margin of two.
		equity0 := total.Sub(liab0)
		maxShift := Zero
		if equity0.Gt(NewWad(2)) {
			maxShift = MulDiv(equity0.Sub(NewWad(2)), One, bW.Sub(bL), RoundDown)
		}
		if shift.Gt(maxShift) {
			shift = maxShift
			out.Clamped = true
		}
	}

	newW, newL := pW.Add(shift), pL.Sub(shift)
	liabW, liabL := Liability(bW, newW), Liability(bL, newL)
	if liabW.Add(liabL).Gt(total) {
		shift = Zero
		out.Clamped = true
		newW, newL = pW, pL
		liabW, liabL = Liability(bW, pW), Liability(bL, pL)
	}

	equity := total.Sub(liabW.Add(liabL))
	equityW := equity.MulDown(newW)
	rW := liabW.Add(equityW)
	rL := liabL.Add(equity.Sub(equityW))

	out.PriceShift = shift
	if in.Result > 0 {
		out.WhitePrice, out.BlackPrice = newW, newL
		out.WhiteReserve, out.BlackReserve = rW, rL
	} else {
		out.WhitePrice, out.BlackPrice = newL, newW
		out.WhiteReserve, out.BlackReserve = rL, rW
	}
	return out, nil
}
