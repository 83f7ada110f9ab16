package math

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// WadDecimals is the number of decimal places carried by prices and rates.
const WadDecimals = 18

// Wad is an unsigned fixed-point amount. Prices and rates use 18 decimals
// (One == 10^18); token amounts are raw subunits of their asset.
//
// Wad is a value type: every operation returns a new Wad and never mutates
// its receiver.
type Wad struct {
	v uint256.Int
}

var (
	Zero = Wad{}
	One  = NewWad(1_000_000_000_000_000_000)
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Floor, used for every payout
	RoundUp                       // Ceiling, used for liabilities
)

// NewWad wraps raw subunits.
func NewWad(raw uint64) Wad {
	var w Wad
	w.v.SetUint64(raw)
	return w
}

// Units returns n whole units of an asset with the given decimals.
func Units(n uint64, decimals uint8) Wad {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	var w Wad
	if _, overflow := w.v.MulOverflow(uint256.NewInt(n), scale); overflow {
		panic("math: units overflow")
	}
	return w
}

// ParseWad parses a raw base-10 integer ("5000000000000000000").
func ParseWad(s string) (Wad, error) {
	var w Wad
	if err := w.v.SetFromDecimal(strings.TrimSpace(s)); err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return w, nil
}

// ParseDecimal parses a human decimal ("0.003") into a Wad with 18 decimals.
func ParseDecimal(s string) (Wad, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return FromDecimal(d, WadDecimals)
}

// FromDecimal converts d into raw subunits of an asset with the given decimals.
// Fractional subunits are rejected rather than rounded.
func FromDecimal(d decimal.Decimal, decimals uint8) (Wad, error) {
	if d.IsNegative() {
		return Zero, fmt.Errorf("negative amount %s", d.String())
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return Zero, fmt.Errorf("amount %s has more than %d decimals", d.String(), decimals)
	}
	var w Wad
	if overflow := w.v.SetFromBig(shifted.BigInt()); overflow {
		return Zero, fmt.Errorf("amount %s overflows 256 bits", d.String())
	}
	return w, nil
}

// MustDecimal is ParseDecimal for constants and tests.
func MustDecimal(s string) Wad {
	w, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return w
}

func (w Wad) IsZero() bool          { return w.v.IsZero() }
func (w Wad) Cmp(o Wad) int         { return w.v.Cmp(&o.v) }
func (w Wad) Eq(o Wad) bool         { return w.v.Eq(&o.v) }
func (w Wad) Lt(o Wad) bool         { return w.v.Lt(&o.v) }
func (w Wad) Gt(o Wad) bool         { return w.v.Gt(&o.v) }
func (w Wad) Uint256() *uint256.Int { return w.v.Clone() }

// Add panics on overflow. Amounts are bounded by token supplies, so an overflow
// means the state is already corrupt.
func (w Wad) Add(o Wad) Wad {
	var r Wad
	if _, overflow := r.v.AddOverflow(&w.v, &o.v); overflow {
		panic(fmt.Sprintf("math: %s + %s overflows", w, o))
	}
	return r
}

// Sub panics on underflow. Callers compare before subtracting.
func (w Wad) Sub(o Wad) Wad {
	var r Wad
	if _, underflow := r.v.SubOverflow(&w.v, &o.v); underflow {
		panic(fmt.Sprintf("math: %s - %s underflows", w, o))
	}
	return r
}

// MulDiv computes a*b/c with a 512-bit intermediate.
func MulDiv(a, b, c Wad, mode RoundingMode) Wad {
	if c.IsZero() {
		panic("math: division by zero")
	}
	var r Wad
	if _, overflow := r.v.MulDivOverflow(&a.v, &b.v, &c.v); overflow {
		panic(fmt.Sprintf("math: %s * %s / %s overflows", a, b, c))
	}
	if mode == RoundUp {
		var rem uint256.Int
		rem.MulMod(&a.v, &b.v, &c.v)
		if !rem.IsZero() {
			r.v.AddUint64(&r.v, 1)
		}
	}
	return r
}

// MulDown is floor(w*o/One).
func (w Wad) MulDown(o Wad) Wad { return MulDiv(w, o, One, RoundDown) }

// MulUp is ceil(w*o/One).
func (w Wad) MulUp(o Wad) Wad { return MulDiv(w, o, One, RoundUp) }

// DivDown is floor(w*One/o).
func (w Wad) DivDown(o Wad) Wad { return MulDiv(w, One, o, RoundDown) }

// DivUp is ceil(w*One/o).
func (w Wad) DivUp(o Wad) Wad { return MulDiv(w, One, o, RoundUp) }

func Min(a, b Wad) Wad {
	if a.Lt(b) {
		return a
	}
	return b
}

// String renders raw subunits in base 10.
func (w Wad) String() string { return w.v.Dec() }

// Decimal renders the amount as a decimal with the given number of places.
func (w Wad) Decimal(decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(w.v.ToBig(), -int32(decimals))
}

func (w Wad) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.v.Dec())
}

// UnmarshalJSON accepts a quoted or bare base-10 integer.
func (w *Wad) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*w = Zero
		return nil
	}
	parsed, err := ParseWad(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
