package event

import (
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Buy is emitted when outcome tokens are bought from the pool.
type Buy struct {
	User    common.Address `json:"user"`
	Side    Side           `json:"side"`
	Amount  fpmath.Wad     `json:"amount"` // Tokens minted
	Price   fpmath.Wad     `json:"price"`
	Payment fpmath.Wad     `json:"payment"`
	Fee     fpmath.Wad     `json:"fee"`
}

func (*Buy) EventType() EventType { return EventTypeBuy }

// Sell is emitted when the pool buys outcome tokens back, including the
// settlement buyback.
type Sell struct {
	User   common.Address `json:"user"`
	Side   Side           `json:"side"`
	Amount fpmath.Wad     `json:"amount"` // Tokens burned
	Price  fpmath.Wad     `json:"price"`
	Payout fpmath.Wad     `json:"payout"`
	Fee    fpmath.Wad     `json:"fee"`
}

func (*Sell) EventType() EventType { return EventTypeSell }

type AddLiquidity struct {
	User             common.Address `json:"user"`
	WhitePrice       fpmath.Wad     `json:"white_price"`
	BlackPrice       fpmath.Wad     `json:"black_price"`
	BWAmount         fpmath.Wad     `json:"bw_amount"`
	CollateralAmount fpmath.Wad     `json:"collateral_amount"`
}

func (*AddLiquidity) EventType() EventType { return EventTypeAddLiquidity }

type WithdrawLiquidity struct {
	User             common.Address `json:"user"`
	WhitePrice       fpmath.Wad     `json:"white_price"`
	BlackPrice       fpmath.Wad     `json:"black_price"`
	BWAmount         fpmath.Wad     `json:"bw_amount"`
	CollateralAmount fpmath.Wad     `json:"collateral_amount"`
}

func (*WithdrawLiquidity) EventType() EventType { return EventTypeWithdrawLiquidity }

// CollateralAdded is an owner top-up of the reserves.
type CollateralAdded struct {
	User     common.Address `json:"user"`
	ForWhite fpmath.Wad     `json:"for_white"`
	ForBlack fpmath.Wad     `json:"for_black"`
}

func (*CollateralAdded) EventType() EventType { return EventTypeCollateralAdded }

// PriceChanged is emitted when an event result reprices the pool.
type PriceChanged struct {
	Result       int8       `json:"result"`
	WhitePrice   fpmath.Wad `json:"white_price"`
	BlackPrice   fpmath.Wad `json:"black_price"`
	WhiteReserve fpmath.Wad `json:"white_reserve"`
	BlackReserve fpmath.Wad `json:"black_reserve"`
	PriceShift   fpmath.Wad `json:"price_shift"`
	Clamped      bool       `json:"clamped"`
}

func (*PriceChanged) EventType() EventType { return EventTypePriceChanged }

type OrdererChanged struct {
	Orderer    common.Address `json:"orderer"`
	Restricted bool           `json:"restricted"`
}

func (*OrdererChanged) EventType() EventType { return EventTypeOrdererChanged }
