package event

import (
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

type OrderCreated struct {
	OrderID uint64         `json:"order_id"`
	User    common.Address `json:"user"`
	Amount  fpmath.Wad     `json:"amount"`
	IsWhite bool           `json:"is_white"`
	EventID uint64         `json:"event_id"`
}

func (*OrderCreated) EventType() EventType { return EventTypeOrderCreated }

type OrderCanceled struct {
	OrderID uint64         `json:"order_id"`
	User    common.Address `json:"user"`
	Amount  fpmath.Wad     `json:"amount"`
	EventID uint64         `json:"event_id"`
}

func (*OrderCanceled) EventType() EventType { return EventTypeOrderCanceled }

// OrdersExecuted reports the batch buy of one side's queued orders at event
// start.
type OrdersExecuted struct {
	EventID    uint64     `json:"event_id"`
	Side       Side       `json:"side"`
	OrderIDs   []uint64   `json:"order_ids"`
	Collateral fpmath.Wad `json:"collateral"`
	Tokens     fpmath.Wad `json:"tokens"`
	Price      fpmath.Wad `json:"price"`
}

func (*OrdersExecuted) EventType() EventType { return EventTypeOrdersExecuted }

// OrdersSettled reports the settlement buyback of one side's tokens at event
// end.
type OrdersSettled struct {
	EventID uint64     `json:"event_id"`
	Side    Side       `json:"side"`
	Tokens  fpmath.Wad `json:"tokens"`
	Payout  fpmath.Wad `json:"payout"`
	Price   fpmath.Wad `json:"price"`
}

func (*OrdersSettled) EventType() EventType { return EventTypeOrdersSettled }

type CollateralWithdrew struct {
	User     common.Address `json:"user"`
	Amount   fpmath.Wad     `json:"amount"`
	OrderIDs []uint64       `json:"order_ids"`
}

func (*CollateralWithdrew) EventType() EventType { return EventTypeCollateralWithdrew }

type EmergencyWithdrew struct {
	Owner  common.Address `json:"owner"`
	Amount fpmath.Wad     `json:"amount"`
}

func (*EmergencyWithdrew) EventType() EventType { return EventTypeEmergencyWithdrew }
