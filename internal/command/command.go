// Package command defines the typed inputs the deterministic core applies.
//
// Every command carries a Header: the idempotency key chosen by the client,
// the authenticated sender and the timestamp the command is applied at. The
// core never reads the wall clock.
package command

import (
	"time"

	"OutcomeMarket/internal/event"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Type discriminator for command payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeDeposit
	TypeApprove
	TypeTransfer
	TypeBuy
	TypeSell
	TypeAddLiquidity
	TypeWithdrawLiquidity
	TypeAddCollateral
	TypeSetOrderer
	TypeCreateOrder
	TypeCancelOrder
	TypeWithdrawCollateral
	TypeEmergencyWithdrawCollateral
	TypePrepareEvent
	TypeStartEvent
	TypeEndEvent
	TypeAddAndStartEvent
	TypeAddOracle
	TypeRemoveOracle
)

var typeNames = map[Type]string{
	TypeDeposit:                     "deposit",
	TypeApprove:                     "approve",
	TypeTransfer:                    "transfer",
	TypeBuy:                         "buy",
	TypeSell:                        "sell",
	TypeAddLiquidity:                "add_liquidity",
	TypeWithdrawLiquidity:           "withdraw_liquidity",
	TypeAddCollateral:               "add_collateral",
	TypeSetOrderer:                  "set_orderer",
	TypeCreateOrder:                 "create_order",
	TypeCancelOrder:                 "cancel_order",
	TypeWithdrawCollateral:          "withdraw_collateral",
	TypeEmergencyWithdrawCollateral: "emergency_withdraw_collateral",
	TypePrepareEvent:                "prepare_event",
	TypeStartEvent:                  "start_event",
	TypeEndEvent:                    "end_event",
	TypeAddAndStartEvent:            "add_and_start_event",
	TypeAddOracle:                   "add_oracle",
	TypeRemoveOracle:                "remove_oracle",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType maps a wire name ("create_order") to its Type.
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return TypeUnknown, false
}

// AllTypes lists every command type in wire order.
func AllTypes() []Type {
	out := make([]Type, 0, len(typeNames))
	for t := TypeDeposit; t <= TypeRemoveOracle; t++ {
		out = append(out, t)
	}
	return out
}

// Header is common to every command.
type Header struct {
	RequestID string         `json:"request_id"`
	Sender    common.Address `json:"sender"`
	Timestamp time.Time      `json:"timestamp"`
}

func (h Header) Head() Header { return h }

// Command is implemented by every command payload.
type Command interface {
	CommandType() Type
	Head() Header
}

// Deposit mints collateral to To. Only the market owner may deposit.
type Deposit struct {
	Header
	To     common.Address `json:"to"`
	Amount fpmath.Wad     `json:"amount"`
}

type Approve struct {
	Header
	Asset   string         `json:"asset"`
	Spender common.Address `json:"spender"`
	Amount  fpmath.Wad     `json:"amount"`
}

type Transfer struct {
	Header
	Asset  string         `json:"asset"`
	To     common.Address `json:"to"`
	Amount fpmath.Wad     `json:"amount"`
}

type Buy struct {
	Header
	Side     event.Side `json:"side"`
	MaxPrice fpmath.Wad `json:"max_price"`
	Payment  fpmath.Wad `json:"payment"`
}

type Sell struct {
	Header
	Side     event.Side `json:"side"`
	MinPrice fpmath.Wad `json:"min_price"`
	Tokens   fpmath.Wad `json:"tokens"`
}

type AddLiquidity struct {
	Header
	Amount fpmath.Wad `json:"amount"`
}

type WithdrawLiquidity struct {
	Header
	Shares fpmath.Wad `json:"shares"`
}

type AddCollateral struct {
	Header
	ForWhite fpmath.Wad `json:"for_white"`
	ForBlack fpmath.Wad `json:"for_black"`
}

type SetOrderer struct {
	Header
	Orderer    common.Address `json:"orderer"`
	Restricted bool           `json:"restricted"`
}

type CreateOrder struct {
	Header
	Amount  fpmath.Wad `json:"amount"`
	IsWhite bool       `json:"is_white"`
	EventID uint64     `json:"event_id"`
}

type CancelOrder struct {
	Header
	OrderID uint64 `json:"order_id"`
}

type WithdrawCollateral struct {
	Header
}

type EmergencyWithdrawCollateral struct {
	Header
}

// EventSpec describes an event to prepare. Zero timeouts use the market
// defaults.
type EventSpec struct {
	EventID         uint64     `json:"event_id"`
	PriceChangePart fpmath.Wad `json:"price_change_part"`
	StartTimeoutSec uint64     `json:"start_timeout_sec"`
	EndTimeoutSec   uint64     `json:"end_timeout_sec"`
	WhiteTeam       string     `json:"white_team"`
	BlackTeam       string     `json:"black_team"`
	Category        string     `json:"category"`
	Series          string     `json:"series"`
}

func (s EventSpec) StartTimeout() time.Duration {
	return time.Duration(s.StartTimeoutSec) * time.Second
}

func (s EventSpec) EndTimeout() time.Duration {
	return time.Duration(s.EndTimeoutSec) * time.Second
}

type PrepareEvent struct {
	Header
	EventSpec
}

type StartEvent struct {
	Header
}

// EndEvent carries the result: +1 white wins, -1 black wins, 0 draw.
type EndEvent struct {
	Header
	Result int8 `json:"result"`
}

type AddAndStartEvent struct {
	Header
	EventSpec
}

type AddOracle struct {
	Header
	Oracle common.Address `json:"oracle"`
}

type RemoveOracle struct {
	Header
	Oracle common.Address `json:"oracle"`
}

func (*Deposit) CommandType() Type                     { return TypeDeposit }
func (*Approve) CommandType() Type                     { return TypeApprove }
func (*Transfer) CommandType() Type                    { return TypeTransfer }
func (*Buy) CommandType() Type                         { return TypeBuy }
func (*Sell) CommandType() Type                        { return TypeSell }
func (*AddLiquidity) CommandType() Type                { return TypeAddLiquidity }
func (*WithdrawLiquidity) CommandType() Type           { return TypeWithdrawLiquidity }
func (*AddCollateral) CommandType() Type               { return TypeAddCollateral }
func (*SetOrderer) CommandType() Type                  { return TypeSetOrderer }
func (*CreateOrder) CommandType() Type                 { return TypeCreateOrder }
func (*CancelOrder) CommandType() Type                 { return TypeCancelOrder }
func (*WithdrawCollateral) CommandType() Type          { return TypeWithdrawCollateral }
func (*EmergencyWithdrawCollateral) CommandType() Type { return TypeEmergencyWithdrawCollateral }
func (*PrepareEvent) CommandType() Type                { return TypePrepareEvent }
func (*StartEvent) CommandType() Type                  { return TypeStartEvent }
func (*EndEvent) CommandType() Type                    { return TypeEndEvent }
func (*AddAndStartEvent) CommandType() Type            { return TypeAddAndStartEvent }
func (*AddOracle) CommandType() Type                   { return TypeAddOracle }
func (*RemoveOracle) CommandType() Type                { return TypeRemoveOracle }

// New returns an empty command of type t, ready to be decoded into.
func New(t Type) (Command, bool) {
	switch t {
	case TypeDeposit:
		return &Deposit{}, true
	case TypeApprove:
		return &Approve{}, true
	case TypeTransfer:
		return &Transfer{}, true
	case TypeBuy:
		return &Buy{}, true
	case TypeSell:
		return &Sell{}, true
	case TypeAddLiquidity:
		return &AddLiquidity{}, true
	case TypeWithdrawLiquidity:
		return &WithdrawLiquidity{}, true
	case TypeAddCollateral:
		return &AddCollateral{}, true
	case TypeSetOrderer:
		return &SetOrderer{}, true
	case TypeCreateOrder:
		return &CreateOrder{}, true
	case TypeCancelOrder:
		return &CancelOrder{}, true
	case TypeWithdrawCollateral:
		return &WithdrawCollateral{}, true
	case TypeEmergencyWithdrawCollateral:
		return &EmergencyWithdrawCollateral{}, true
	case TypePrepareEvent:
		return &PrepareEvent{}, true
	case TypeStartEvent:
		return &StartEvent{}, true
	case TypeEndEvent:
		return &EndEvent{}, true
	case TypeAddAndStartEvent:
		return &AddAndStartEvent{}, true
	case TypeAddOracle:
		return &AddOracle{}, true
	case TypeRemoveOracle:
		return &RemoveOracle{}, true
	}
	return nil, false
}
