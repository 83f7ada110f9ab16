package projection

import (
	"time"

	"OutcomeMarket/internal/cache"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/event"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Update is every projection row derived from one core output. Rows carry
// absolute values, so applying an update twice is harmless.
type Update struct {
	Sequence int64
	Pool     PoolRow
	Orders   []OrderRow
	Events   []EventRow
	Payouts  []PayoutRow
	Balances []BalanceRow
	Quote    cache.Quote
	Trades   []Trade
}

type PoolRow struct {
	Pool               string
	WhitePrice         fpmath.Wad
	BlackPrice         fpmath.Wad
	CollateralForWhite fpmath.Wad
	CollateralForBlack fpmath.Wad
	WhiteBought        fpmath.Wad
	BlackBought        fpmath.Wad
	Ongoing            bool
	Phase              string
	CurrentEventID     *uint64
}

type OrderRow struct {
	OrderID   uint64
	Owner     string
	Amount    fpmath.Wad
	IsWhite   bool
	EventID   uint64
	Canceled  bool
	Played    bool
	Withdrawn bool
}

// EventRow is a lifecycle transition of one event.
type EventRow struct {
	Info   event.EventInfo
	State  string
	Result *int8
}

// PayoutRow is the settlement collateral of an executed event.
type PayoutRow struct {
	EventID     uint64
	WhitePayout fpmath.Wad
	BlackPayout fpmath.Wad
}

type BalanceRow struct {
	Owner  string
	Asset  string
	Amount fpmath.Wad
}

// BuildUpdate translates a core output for the market whose pool is at
// poolAddr.
func BuildUpdate(poolAddr common.Address, out core.CoreOutput) Update {
	seq := out.Envelope.Sequence
	d := out.Delta
	u := Update{Sequence: seq}

	u.Pool = PoolRow{
		Pool:               poolAddr.Hex(),
		WhitePrice:         d.Pool.WhitePrice,
		BlackPrice:         d.Pool.BlackPrice,
		CollateralForWhite: d.Pool.CollateralForWhite,
		CollateralForBlack: d.Pool.CollateralForBlack,
		WhiteBought:        d.Pool.WhiteBought,
		BlackBought:        d.Pool.BlackBought,
		Ongoing:            d.Pool.Ongoing,
		Phase:              d.Phase.String(),
	}
	var currentID uint64
	if d.Current != nil {
		id := d.Current.EventID
		u.Pool.CurrentEventID = &id
		currentID = id
	}

	u.Quote = cache.Quote{
		Pool:       poolAddr.Hex(),
		WhitePrice: d.Pool.WhitePrice.Decimal(fpmath.WadDecimals).String(),
		BlackPrice: d.Pool.BlackPrice.Decimal(fpmath.WadDecimals).String(),
		Phase:      d.Phase.String(),
		EventID:    currentID,
		Sequence:   seq,
		UpdatedAt:  out.Envelope.Timestamp,
	}

	for _, o := range d.Orders {
		u.Orders = append(u.Orders, OrderRow{
			OrderID:   o.ID,
			Owner:     o.User.Hex(),
			Amount:    o.Amount,
			IsWhite:   o.IsWhite,
			EventID:   o.EventID,
			Canceled:  o.Canceled,
			Played:    o.Played,
			Withdrawn: o.Withdrawn,
		})
	}

	for _, e := range d.Details {
		if e.Detail.Executed {
			u.Payouts = append(u.Payouts, PayoutRow{
				EventID:     e.EventID,
				WhitePayout: e.Detail.WhitePayout,
				BlackPayout: e.Detail.BlackPayout,
			})
		}
	}

	for _, b := range d.Balances {
		u.Balances = append(u.Balances, BalanceRow{
			Owner:  b.Owner.Hex(),
			Asset:  b.Asset.String(),
			Amount: b.Amount,
		})
	}

	for _, e := range out.Events {
		switch ev := e.(type) {
		case *event.PrepareEvent:
			u.Events = append(u.Events, EventRow{Info: ev.EventInfo, State: "Queued"})
		case *event.AppStarted:
			u.Events = append(u.Events, EventRow{Info: ev.EventInfo, State: "Ongoing"})
		case *event.AppEnded:
			result := ev.Result
			u.Events = append(u.Events, EventRow{Info: ev.EventInfo, State: "Ended", Result: &result})
		case *event.EventDiscarded:
			u.Events = append(u.Events, EventRow{Info: ev.EventInfo, State: "Discarded"})
		case *event.Buy:
			u.Trades = append(u.Trades, tradeFrom(seq, out.Envelope.Timestamp, ev.User, ev.Side, true, ev.Amount, ev.Price, ev.Payment, ev.Fee))
		case *event.Sell:
			u.Trades = append(u.Trades, tradeFrom(seq, out.Envelope.Timestamp, ev.User, ev.Side, false, ev.Amount, ev.Price, ev.Payout, ev.Fee))
		}
	}
	return u
}

func tradeFrom(seq int64, at time.Time, user common.Address, side event.Side, buy bool, tokens, price, collateral, fee fpmath.Wad) Trade {
	return Trade{
		Sequence:   seq,
		User:       user,
		Side:       side,
		Buy:        buy,
		Tokens:     tokens,
		Price:      price,
		Collateral: collateral,
		Fee:        fee,
		Timestamp:  at,
	}
}
