package pending

import (
	"fmt"
	"sort"

	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

func (q *Queue) Address() common.Address { return q.cfg.Address }

func (q *Queue) Order(id uint64) (Order, bool) {
	o := q.order(id)
	if o == nil {
		return Order{}, false
	}
	return *o, true
}

// OrdersOf returns caller's orders in creation order.
func (q *Queue) OrdersOf(user common.Address) []Order {
	ids := q.byUser[user]
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, *q.order(id))
	}
	return out
}

func (q *Queue) OrdersCount() uint64 { return uint64(len(q.orders)) }

func (q *Queue) EventDetail(eventID uint64) (EventDetail, bool) {
	d, ok := q.details[eventID]
	if !ok {
		return EventDetail{}, false
	}
	return *d, true
}

// Escrowed is the collateral still owed to order holders: live unplayed
// orders plus the unwithdrawn share of settled events.
func (q *Queue) Escrowed() fpmath.Wad {
	total := fpmath.Zero
	for i := range q.orders {
		o := &q.orders[i]
		if o.Canceled || o.Withdrawn {
			continue
		}
		if !o.Played {
			total = total.Add(o.Amount)
			continue
		}
		d := q.details[o.EventID]
		if d == nil || !d.Executed {
			continue
		}
		collateral, _, payout, _, _ := d.side(o.Side())
		total = total.Add(fpmath.ProRata(*payout, o.Amount, *collateral))
	}
	return total
}

// === Snapshot ===

type EventEntry struct {
	EventID uint64      `json:"event_id"`
	Detail  EventDetail `json:"detail"`
}

type State struct {
	Orders []Order      `json:"orders"`
	Events []EventEntry `json:"events"`
	Swept  fpmath.Wad   `json:"swept"`
}

func (q *Queue) Snapshot() State {
	s := State{Orders: make([]Order, len(q.orders)), Swept: q.swept}
	copy(s.Orders, q.orders)
	for id, d := range q.details {
		s.Events = append(s.Events, EventEntry{EventID: id, Detail: *d})
	}
	sort.Slice(s.Events, func(i, j int) bool { return s.Events[i].EventID < s.Events[j].EventID })
	return s
}

func (q *Queue) Restore(s State) {
	q.orders = make([]Order, len(s.Orders))
	copy(q.orders, s.Orders)
	q.byUser = make(map[common.Address][]uint64)
	q.byEvent = make(map[uint64][]uint64)
	for _, o := range q.orders {
		q.byUser[o.User] = append(q.byUser[o.User], o.ID)
		q.byEvent[o.EventID] = append(q.byEvent[o.EventID], o.ID)
	}
	q.details = make(map[uint64]*EventDetail, len(s.Events))
	for _, e := range s.Events {
		d := e.Detail
		q.details[e.EventID] = &d
	}
	q.swept = s.Swept
	q.locked = false
}

// CheckInvariants verifies the escrow account covers every order. The
// shortfall an emergency withdrawal left behind is tolerated, but only up to
// what is still missing as of the last queue operation.
func (q *Queue) CheckInvariants() error {
	held := q.collateral.BalanceOf(q.cfg.Address)
	if owed := q.Escrowed(); held.Add(q.swept).Lt(owed) {
		return fmt.Errorf("queue holds %s collateral (%s swept) but owes %s", held, q.swept, owed)
	}
	return nil
}
