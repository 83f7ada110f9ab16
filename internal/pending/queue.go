// Package pending implements the deferred order queue.
//
// Users escrow collateral against an upcoming event. When the event starts
// the queue buys each side's total through the pool in one trade, and when it
// ends the queue sells the tokens back and pays every order its pro-rata share
// of the buyback.
package pending

import (
	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	"OutcomeMarket/internal/lifecycle"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroAmount          = failure.Invalid("amount should be greater than zero")
	ErrEventAlreadyStarted = failure.State("event already started")
	ErrEventDiscarded      = failure.State("event was discarded")
	ErrNotEnoughCollateral = failure.Economic("not enough collateral in user's account")
	ErrNotEnoughDelegated  = failure.Economic("not enough delegated collateral")
	ErrOrderNotFound       = failure.State("order does not exist")
	ErrNotOrderOwner       = failure.Authorization("caller is not the order owner")
	ErrOrderCanceled       = failure.State("order already canceled")
	ErrEventInProgress     = failure.State("event in progress")
	ErrNoOrders            = failure.State("you don't have orders")
	ErrOrdersExecuted      = failure.State("orders already executed")
	ErrNotOwner            = failure.Authorization("caller is not the owner")
	ErrNotEventContract    = failure.Authorization("caller should be the event contract")
	ErrReentrantCall       = failure.State("reentrant call")
)

// CollateralToken is the token orders are escrowed in.
type CollateralToken interface {
	BalanceOf(owner common.Address) fpmath.Wad
	Allowance(owner, spender common.Address) fpmath.Wad
	Approve(owner, spender common.Address, amount fpmath.Wad) error
	Transfer(from, to common.Address, amount fpmath.Wad) error
	TransferFrom(spender, from, to common.Address, amount fpmath.Wad) error
}

// Trader is the pool as seen by the queue: a plain trading counterparty.
type Trader interface {
	Address() common.Address
	Price(side event.Side) fpmath.Wad
	Buy(caller common.Address, side event.Side, maxPrice, payment fpmath.Wad) (fpmath.Wad, error)
	Sell(caller common.Address, side event.Side, minPrice, tokensIn fpmath.Wad) (fpmath.Wad, error)
}

// EventStates reports what the lifecycle knows about an event id and which
// event occupies its slot.
type EventStates interface {
	EventState(id uint64) lifecycle.EventState
	Current() (lifecycle.Record, bool)
}

type Config struct {
	Address   common.Address // The queue's own escrow account
	Owner     common.Address
	Lifecycle common.Address // Only caller of the start/end hooks
}

type Order struct {
	ID        uint64         `json:"id"`
	User      common.Address `json:"user"`
	Amount    fpmath.Wad     `json:"amount"`
	IsWhite   bool           `json:"is_white"`
	EventID   uint64         `json:"event_id"`
	Canceled  bool           `json:"canceled"`
	Played    bool           `json:"played"`
	Withdrawn bool           `json:"withdrawn"`
}

func (o Order) Side() event.Side { return event.SideOf(o.IsWhite) }

// EventDetail is the queue's per-event aggregate.
type EventDetail struct {
	WhiteCollateral  fpmath.Wad `json:"white_collateral"`
	BlackCollateral  fpmath.Wad `json:"black_collateral"`
	WhiteTokens      fpmath.Wad `json:"white_tokens"`
	BlackTokens      fpmath.Wad `json:"black_tokens"`
	WhitePriceBefore fpmath.Wad `json:"white_price_before"`
	BlackPriceBefore fpmath.Wad `json:"black_price_before"`
	WhitePayout      fpmath.Wad `json:"white_payout"`
	BlackPayout      fpmath.Wad `json:"black_payout"`
	WhitePriceAfter  fpmath.Wad `json:"white_price_after"`
	BlackPriceAfter  fpmath.Wad `json:"black_price_after"`
	Started          bool       `json:"started"`
	Executed         bool       `json:"executed"`
}

func (d *EventDetail) side(s event.Side) (collateral, tokens, payout, before, after *fpmath.Wad) {
	if s == event.SideWhite {
		return &d.WhiteCollateral, &d.WhiteTokens, &d.WhitePayout, &d.WhitePriceBefore, &d.WhitePriceAfter
	}
	return &d.BlackCollateral, &d.BlackTokens, &d.BlackPayout, &d.BlackPriceBefore, &d.BlackPriceAfter
}

type Queue struct {
	cfg        Config
	collateral CollateralToken
	pool       Trader
	events     EventStates
	emitter    event.Emitter

	orders  []Order // orders[i].ID == i+1
	byUser  map[common.Address][]uint64
	byEvent map[uint64][]uint64
	details map[uint64]*EventDetail
	swept   fpmath.Wad // Escrow shortfall left by emergency withdrawals
	locked  bool
}

func New(cfg Config, collateral CollateralToken, pool Trader, events EventStates, emitter event.Emitter) *Queue {
	return &Queue{
		cfg:        cfg,
		collateral: collateral,
		pool:       pool,
		events:     events,
		emitter:    emitter,
		byUser:     make(map[common.Address][]uint64),
		byEvent:    make(map[uint64][]uint64),
		details:    make(map[uint64]*EventDetail),
	}
}

func (q *Queue) enter() error {
	if q.locked {
		return ErrReentrantCall
	}
	q.locked = true
	return nil
}

func (q *Queue) exit() {
	q.locked = false
	q.releaseSwept()
}

// releaseSwept shrinks swept to the current escrow shortfall. Collateral
// returned to the queue stops counting as swept, and swept never grows
// outside an emergency withdrawal.
func (q *Queue) releaseSwept() {
	if q.swept.IsZero() {
		return
	}
	shortfall := fpmath.Zero
	if held, owed := q.collateral.BalanceOf(q.cfg.Address), q.Escrowed(); held.Lt(owed) {
		shortfall = owed.Sub(held)
	}
	if shortfall.Lt(q.swept) {
		q.swept = shortfall
	}
}

// CreateOrder escrows amount collateral from caller against eventID. While
// an event occupies the lifecycle slot, orders may only target that event and
// only before it starts.
func (q *Queue) CreateOrder(caller common.Address, amount fpmath.Wad, isWhite bool, eventID uint64) (uint64, error) {
	if err := q.enter(); err != nil {
		return 0, err
	}
	defer q.exit()

	if amount.IsZero() {
		return 0, ErrZeroAmount
	}
	switch q.events.EventState(eventID) {
	case lifecycle.EventStateOngoing, lifecycle.EventStateEnded:
		return 0, ErrEventAlreadyStarted
	case lifecycle.EventStateDiscarded:
		return 0, ErrEventDiscarded
	}
	if cur, ok := q.events.Current(); ok {
		if cur.EventID != eventID || cur.Phase != lifecycle.PhaseQueued {
			return 0, ErrEventAlreadyStarted
		}
	}
	if q.collateral.BalanceOf(caller).Lt(amount) {
		return 0, ErrNotEnoughCollateral
	}
	if q.collateral.Allowance(caller, q.cfg.Address).Lt(amount) {
		return 0, ErrNotEnoughDelegated
	}

	id := uint64(len(q.orders)) + 1
	q.orders = append(q.orders, Order{
		ID:      id,
		User:    caller,
		Amount:  amount,
		IsWhite: isWhite,
		EventID: eventID,
	})
	q.byUser[caller] = append(q.byUser[caller], id)
	q.byEvent[eventID] = append(q.byEvent[eventID], id)

	if err := q.collateral.TransferFrom(q.cfg.Address, caller, q.cfg.Address, amount); err != nil {
		return 0, err
	}

	q.emitter.Emit(&event.OrderCreated{OrderID: id, User: caller, Amount: amount, IsWhite: isWhite, EventID: eventID})
	return id, nil
}

// CancelOrder refunds an order that has not been played.
func (q *Queue) CancelOrder(caller common.Address, id uint64) error {
	if err := q.enter(); err != nil {
		return err
	}
	defer q.exit()

	o := q.order(id)
	if o == nil {
		return ErrOrderNotFound
	}
	if o.User != caller {
		return ErrNotOrderOwner
	}
	if o.Canceled {
		return ErrOrderCanceled
	}
	switch q.events.EventState(o.EventID) {
	case lifecycle.EventStateOngoing, lifecycle.EventStateEnded:
		return ErrEventInProgress
	}
	if o.Played {
		return ErrEventInProgress
	}

	o.Canceled = true

	if err := q.collateral.Transfer(q.cfg.Address, o.User, o.Amount); err != nil {
		return err
	}

	q.emitter.Emit(&event.OrderCanceled{OrderID: o.ID, User: o.User, Amount: o.Amount, EventID: o.EventID})
	return nil
}

// OnEventStarted buys every side's queued total through the pool.
func (q *Queue) OnEventStarted(caller common.Address, eventID uint64) error {
	if caller != q.cfg.Lifecycle {
		return ErrNotEventContract
	}
	if err := q.enter(); err != nil {
		return err
	}
	defer q.exit()

	d := q.detail(eventID)
	if d.Started {
		return ErrEventAlreadyStarted
	}
	d.Started = true

	for _, side := range []event.Side{event.SideWhite, event.SideBlack} {
		var ids []uint64
		total := fpmath.Zero
		for _, id := range q.byEvent[eventID] {
			o := q.order(id)
			if o.Canceled || o.Played || o.Side() != side {
				continue
			}
			o.Played = true
			ids = append(ids, id)
			total = total.Add(o.Amount)
		}

		collateral, tokens, _, before, _ := d.side(side)
		*before = q.pool.Price(side)
		if total.IsZero() {
			continue
		}
		*collateral = total

		if err := q.collateral.Approve(q.cfg.Address, q.pool.Address(), total); err != nil {
			return err
		}
		bought, err := q.pool.Buy(q.cfg.Address, side, fpmath.One, total)
		if err != nil {
			return err
		}
		*tokens = bought

		q.emitter.Emit(&event.OrdersExecuted{
			EventID:    eventID,
			Side:       side,
			OrderIDs:   ids,
			Collateral: total,
			Tokens:     bought,
			Price:      *before,
		})
	}
	return nil
}

// OnEventEnded sells the event's tokens back to the pool at the settled
// prices.
func (q *Queue) OnEventEnded(caller common.Address, eventID uint64) error {
	if caller != q.cfg.Lifecycle {
		return ErrNotEventContract
	}
	if err := q.enter(); err != nil {
		return err
	}
	defer q.exit()

	d := q.detail(eventID)
	if d.Executed {
		return ErrOrdersExecuted
	}
	d.Executed = true

	for _, side := range []event.Side{event.SideWhite, event.SideBlack} {
		_, tokens, payout, _, after := d.side(side)
		*after = q.pool.Price(side)
		if tokens.IsZero() {
			continue
		}

		received, err := q.pool.Sell(q.cfg.Address, side, fpmath.Zero, *tokens)
		if err != nil {
			return err
		}
		*payout = received

		q.emitter.Emit(&event.OrdersSettled{
			EventID: eventID,
			Side:    side,
			Tokens:  *tokens,
			Payout:  received,
			Price:   *after,
		})
	}
	return nil
}

// WithdrawCollateral pays caller the settled share of every played order.
func (q *Queue) WithdrawCollateral(caller common.Address) (fpmath.Wad, error) {
	if err := q.enter(); err != nil {
		return fpmath.Zero, err
	}
	defer q.exit()

	total := fpmath.Zero
	var ids []uint64
	for _, id := range q.byUser[caller] {
		o := q.order(id)
		if !o.Played || o.Withdrawn || o.Canceled {
			continue
		}
		d, ok := q.details[o.EventID]
		if !ok || !d.Executed {
			continue
		}
		collateral, _, payout, _, _ := d.side(o.Side())
		total = total.Add(fpmath.ProRata(*payout, o.Amount, *collateral))
		o.Withdrawn = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return fpmath.Zero, ErrNoOrders
	}

	if err := q.collateral.Transfer(q.cfg.Address, caller, total); err != nil {
		return fpmath.Zero, err
	}

	q.emitter.Emit(&event.CollateralWithdrew{User: caller, Amount: total, OrderIDs: ids})
	return total, nil
}

// EmergencyWithdrawCollateral sweeps the whole escrow to the owner.
func (q *Queue) EmergencyWithdrawCollateral(caller common.Address) (fpmath.Wad, error) {
	if caller != q.cfg.Owner {
		return fpmath.Zero, ErrNotOwner
	}
	if err := q.enter(); err != nil {
		return fpmath.Zero, err
	}
	defer q.exit()

	amount := q.collateral.BalanceOf(q.cfg.Address)
	q.swept = q.swept.Add(amount)
	if err := q.collateral.Transfer(q.cfg.Address, q.cfg.Owner, amount); err != nil {
		return fpmath.Zero, err
	}

	q.emitter.Emit(&event.EmergencyWithdrew{Owner: q.cfg.Owner, Amount: amount})
	return amount, nil
}

func (q *Queue) order(id uint64) *Order {
	if id == 0 || id > uint64(len(q.orders)) {
		return nil
	}
	return &q.orders[id-1]
}

func (q *Queue) detail(eventID uint64) *EventDetail {
	d, ok := q.details[eventID]
	if !ok {
		d = &EventDetail{}
		q.details[eventID] = d
	}
	return d
}
