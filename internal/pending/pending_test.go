package pending_test

import (
	"testing"

	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	"OutcomeMarket/internal/ledger"
	"OutcomeMarket/internal/lifecycle"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/pending"
	"OutcomeMarket/internal/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	poolAddr  = common.HexToAddress("0x0000000000000000000000000000000000000003")
	lifeAddr  = common.HexToAddress("0x0000000000000000000000000000000000000004")
	queueAddr = common.HexToAddress("0x0000000000000000000000000000000000000005")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

type eventStates map[uint64]lifecycle.EventState

func (s eventStates) EventState(id uint64) lifecycle.EventState { return s[id] }

// Current reports the lowest id that is queued or ongoing.
func (s eventStates) Current() (lifecycle.Record, bool) {
	var (
		cur   lifecycle.Record
		found bool
	)
	for id, st := range s {
		var phase lifecycle.Phase
		switch st {
		case lifecycle.EventStateQueued:
			phase = lifecycle.PhaseQueued
		case lifecycle.EventStateOngoing:
			phase = lifecycle.PhaseOngoing
		default:
			continue
		}
		if !found || id < cur.EventID {
			cur = lifecycle.Record{Phase: phase}
			cur.EventID = id
			found = true
		}
	}
	return cur, found
}

type fixture struct {
	queue      *pending.Queue
	pool       *pool.Pool
	collateral *ledger.Token
	states     eventStates
	events     *event.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.NewLedger()
	f := &fixture{
		collateral: l.Token(ledger.AssetCollateral),
		states:     eventStates{},
		events:     &event.Recorder{},
	}
	p, err := pool.New(pool.Config{
		Address:            poolAddr,
		Owner:              owner,
		Authority:          lifeAddr,
		Fee:                pool.DefaultFee,
		InitialWhitePrice:  fpmath.MustDecimal("0.5"),
		MaxPriceChangePart: fpmath.MustDecimal("0.5"),
	}, f.collateral, l.Token(ledger.AssetLiquidity), ledger.NewVault(l), f.events)
	require.NoError(t, err)
	f.pool = p
	f.queue = pending.New(pending.Config{
		Address:   queueAddr,
		Owner:     owner,
		Lifecycle: lifeAddr,
	}, f.collateral, p, f.states, f.events)
	return f
}

func units(n uint64) fpmath.Wad { return fpmath.Units(n, 18) }

// fund mints collateral to user and approves the queue for all of it.
func (f *fixture) fund(t *testing.T, user common.Address, amount fpmath.Wad) {
	t.Helper()
	require.NoError(t, f.collateral.Mint(user, amount))
	require.NoError(t, f.collateral.Approve(user, queueAddr, f.collateral.BalanceOf(user)))
}

func (f *fixture) seedLiquidity(t *testing.T, amount fpmath.Wad) {
	t.Helper()
	require.NoError(t, f.collateral.Mint(owner, amount))
	require.NoError(t, f.collateral.Approve(owner, poolAddr, amount))
	_, err := f.pool.AddLiquidity(owner, amount)
	require.NoError(t, err)
}

// start and end drive the hooks in the order the lifecycle calls them.
func (f *fixture) start(t *testing.T, eventID uint64, part fpmath.Wad) {
	t.Helper()
	require.NoError(t, f.queue.OnEventStarted(lifeAddr, eventID))
	require.NoError(t, f.pool.SubmitEventStarted(lifeAddr, part))
	f.states[eventID] = lifecycle.EventStateOngoing
}

func (f *fixture) end(t *testing.T, eventID uint64, result int8) {
	t.Helper()
	require.NoError(t, f.pool.SubmitEventResult(lifeAddr, result))
	require.NoError(t, f.queue.OnEventEnded(lifeAddr, eventID))
	f.states[eventID] = lifecycle.EventStateEnded
}

func TestCreateOrder_EscrowsCollateral(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, units(10))

	id, err := f.queue.CreateOrder(alice, units(4), true, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	id, err = f.queue.CreateOrder(alice, units(6), false, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	assert.True(t, f.collateral.BalanceOf(alice).IsZero())
	assert.Equal(t, units(10), f.collateral.BalanceOf(queueAddr))
	assert.Equal(t, uint64(2), f.queue.OrdersCount())

	orders := f.queue.OrdersOf(alice)
	require.Len(t, orders, 2)
	assert.True(t, orders[0].IsWhite)
	assert.Equal(t, event.SideBlack, orders[1].Side())

	events := f.events.Drain()
	require.Len(t, events, 2)
	created := events[0].(*event.OrderCreated)
	assert.Equal(t, uint64(1), created.OrderID)
	assert.Equal(t, units(4), created.Amount)
	assert.NoError(t, f.queue.CheckInvariants())
}

func TestCreateOrder_Rejections(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.collateral.Mint(alice, units(5)))

	_, err := f.queue.CreateOrder(alice, fpmath.Zero, true, 1)
	assert.ErrorIs(t, err, pending.ErrZeroAmount)

	_, err = f.queue.CreateOrder(alice, units(6), true, 1)
	assert.ErrorIs(t, err, pending.ErrNotEnoughCollateral)

	_, err = f.queue.CreateOrder(alice, units(5), true, 1)
	assert.ErrorIs(t, err, pending.ErrNotEnoughDelegated)
	assert.Equal(t, failure.KindEconomic, failure.KindOf(err))

	f.states[2] = lifecycle.EventStateOngoing
	f.states[3] = lifecycle.EventStateEnded
	f.states[4] = lifecycle.EventStateDiscarded
	require.NoError(t, f.collateral.Approve(alice, queueAddr, units(5)))

	_, err = f.queue.CreateOrder(alice, units(1), true, 2)
	assert.ErrorIs(t, err, pending.ErrEventAlreadyStarted)
	_, err = f.queue.CreateOrder(alice, units(1), true, 3)
	assert.ErrorIs(t, err, pending.ErrEventAlreadyStarted)
	_, err = f.queue.CreateOrder(alice, units(1), true, 4)
	assert.ErrorIs(t, err, pending.ErrEventDiscarded)

	assert.Equal(t, uint64(0), f.queue.OrdersCount())
}

func TestCreateOrder_OnlyTargetsQueuedEvent(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, units(10))

	f.states[5] = lifecycle.EventStateQueued
	for _, id := range []uint64{3, 6} {
		_, err := f.queue.CreateOrder(alice, units(1), true, id)
		assert.ErrorIs(t, err, pending.ErrEventAlreadyStarted, "event %d", id)
	}
	id, err := f.queue.CreateOrder(alice, units(1), true, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	f.states[5] = lifecycle.EventStateOngoing
	for _, id := range []uint64{5, 6} {
		_, err = f.queue.CreateOrder(alice, units(1), true, id)
		assert.ErrorIs(t, err, pending.ErrEventAlreadyStarted, "event %d", id)
	}

	f.states[5] = lifecycle.EventStateEnded
	_, err = f.queue.CreateOrder(alice, units(1), true, 6)
	require.NoError(t, err, "empty slot accepts the next id")
	assert.Equal(t, uint64(2), f.queue.OrdersCount())
	assert.Equal(t, units(8), f.collateral.BalanceOf(alice))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, units(10))
	id, err := f.queue.CreateOrder(alice, units(4), true, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, f.queue.CancelOrder(alice, 99), pending.ErrOrderNotFound)
	assert.ErrorIs(t, f.queue.CancelOrder(bob, id), pending.ErrNotOrderOwner)

	require.NoError(t, f.queue.CancelOrder(alice, id))
	assert.Equal(t, units(10), f.collateral.BalanceOf(alice))
	assert.ErrorIs(t, f.queue.CancelOrder(alice, id), pending.ErrOrderCanceled)

	o, ok := f.queue.Order(id)
	require.True(t, ok)
	assert.True(t, o.Canceled)
}

func TestCancelOrder_EventInProgress(t *testing.T) {
	f := newFixture(t)
	f.seedLiquidity(t, units(1000))
	f.fund(t, alice, units(10))
	id, err := f.queue.CreateOrder(alice, units(4), true, 1)
	require.NoError(t, err)

	f.start(t, 1, fpmath.MustDecimal("0.2"))
	assert.ErrorIs(t, f.queue.CancelOrder(alice, id), pending.ErrEventInProgress)

	f.end(t, 1, 0)
	assert.ErrorIs(t, f.queue.CancelOrder(alice, id), pending.ErrEventInProgress)
}

func TestCancelOrder_DiscardedEventRefunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, units(10))
	id, err := f.queue.CreateOrder(alice, units(4), true, 7)
	require.NoError(t, err)

	f.states[7] = lifecycle.EventStateDiscarded
	require.NoError(t, f.queue.CancelOrder(alice, id))
	assert.Equal(t, units(10), f.collateral.BalanceOf(alice))
}

func TestEventHooks_OnlyLifecycle(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.queue.OnEventStarted(alice, 1), pending.ErrNotEventContract)
	assert.ErrorIs(t, f.queue.OnEventEnded(alice, 1), pending.ErrNotEventContract)
}

func TestDrawSettlement_ProRataPayouts(t *testing.T) {
	f := newFixture(t)
	f.seedLiquidity(t, units(1000))
	f.fund(t, alice, units(10))
	f.fund(t, bob, units(30))
	f.fund(t, carol, units(20))

	_, err := f.queue.CreateOrder(alice, units(10), true, 1)
	require.NoError(t, err)
	_, err = f.queue.CreateOrder(bob, units(30), true, 1)
	require.NoError(t, err)
	_, err = f.queue.CreateOrder(carol, units(20), false, 1)
	require.NoError(t, err)
	f.events.Drain()

	f.start(t, 1, fpmath.MustDecimal("0.2"))

	detail, ok := f.queue.EventDetail(1)
	require.True(t, ok)
	assert.True(t, detail.Started)
	assert.Equal(t, units(40), detail.WhiteCollateral)
	assert.Equal(t, fpmath.MustDecimal("79.76"), detail.WhiteTokens)
	assert.Equal(t, fpmath.MustDecimal("39.88"), detail.BlackTokens)
	assert.Equal(t, fpmath.MustDecimal("0.5"), detail.WhitePriceBefore)

	executed := f.events.Drain()
	require.Len(t, executed, 4)
	batch := executed[1].(*event.OrdersExecuted)
	assert.Equal(t, []uint64{1, 2}, batch.OrderIDs)

	_, err = f.queue.WithdrawCollateral(alice)
	assert.ErrorIs(t, err, pending.ErrNoOrders, "nothing to withdraw before settlement")

	f.end(t, 1, 0)

	detail, _ = f.queue.EventDetail(1)
	assert.True(t, detail.Executed)
	assert.Equal(t, fpmath.MustDecimal("39.76036"), detail.WhitePayout)
	assert.Equal(t, fpmath.MustDecimal("19.88018"), detail.BlackPayout)

	got, err := f.queue.WithdrawCollateral(alice)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MustDecimal("9.94009"), got)

	got, err = f.queue.WithdrawCollateral(bob)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MustDecimal("29.82027"), got)

	got, err = f.queue.WithdrawCollateral(carol)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MustDecimal("19.88018"), got)

	_, err = f.queue.WithdrawCollateral(alice)
	assert.ErrorIs(t, err, pending.ErrNoOrders)

	assert.True(t, f.collateral.BalanceOf(queueAddr).IsZero())
	assert.NoError(t, f.queue.CheckInvariants())
	assert.NoError(t, f.pool.CheckInvariants())
}

func TestWinningSideSettlement_NeverOverpays(t *testing.T) {
	f := newFixture(t)
	f.seedLiquidity(t, units(1000))
	f.fund(t, alice, units(7))
	f.fund(t, bob, units(13))
	f.fund(t, carol, units(11))

	_, err := f.queue.CreateOrder(alice, units(7), true, 1)
	require.NoError(t, err)
	_, err = f.queue.CreateOrder(bob, units(13), true, 1)
	require.NoError(t, err)
	_, err = f.queue.CreateOrder(carol, units(11), false, 1)
	require.NoError(t, err)

	f.start(t, 1, fpmath.MustDecimal("0.2"))
	f.end(t, 1, 1)

	detail, _ := f.queue.EventDetail(1)
	assert.True(t, detail.WhitePriceAfter.Gt(detail.WhitePriceBefore))
	assert.True(t, detail.BlackPriceAfter.Lt(detail.BlackPriceBefore))
	assert.True(t, detail.WhitePayout.Gt(detail.WhiteCollateral))

	total := fpmath.Zero
	for _, user := range []common.Address{alice, bob, carol} {
		got, err := f.queue.WithdrawCollateral(user)
		require.NoError(t, err)
		total = total.Add(got)
	}
	paid := detail.WhitePayout.Add(detail.BlackPayout)
	assert.False(t, total.Gt(paid))
	assert.Equal(t, paid.Sub(total), f.collateral.BalanceOf(queueAddr), "rounding dust stays in escrow")
	assert.NoError(t, f.queue.CheckInvariants())
}

func TestWithdrawCollateral_AcrossEvents(t *testing.T) {
	f := newFixture(t)
	f.seedLiquidity(t, units(1000))
	f.fund(t, alice, units(30))

	_, err := f.queue.CreateOrder(alice, units(10), true, 1)
	require.NoError(t, err)
	_, err = f.queue.CreateOrder(alice, units(10), false, 2)
	require.NoError(t, err)

	f.start(t, 1, fpmath.MustDecimal("0.1"))
	f.end(t, 1, 0)

	got, err := f.queue.WithdrawCollateral(alice)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MustDecimal("9.94009"), got)

	orders := f.queue.OrdersOf(alice)
	assert.True(t, orders[0].Withdrawn)
	assert.False(t, orders[1].Played)

	_, err = f.queue.CreateOrder(alice, units(5), false, 2)
	require.NoError(t, err)

	f.start(t, 2, fpmath.MustDecimal("0.1"))
	f.end(t, 2, 0)

	got, err = f.queue.WithdrawCollateral(alice)
	require.NoError(t, err)
	detail, _ := f.queue.EventDetail(2)
	want := fpmath.ProRata(detail.BlackPayout, units(10), units(15)).
		Add(fpmath.ProRata(detail.BlackPayout, units(5), units(15)))
	assert.Equal(t, want, got)

	for _, o := range f.queue.OrdersOf(alice) {
		assert.True(t, o.Played)
		assert.True(t, o.Withdrawn)
	}
}

func TestWithdrawCollateral_SumsSettledEvents(t *testing.T) {
	f := newFixture(t)
	f.seedLiquidity(t, units(1000))
	f.fund(t, alice, units(30))
	f.fund(t, bob, units(20))

	_, err := f.queue.CreateOrder(alice, units(10), true, 1)
	require.NoError(t, err)
	_, err = f.queue.CreateOrder(alice, units(8), false, 2)
	require.NoError(t, err)
	_, err = f.queue.CreateOrder(bob, units(12), false, 2)
	require.NoError(t, err)
	_, err = f.queue.CreateOrder(alice, units(5), true, 2)
	require.NoError(t, err)

	f.start(t, 1, fpmath.MustDecimal("0.1"))
	f.end(t, 1, -1)
	f.start(t, 2, fpmath.MustDecimal("0.3"))
	f.end(t, 2, 1)

	d1, ok := f.queue.EventDetail(1)
	require.True(t, ok)
	d2, ok := f.queue.EventDetail(2)
	require.True(t, ok)
	want := fpmath.ProRata(d1.WhitePayout, units(10), d1.WhiteCollateral).
		Add(fpmath.ProRata(d2.BlackPayout, units(8), d2.BlackCollateral)).
		Add(fpmath.ProRata(d2.WhitePayout, units(5), d2.WhiteCollateral))

	before := f.collateral.BalanceOf(alice)
	got, err := f.queue.WithdrawCollateral(alice)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, before.Add(want), f.collateral.BalanceOf(alice))

	for _, o := range f.queue.OrdersOf(alice) {
		assert.True(t, o.Withdrawn, "order %d", o.ID)
	}
	_, err = f.queue.WithdrawCollateral(alice)
	assert.ErrorIs(t, err, pending.ErrNoOrders)

	got, err = f.queue.WithdrawCollateral(bob)
	require.NoError(t, err)
	assert.Equal(t, fpmath.ProRata(d2.BlackPayout, units(12), d2.BlackCollateral), got)
	assert.NoError(t, f.queue.CheckInvariants())
}

func TestEmergencyWithdraw(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, units(10))
	_, err := f.queue.CreateOrder(alice, units(10), true, 1)
	require.NoError(t, err)

	_, err = f.queue.EmergencyWithdrawCollateral(alice)
	assert.ErrorIs(t, err, pending.ErrNotOwner)

	got, err := f.queue.EmergencyWithdrawCollateral(owner)
	require.NoError(t, err)
	assert.Equal(t, units(10), got)
	assert.Equal(t, units(10), f.collateral.BalanceOf(owner))
	assert.NoError(t, f.queue.CheckInvariants())
}

func TestEmergencyWithdraw_RefundClosesShortfall(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, units(15))
	_, err := f.queue.CreateOrder(alice, units(10), true, 1)
	require.NoError(t, err)

	_, err = f.queue.EmergencyWithdrawCollateral(owner)
	require.NoError(t, err)
	assert.Equal(t, units(10), f.queue.Snapshot().Swept)

	// The owner pays the escrow back; the next queue operation clears swept.
	require.NoError(t, f.collateral.Transfer(owner, queueAddr, units(10)))
	_, err = f.queue.CreateOrder(alice, units(5), false, 1)
	require.NoError(t, err)
	assert.True(t, f.queue.Snapshot().Swept.IsZero())
	assert.NoError(t, f.queue.CheckInvariants())

	// A later loss is no longer covered by the old sweep.
	require.NoError(t, f.collateral.Transfer(queueAddr, bob, units(5)))
	assert.Error(t, f.queue.CheckInvariants())
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, units(10))
	_, err := f.queue.CreateOrder(alice, units(4), true, 1)
	require.NoError(t, err)

	snap := f.queue.Snapshot()
	_, err = f.queue.CreateOrder(alice, units(4), true, 1)
	require.NoError(t, err)

	f.queue.Restore(snap)
	assert.Equal(t, uint64(1), f.queue.OrdersCount())
	assert.Len(t, f.queue.OrdersOf(alice), 1)
	_, ok := f.queue.Order(2)
	assert.False(t, ok)
}
