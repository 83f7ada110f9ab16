package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	"OutcomeMarket/internal/lifecycle"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	selfAddr = common.HexToAddress("0x0000000000000000000000000000000000000004")
	oracle   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	oracle2  = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000ee")

	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// callLog records the order of settlement callbacks.
type callLog struct {
	calls   []string
	callers []common.Address
	failOn  string
}

func (c *callLog) record(name string, caller common.Address) error {
	c.calls = append(c.calls, name)
	c.callers = append(c.callers, caller)
	if c.failOn == name {
		return errors.New("callback failed")
	}
	return nil
}

type stubPool struct{ log *callLog }

func (p stubPool) SubmitEventStarted(caller common.Address, _ fpmath.Wad) error {
	return p.log.record("pool.started", caller)
}

func (p stubPool) SubmitEventResult(caller common.Address, _ int8) error {
	return p.log.record("pool.result", caller)
}

type stubOrders struct{ log *callLog }

func (o stubOrders) OnEventStarted(caller common.Address, _ uint64) error {
	return o.log.record("orders.started", caller)
}

func (o stubOrders) OnEventEnded(caller common.Address, _ uint64) error {
	return o.log.record("orders.ended", caller)
}

func newLifecycle(t *testing.T) (*lifecycle.Lifecycle, *callLog, *event.Recorder) {
	t.Helper()
	log := &callLog{}
	rec := &event.Recorder{}
	l := lifecycle.New(lifecycle.Config{
		Address:            selfAddr,
		Owner:              owner,
		Oracles:            []common.Address{oracle},
		StartTimeout:       time.Hour,
		EndTimeout:         2 * time.Hour,
		StartTolerance:     5 * time.Minute,
		StartGraceWindow:   10 * time.Minute,
		MaxPriceChangePart: fpmath.MustDecimal("0.5"),
	}, rec)
	l.Bind(stubPool{log}, stubOrders{log})
	return l, log, rec
}

func request(id uint64) lifecycle.PrepareRequest {
	return lifecycle.PrepareRequest{
		EventID:         id,
		PriceChangePart: fpmath.MustDecimal("0.2"),
		WhiteTeam:       "Lions",
		BlackTeam:       "Tigers",
		Category:        "football",
		Series:          "league",
	}
}

func TestPrepare_SetsScheduleFromDefaults(t *testing.T) {
	l, _, rec := newLifecycle(t)

	info, err := l.Prepare(oracle, t0, request(1))
	require.NoError(t, err)

	assert.Equal(t, t0.Add(time.Hour), info.StartTime)
	assert.Equal(t, t0.Add(3*time.Hour), info.EndTime)
	assert.Equal(t, oracle, info.Oracle)
	assert.Equal(t, lifecycle.PhaseQueued, l.Phase())
	assert.Equal(t, lifecycle.EventStateQueued, l.EventState(1))

	events := rec.Drain()
	require.Len(t, events, 1)
	prepared, ok := events[0].(*event.PrepareEvent)
	require.True(t, ok)
	assert.Equal(t, "Lions", prepared.WhiteTeam)
	assert.Equal(t, "league", prepared.EventSeries)
}

func TestPrepare_RequestTimeoutsOverrideDefaults(t *testing.T) {
	l, _, _ := newLifecycle(t)
	req := request(1)
	req.StartTimeout = 30 * time.Minute
	req.EndTimeout = 90 * time.Minute

	info, err := l.Prepare(oracle, t0, req)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Minute), info.StartTime)
	assert.Equal(t, t0.Add(2*time.Hour), info.EndTime)
}

func TestPrepare_Rejections(t *testing.T) {
	l, _, _ := newLifecycle(t)

	_, err := l.Prepare(stranger, t0, request(1))
	assert.ErrorIs(t, err, lifecycle.ErrNotOracle)
	assert.Equal(t, failure.KindAuthorization, failure.KindOf(err))

	big := request(1)
	big.PriceChangePart = fpmath.MustDecimal("0.6")
	_, err = l.Prepare(oracle, t0, big)
	assert.ErrorIs(t, err, lifecycle.ErrPriceChangeTooLarge)

	_, err = l.Prepare(oracle, t0, request(5))
	require.NoError(t, err)
	_, err = l.Prepare(oracle, t0, request(6))
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyPrepared)
}

func TestPrepare_EventIDsIncreasePerOracle(t *testing.T) {
	l, _, _ := newLifecycle(t)
	require.NoError(t, l.AddOracleAddress(owner, oracle2))

	_, err := l.AddAndStartEvent(oracle, t0, request(10))
	require.NoError(t, err)
	_, err = l.End(oracle, t0.Add(3*time.Hour), 0)
	require.NoError(t, err)

	_, err = l.Prepare(oracle, t0, request(10))
	assert.ErrorIs(t, err, lifecycle.ErrEventIDUsed)
	_, err = l.Prepare(oracle, t0, request(9))
	assert.ErrorIs(t, err, lifecycle.ErrEventIDNotIncreasing)

	// Another oracle keeps its own sequence.
	_, err = l.Prepare(oracle2, t0, request(3))
	require.NoError(t, err)
	last, ok := l.LastEventID(oracle2)
	require.True(t, ok)
	assert.Equal(t, uint64(3), last)
}

func TestPrepare_CountsSkippedIDs(t *testing.T) {
	l, _, _ := newLifecycle(t)

	_, err := l.AddAndStartEvent(oracle, t0, request(1))
	require.NoError(t, err)
	_, err = l.End(oracle, t0.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.EventIDGaps(oracle))

	_, err = l.Prepare(oracle, t0.Add(3*time.Hour), request(4))
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.EventIDGaps(oracle))
	assert.Equal(t, int64(0), l.EventIDGaps(oracle2))
}

func TestStart_NotPrepared(t *testing.T) {
	l, _, _ := newLifecycle(t)
	_, err := l.Start(oracle, t0)
	assert.ErrorIs(t, err, lifecycle.ErrNotPrepared)
}

func TestStart_TooEarly(t *testing.T) {
	l, log, _ := newLifecycle(t)
	_, err := l.Prepare(oracle, t0, request(1))
	require.NoError(t, err)

	_, err = l.Start(oracle, t0.Add(50*time.Minute))
	assert.ErrorIs(t, err, lifecycle.ErrTooEarlyStart)
	assert.Equal(t, failure.KindTemporal, failure.KindOf(err))
	assert.Empty(t, log.calls)

	// Inside the tolerance window.
	_, err = l.Start(oracle, t0.Add(56*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PhaseOngoing, l.Phase())
}

func TestStart_TooLateDiscardsEvent(t *testing.T) {
	l, log, rec := newLifecycle(t)
	_, err := l.Prepare(oracle, t0, request(1))
	require.NoError(t, err)
	rec.Drain()

	_, err = l.Start(oracle, t0.Add(71*time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, lifecycle.ErrTooLateToStart)
	assert.True(t, failure.IsCommitted(err))
	assert.Equal(t, "too late to start", failure.Reason(err))

	assert.Equal(t, lifecycle.PhaseNone, l.Phase())
	assert.Equal(t, lifecycle.EventStateDiscarded, l.EventState(1))
	assert.Empty(t, log.calls)

	events := rec.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, event.EventTypeEventDiscarded, events[0].EventType())

	// The slot is free again.
	_, err = l.Prepare(oracle, t0.Add(2*time.Hour), request(2))
	require.NoError(t, err)
}

func TestStart_CallbackOrder(t *testing.T) {
	l, log, rec := newLifecycle(t)
	_, err := l.Prepare(oracle, t0, request(1))
	require.NoError(t, err)

	_, err = l.Start(oracle, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.started", "pool.started"}, log.calls)
	for _, c := range log.callers {
		assert.Equal(t, selfAddr, c)
	}

	_, err = l.Start(oracle, t0.Add(time.Hour))
	assert.ErrorIs(t, err, lifecycle.ErrEventAlreadyStarted)

	events := rec.Drain()
	assert.Equal(t, event.EventTypeAppStarted, events[len(events)-1].EventType())
}

func TestEnd_Rules(t *testing.T) {
	l, log, rec := newLifecycle(t)

	_, err := l.End(oracle, t0, 1)
	assert.ErrorIs(t, err, lifecycle.ErrEventNotStarted)

	_, err = l.Prepare(oracle, t0, request(1))
	require.NoError(t, err)
	_, err = l.End(oracle, t0.Add(4*time.Hour), 1)
	assert.ErrorIs(t, err, lifecycle.ErrEventNotStarted, "queued events cannot end")

	_, err = l.Start(oracle, t0.Add(time.Hour))
	require.NoError(t, err)

	_, err = l.End(oracle, t0.Add(2*time.Hour), 1)
	assert.ErrorIs(t, err, lifecycle.ErrTooEarlyEnd)

	_, err = l.End(oracle, t0.Add(3*time.Hour), 2)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidResult)

	_, err = l.End(stranger, t0.Add(3*time.Hour), 1)
	assert.ErrorIs(t, err, lifecycle.ErrNotOracle)

	log.calls = nil
	rec.Drain()
	info, err := l.End(oracle, t0.Add(3*time.Hour), -1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.EventID)
	assert.Equal(t, []string{"pool.result", "orders.ended"}, log.calls)
	assert.Equal(t, lifecycle.PhaseNone, l.Phase())
	assert.Equal(t, lifecycle.EventStateEnded, l.EventState(1))

	events := rec.Drain()
	require.Len(t, events, 1)
	ended, ok := events[0].(*event.AppEnded)
	require.True(t, ok)
	assert.Equal(t, int8(-1), ended.Result)

	_, err = l.End(oracle, t0.Add(4*time.Hour), 1)
	assert.ErrorIs(t, err, lifecycle.ErrEventNotStarted)
}

func TestAddAndStartEvent_StartsNow(t *testing.T) {
	l, log, _ := newLifecycle(t)

	info, err := l.AddAndStartEvent(oracle, t0, request(1))
	require.NoError(t, err)
	assert.Equal(t, t0, info.StartTime)
	assert.Equal(t, t0.Add(2*time.Hour), info.EndTime)
	assert.Equal(t, lifecycle.EventStateOngoing, l.EventState(1))
	assert.Equal(t, []string{"orders.started", "pool.started"}, log.calls)
}

func TestStart_CallbackFailurePropagates(t *testing.T) {
	l, log, _ := newLifecycle(t)
	log.failOn = "orders.started"
	_, err := l.Prepare(oracle, t0, request(1))
	require.NoError(t, err)

	_, err = l.Start(oracle, t0.Add(time.Hour))
	require.Error(t, err)
	assert.False(t, failure.IsCommitted(err))
	assert.Equal(t, []string{"orders.started"}, log.calls)
}

func TestOracleManagement(t *testing.T) {
	l, _, rec := newLifecycle(t)

	assert.ErrorIs(t, l.AddOracleAddress(stranger, oracle2), lifecycle.ErrNotOwner)
	require.NoError(t, l.AddOracleAddress(owner, oracle2))
	assert.True(t, l.IsOracle(oracle2))

	require.NoError(t, l.RemoveOracleAddress(owner, oracle))
	assert.False(t, l.IsOracle(oracle))
	_, err := l.Prepare(oracle, t0, request(1))
	assert.ErrorIs(t, err, lifecycle.ErrNotOracle)

	events := rec.Drain()
	require.Len(t, events, 2)
	changed := events[1].(*event.OracleChanged)
	assert.Equal(t, oracle, changed.Oracle)
	assert.False(t, changed.Allowed)
}

func TestSnapshotRestore(t *testing.T) {
	l, _, _ := newLifecycle(t)
	_, err := l.AddAndStartEvent(oracle, t0, request(1))
	require.NoError(t, err)
	_, err = l.End(oracle, t0.Add(2*time.Hour), 1)
	require.NoError(t, err)
	_, err = l.Prepare(oracle, t0, request(2))
	require.NoError(t, err)

	snap := l.Snapshot()

	_, err = l.Start(oracle, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, l.AddOracleAddress(owner, oracle2))

	l.Restore(snap)
	assert.Equal(t, lifecycle.PhaseQueued, l.Phase())
	assert.Equal(t, lifecycle.EventStateEnded, l.EventState(1))
	assert.False(t, l.IsOracle(oracle2))
	cur, ok := l.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(2), cur.EventID)
}

func TestPhaseTransitions(t *testing.T) {
	assert.True(t, lifecycle.PhaseNone.CanTransitionTo(lifecycle.PhaseQueued))
	assert.True(t, lifecycle.PhaseQueued.CanTransitionTo(lifecycle.PhaseNone))
	assert.False(t, lifecycle.PhaseNone.CanTransitionTo(lifecycle.PhaseOngoing))
	assert.False(t, lifecycle.PhaseOngoing.CanTransitionTo(lifecycle.PhaseQueued))
}
