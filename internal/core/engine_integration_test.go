package core_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	"OutcomeMarket/internal/ledger"
	"OutcomeMarket/internal/lifecycle"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/observability"
	"OutcomeMarket/internal/pending"
	"OutcomeMarket/internal/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	poolAddr  = common.HexToAddress("0x0000000000000000000000000000000000000003")
	lifeAddr  = common.HexToAddress("0x0000000000000000000000000000000000000004")
	queueAddr = common.HexToAddress("0x0000000000000000000000000000000000000005")
	oracle    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")

	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// --- Test helpers ---

func testConfig() core.MarketConfig {
	return core.MarketConfig{
		Owner:              owner,
		PoolAddress:        poolAddr,
		LifecycleAddress:   lifeAddr,
		QueueAddress:       queueAddr,
		Oracles:            []common.Address{oracle},
		Fee:                pool.DefaultFee,
		InitialWhitePrice:  fpmath.MustDecimal("0.5"),
		MaxPriceChangePart: fpmath.MustDecimal("0.5"),
		StartTimeout:       time.Hour,
		EndTimeout:         2 * time.Hour,
		StartTolerance:     5 * time.Minute,
		StartGraceWindow:   10 * time.Minute,
	}
}

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(testConfig(), 0, persistChan, projChan, nil, nil)
	require.NoError(t, err)
	return c, persistChan, projChan
}

func units(n uint64) fpmath.Wad { return fpmath.Units(n, 18) }

// script builds commands with unique request ids and increasing timestamps.
type script struct {
	n   int
	now time.Time
}

func newScript() *script { return &script{now: t0} }

func (s *script) head(sender common.Address) command.Header {
	s.n++
	return command.Header{
		RequestID: fmt.Sprintf("req-%d", s.n),
		Sender:    sender,
		Timestamp: s.now,
	}
}

func (s *script) advance(d time.Duration) { s.now = s.now.Add(d) }

func (s *script) deposit(to common.Address, amount fpmath.Wad) *command.Deposit {
	return &command.Deposit{Header: s.head(owner), To: to, Amount: amount}
}

func (s *script) approve(from, spender common.Address, amount fpmath.Wad) *command.Approve {
	return &command.Approve{Header: s.head(from), Asset: "collateral", Spender: spender, Amount: amount}
}

func (s *script) prepare(id uint64) *command.PrepareEvent {
	return &command.PrepareEvent{
		Header: s.head(oracle),
		EventSpec: command.EventSpec{
			EventID:         id,
			PriceChangePart: fpmath.MustDecimal("0.2"),
			WhiteTeam:       "Lions",
			BlackTeam:       "Tigers",
		},
	}
}

func mustApply(t *testing.T, c *core.DeterministicCore, cmd command.Command) core.Result {
	t.Helper()
	res, err := c.ProcessCommand(cmd)
	require.NoError(t, err, "%s", cmd.CommandType())
	return res
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// --- Tests ---

func TestDeposit_OwnerOnly(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	s := newScript()

	res := mustApply(t, c, s.deposit(alice, units(100)))
	assert.Equal(t, int64(0), res.Sequence)
	assert.Equal(t, units(100), c.Market().Collateral.BalanceOf(alice))

	_, err := c.ProcessCommand(&command.Deposit{Header: s.head(alice), To: alice, Amount: units(5)})
	assert.ErrorIs(t, err, core.ErrNotOwner)
	assert.Equal(t, units(100), c.Market().Collateral.BalanceOf(alice))

	outputs := drainOutputs(persistChan)
	require.Len(t, outputs, 1, "rejected commands are not logged")
	require.NotNil(t, outputs[0].Batch)
	require.Len(t, outputs[0].Batch.Journals, 1)
	assert.Equal(t, ledger.JournalTypeMint, outputs[0].Batch.Journals[0].JournalType)
	assert.Equal(t, int64(1), c.GetSequence())
}

func TestBuy_ThroughCore(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	s := newScript()

	mustApply(t, c, s.deposit(alice, units(5)))
	mustApply(t, c, s.approve(alice, poolAddr, units(5)))
	res := mustApply(t, c, &command.Buy{
		Header:   s.head(alice),
		Side:     event.SideWhite,
		MaxPrice: fpmath.MustDecimal("0.5"),
		Payment:  units(5),
	})
	assert.Equal(t, fpmath.MustDecimal("9.97"), res.Amount)
	require.Len(t, res.Events, 1)

	outputs := drainOutputs(persistChan)
	require.Len(t, outputs, 3)
	buy := outputs[2]
	assert.Equal(t, command.TypeBuy, buy.Envelope.CommandType)
	assert.Equal(t, units(5), buy.Delta.Pool.CollateralForWhite)
	assert.Len(t, buy.Delta.Balances, 3, "alice collateral, pool collateral, alice white")
}

func TestFailedCommand_RollsBackEveryComponent(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	s := newScript()

	mustApply(t, c, s.deposit(alice, units(10)))
	mustApply(t, c, s.approve(alice, queueAddr, units(10)))
	mustApply(t, c, &command.SetOrderer{Header: s.head(owner), Orderer: bob, Restricted: true})
	mustApply(t, c, s.prepare(1))
	mustApply(t, c, &command.CreateOrder{Header: s.head(alice), Amount: units(10), IsWhite: true, EventID: 1})
	drainOutputs(persistChan)
	hashBefore := c.GetStateHash()

	// The queue marks the order played and approves the pool before the
	// restricted pool refuses the trade.
	s.advance(time.Hour)
	_, err := c.ProcessCommand(&command.StartEvent{Header: s.head(oracle)})
	require.ErrorIs(t, err, pool.ErrIncorrectOrderer)
	assert.False(t, failure.IsCommitted(err))

	m := c.Market()
	assert.Equal(t, lifecycle.PhaseQueued, m.Lifecycle.Phase())
	o, ok := m.Queue.Order(1)
	require.True(t, ok)
	assert.False(t, o.Played)
	assert.True(t, m.Collateral.Allowance(queueAddr, poolAddr).IsZero())
	_, started := m.Queue.EventDetail(1)
	assert.False(t, started)
	assert.Equal(t, hashBefore, c.GetStateHash())
	assert.Empty(t, drainOutputs(persistChan))
}

func TestStartTooLate_DiscardIsCommitted(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	s := newScript()

	mustApply(t, c, s.prepare(1))
	drainOutputs(persistChan)

	s.advance(2 * time.Hour)
	res, err := c.ProcessCommand(&command.StartEvent{Header: s.head(oracle)})
	require.ErrorIs(t, err, lifecycle.ErrTooLateToStart)
	assert.True(t, failure.IsCommitted(err))
	require.NotNil(t, res.Event)
	assert.Equal(t, uint64(1), res.Event.EventID)

	assert.Equal(t, lifecycle.PhaseNone, c.Market().Lifecycle.Phase())
	assert.Equal(t, lifecycle.EventStateDiscarded, c.Market().Lifecycle.EventState(1))

	outputs := drainOutputs(persistChan)
	require.Len(t, outputs, 1)
	env := outputs[0].Envelope
	assert.Equal(t, command.OutcomeRejectedCommitted, env.Outcome)
	assert.Equal(t, "too late to start", env.Reason)
	require.Len(t, outputs[0].Events, 1)
	assert.Equal(t, event.EventTypeEventDiscarded, outputs[0].Events[0].EventType())
}

func TestIdempotency_DuplicateIgnored(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	s := newScript()

	dep := s.deposit(alice, units(100))
	mustApply(t, c, dep)
	res := mustApply(t, c, dep)

	assert.True(t, res.Duplicate)
	assert.Equal(t, units(100), c.Market().Collateral.BalanceOf(alice))
	assert.Len(t, drainOutputs(persistChan), 1)
}

func TestIdempotency_RejectedKeyCanBeRetried(t *testing.T) {
	c, _, _ := newTestCore(t)
	s := newScript()

	buy := &command.Buy{Header: s.head(alice), Side: event.SideWhite, MaxPrice: fpmath.One, Payment: units(1)}
	_, err := c.ProcessCommand(buy)
	require.Error(t, err)

	mustApply(t, c, s.deposit(alice, units(1)))
	mustApply(t, c, s.approve(alice, poolAddr, units(1)))
	res := mustApply(t, c, buy)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Amount.IsZero())
}

func TestMissingRequestID_Rejected(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.ProcessCommand(&command.Deposit{Header: command.Header{Sender: owner, Timestamp: t0}, To: alice, Amount: units(1)})
	assert.Equal(t, failure.KindInvalid, failure.KindOf(err))
}

func TestComponentAccountCannotSend(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	s := newScript()

	mustApply(t, c, s.deposit(owner, units(100)))
	mustApply(t, c, s.approve(owner, poolAddr, units(100)))
	mustApply(t, c, &command.AddLiquidity{Header: s.head(owner), Amount: units(100)})
	mustApply(t, c, s.deposit(alice, units(10)))
	mustApply(t, c, s.approve(alice, queueAddr, units(10)))
	mustApply(t, c, s.prepare(1))
	mustApply(t, c, &command.CreateOrder{Header: s.head(alice), Amount: units(10), IsWhite: true, EventID: 1})
	drainOutputs(persistChan)
	hashBefore := c.GetStateHash()

	for _, account := range []common.Address{queueAddr, poolAddr, lifeAddr} {
		for _, cmd := range []command.Command{
			&command.Transfer{Header: s.head(account), Asset: "collateral", To: bob, Amount: units(10)},
			&command.Approve{Header: s.head(account), Asset: "collateral", Spender: bob, Amount: units(10)},
		} {
			require.NotPanics(t, func() {
				_, err := c.ProcessCommand(cmd)
				assert.ErrorIs(t, err, core.ErrComponentAccount, "%s from %s", cmd.CommandType(), account.Hex())
				assert.Equal(t, failure.KindAuthorization, failure.KindOf(err))
			})
		}
	}

	m := c.Market()
	assert.Equal(t, units(10), m.Collateral.BalanceOf(queueAddr))
	assert.Equal(t, units(100), m.Collateral.BalanceOf(poolAddr))
	assert.True(t, m.Collateral.BalanceOf(bob).IsZero())
	assert.True(t, m.Collateral.Allowance(queueAddr, bob).IsZero())
	assert.Equal(t, hashBefore, c.GetStateHash())
	assert.Empty(t, drainOutputs(persistChan))
	assert.NoError(t, m.CheckInvariants())
}

func TestEventIDGaps_Exported(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c, err := core.NewDeterministicCore(testConfig(), 0, nil, nil, nil, metrics)
	require.NoError(t, err)
	s := newScript()

	mustApply(t, c, s.deposit(owner, units(100)))
	mustApply(t, c, s.approve(owner, poolAddr, units(100)))
	mustApply(t, c, &command.AddLiquidity{Header: s.head(owner), Amount: units(100)})
	mustApply(t, c, s.prepare(1))
	s.advance(time.Hour)
	mustApply(t, c, &command.StartEvent{Header: s.head(oracle)})
	s.advance(2 * time.Hour)
	mustApply(t, c, &command.EndEvent{Header: s.head(oracle), Result: 0})

	gaps := metrics.EventIDGaps.WithLabelValues(oracle.Hex())
	assert.Equal(t, 0.0, testutil.ToFloat64(gaps))

	mustApply(t, c, s.prepare(4))
	assert.Equal(t, 1.0, testutil.ToFloat64(gaps))
}

// fullRound drives liquidity, orders, a white win and withdrawals.
func fullRound(t *testing.T, c *core.DeterministicCore, s *script) {
	t.Helper()
	mustApply(t, c, s.deposit(owner, units(1000)))
	mustApply(t, c, s.approve(owner, poolAddr, units(1000)))
	mustApply(t, c, &command.AddLiquidity{Header: s.head(owner), Amount: units(1000)})

	for _, user := range []common.Address{alice, bob} {
		mustApply(t, c, s.deposit(user, units(50)))
		mustApply(t, c, s.approve(user, queueAddr, units(50)))
	}
	mustApply(t, c, s.prepare(1))
	mustApply(t, c, &command.CreateOrder{Header: s.head(alice), Amount: units(30), IsWhite: true, EventID: 1})
	mustApply(t, c, &command.CreateOrder{Header: s.head(bob), Amount: units(20), IsWhite: false, EventID: 1})

	s.advance(time.Hour)
	mustApply(t, c, &command.StartEvent{Header: s.head(oracle)})
	s.advance(2 * time.Hour)
	mustApply(t, c, &command.EndEvent{Header: s.head(oracle), Result: 1})
}

func TestFullLifecycle_OrdersSettleThroughPool(t *testing.T) {
	c, _, projChan := newTestCore(t)
	s := newScript()
	fullRound(t, c, s)

	m := c.Market()
	assert.Equal(t, fpmath.MustDecimal("0.6"), m.Pool.WhitePrice())
	assert.Equal(t, fpmath.MustDecimal("0.4"), m.Pool.BlackPrice())

	detail, ok := m.Queue.EventDetail(1)
	require.True(t, ok)
	assert.True(t, detail.Executed)

	won := mustApply(t, c, &command.WithdrawCollateral{Header: s.head(alice)})
	lost := mustApply(t, c, &command.WithdrawCollateral{Header: s.head(bob)})
	assert.Equal(t, detail.WhitePayout, won.Amount)
	assert.Equal(t, detail.BlackPayout, lost.Amount)
	assert.True(t, won.Amount.Gt(units(30)))
	assert.True(t, lost.Amount.Lt(units(20)))

	_, err := c.ProcessCommand(&command.WithdrawCollateral{Header: s.head(alice)})
	assert.ErrorIs(t, err, pending.ErrNoOrders)
	assert.NoError(t, m.CheckInvariants())

	var ended *core.CoreOutput
	for _, o := range drainOutputs(projChan) {
		if o.Envelope.CommandType == command.TypeEndEvent {
			o := o
			ended = &o
		}
	}
	require.NotNil(t, ended)
	assert.Equal(t, lifecycle.PhaseNone, ended.Delta.Phase)
	require.Len(t, ended.Delta.Details, 1)
	assert.Equal(t, uint64(1), ended.Delta.Details[0].EventID)
}

func TestStateHashChain_Deterministic(t *testing.T) {
	c1, out1, _ := newTestCore(t)
	c2, out2, _ := newTestCore(t)
	fullRound(t, c1, newScript())
	fullRound(t, c2, newScript())

	assert.Equal(t, c1.GetStateHash(), c2.GetStateHash())

	o1, o2 := drainOutputs(out1), drainOutputs(out2)
	require.Equal(t, len(o1), len(o2))
	for i := range o1 {
		assert.Equal(t, o1[i].Envelope.StateHash, o2[i].Envelope.StateHash)
		if i > 0 {
			assert.Equal(t, o1[i-1].Envelope.StateHash, o1[i].Envelope.PrevHash)
		}
	}
	assert.Equal(t, core.GenesisHash(), o1[0].Envelope.PrevHash)
}

func TestReplayFromLog_ReproducesHashes(t *testing.T) {
	c1, out1, _ := newTestCore(t)
	fullRound(t, c1, newScript())

	c2, _, _ := newTestCore(t)
	for _, o := range drainOutputs(out1) {
		cmd, ok := command.New(o.Envelope.CommandType)
		require.True(t, ok)
		require.NoError(t, json.Unmarshal(o.Envelope.Payload, cmd))

		_, err := c2.ProcessCommand(cmd)
		if o.Envelope.Outcome == command.OutcomeApplied {
			require.NoError(t, err)
		}
		assert.Equal(t, o.Envelope.StateHash, c2.GetStateHash(), "sequence %d", o.Envelope.Sequence)
	}
}

func TestSnapshotRestore_ContinuesChain(t *testing.T) {
	c1, _, _ := newTestCore(t)
	s := newScript()
	fullRound(t, c1, s)

	snap := c1.CreateSnapshotState()
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded core.SnapshotState
	require.NoError(t, json.Unmarshal(data, &decoded))

	c2, _, _ := newTestCore(t)
	c2.RestoreFromSnapshot(&decoded)
	assert.Equal(t, c1.GetSequence(), c2.GetSequence())

	next := &command.WithdrawCollateral{Header: s.head(alice)}
	r1 := mustApply(t, c1, next)
	r2 := mustApply(t, c2, next)
	assert.Equal(t, r1.Amount, r2.Amount)
	assert.Equal(t, c1.GetStateHash(), c2.GetStateHash())

	// Keys restored from the snapshot still deduplicate.
	dup := mustApply(t, c2, &command.Deposit{Header: command.Header{RequestID: "req-1", Sender: owner, Timestamp: t0}})
	assert.True(t, dup.Duplicate)
}

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 1)
	c, err := core.NewDeterministicCore(testConfig(), 0, persistChan, projChan, nil, nil)
	require.NoError(t, err)
	s := newScript()

	for i := 0; i < 3; i++ {
		mustApply(t, c, s.deposit(alice, units(1)))
	}
	assert.Len(t, drainOutputs(persistChan), 3)
	assert.Len(t, drainOutputs(projChan), 1)
}

func TestMarketConfig_Validate(t *testing.T) {
	cfg := testConfig()
	cfg.QueueAddress = cfg.PoolAddress
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Oracles = nil
	assert.Error(t, cfg.Validate())

	assert.NoError(t, testConfig().Validate())
}

func TestQueueOnly_RestrictsPoolToQueue(t *testing.T) {
	cfg := testConfig()
	cfg.QueueOnly = true
	c, err := core.NewDeterministicCore(cfg, 0, nil, nil, nil, nil)
	require.NoError(t, err)
	s := newScript()

	mustApply(t, c, s.deposit(alice, units(5)))
	mustApply(t, c, s.approve(alice, poolAddr, units(5)))
	_, err = c.ProcessCommand(&command.Buy{Header: s.head(alice), Side: event.SideBlack, MaxPrice: fpmath.One, Payment: units(5)})
	assert.ErrorIs(t, err, pool.ErrIncorrectOrderer)
}
