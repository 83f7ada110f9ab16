package projection_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"OutcomeMarket/internal/cache"
	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/event"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/projection"
	"OutcomeMarket/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// market runs a short session and returns every projection output.
func market(t *testing.T) []core.CoreOutput {
	t.Helper()
	proj := make(chan core.CoreOutput, 64)
	c := testutil.NewCore(t, nil, proj)

	n := 0
	head := func(sender common.Address) command.Header {
		n++
		return testutil.Head(fmt.Sprintf("req-%d", n), sender, testutil.T0)
	}

	testutil.MustApply(t, c, &command.Deposit{Header: head(testutil.Owner), To: testutil.Owner, Amount: testutil.Units(1000)})
	testutil.MustApply(t, c, &command.Approve{Header: head(testutil.Owner), Asset: "collateral", Spender: testutil.PoolAddr, Amount: testutil.Units(1000)})
	testutil.MustApply(t, c, &command.AddLiquidity{Header: head(testutil.Owner), Amount: testutil.Units(1000)})
	testutil.MustApply(t, c, &command.Deposit{Header: head(testutil.Owner), To: testutil.Alice, Amount: testutil.Units(10)})
	testutil.MustApply(t, c, &command.Approve{Header: head(testutil.Alice), Asset: "collateral", Spender: testutil.PoolAddr, Amount: testutil.Units(10)})
	testutil.MustApply(t, c, &command.Buy{Header: head(testutil.Alice), Side: event.SideWhite, MaxPrice: fpmath.One, Payment: testutil.Units(10)})
	testutil.MustApply(t, c, &command.PrepareEvent{Header: head(testutil.Oracle), EventSpec: command.EventSpec{
		EventID:         1,
		PriceChangePart: fpmath.MustDecimal("0.2"),
		WhiteTeam:       "Lions",
		BlackTeam:       "Tigers",
	}})

	close(proj)
	var outs []core.CoreOutput
	for o := range proj {
		outs = append(outs, o)
	}
	require.Len(t, outs, 7)
	return outs
}

func TestBuildUpdate_Buy(t *testing.T) {
	outs := market(t)
	buy := outs[5]
	require.Equal(t, command.TypeBuy, buy.Envelope.CommandType)

	u := projection.BuildUpdate(testutil.PoolAddr, buy)
	assert.Equal(t, buy.Envelope.Sequence, u.Sequence)
	assert.Equal(t, testutil.PoolAddr.Hex(), u.Pool.Pool)
	assert.Equal(t, "None", u.Pool.Phase)
	assert.Nil(t, u.Pool.CurrentEventID)
	assert.False(t, u.Pool.WhiteBought.IsZero())

	require.Len(t, u.Trades, 1)
	tr := u.Trades[0]
	assert.Equal(t, testutil.Alice, tr.User)
	assert.Equal(t, event.SideWhite, tr.Side)
	assert.True(t, tr.Buy)
	assert.Equal(t, testutil.Units(10), tr.Collateral)
	assert.False(t, tr.Fee.IsZero())

	assert.NotEmpty(t, u.Balances)
	assert.Empty(t, u.Events)

	assert.Equal(t, "0.5", u.Quote.WhitePrice)
	assert.Equal(t, "0.5", u.Quote.BlackPrice)
	assert.Equal(t, buy.Envelope.Sequence, u.Quote.Sequence)
}

func TestBuildUpdate_PrepareQueuesEvent(t *testing.T) {
	outs := market(t)
	u := projection.BuildUpdate(testutil.PoolAddr, outs[6])

	require.Len(t, u.Events, 1)
	e := u.Events[0]
	assert.Equal(t, uint64(1), e.Info.EventID)
	assert.Equal(t, "Queued", e.State)
	assert.Equal(t, "Lions", e.Info.WhiteTeam)
	assert.Nil(t, e.Result)

	assert.Equal(t, "Queued", u.Pool.Phase)
	require.NotNil(t, u.Pool.CurrentEventID)
	assert.Equal(t, uint64(1), *u.Pool.CurrentEventID)
	assert.Equal(t, uint64(1), u.Quote.EventID)
	assert.Empty(t, u.Trades)
}

func TestTradeHistory_NewestFirstAndCapped(t *testing.T) {
	h := projection.NewTradeHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.Add(projection.Trade{Sequence: i, User: testutil.Alice, Timestamp: testutil.T0.Add(time.Duration(i) * time.Second)})
	}
	h.Add(projection.Trade{Sequence: 6, User: testutil.Bob})

	got := h.QueryByUser(testutil.Alice, 10)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{got[0].Sequence, got[1].Sequence, got[2].Sequence})

	assert.Len(t, h.QueryByUser(testutil.Alice, 2), 2)
	assert.Len(t, h.QueryByUser(testutil.Bob, 10), 1)
	assert.Empty(t, h.QueryByUser(testutil.Owner, 10))
}

type recordingSink struct {
	quotes []cache.Quote
}

func (s *recordingSink) Set(_ context.Context, q cache.Quote) error {
	s.quotes = append(s.quotes, q)
	return nil
}

func TestProjectionWorker_AppliesToPostgres(t *testing.T) {
	db := testutil.SetupTestDB(t)
	outs := market(t)

	in := make(chan core.CoreOutput, len(outs)+1)
	for _, o := range outs {
		in <- o
	}
	in <- outs[2] // Replayed output below the watermark
	close(in)

	sink := &recordingSink{}
	trades := projection.NewTradeHistory(10)
	w := projection.NewProjectionWorker(db, testutil.PoolAddr, in, sink, trades, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	last := outs[len(outs)-1].Envelope.Sequence
	assert.Equal(t, last, w.LastSequence())
	wm, err := projection.LoadWatermark(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, last, wm)

	assert.Len(t, sink.quotes, len(outs))
	assert.Len(t, trades.QueryByUser(testutil.Alice, 10), 1)

	var phase string
	var eventID int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT phase, current_event_id FROM projections.pool_state WHERE pool = $1`,
		testutil.PoolAddr.Hex()).Scan(&phase, &eventID))
	assert.Equal(t, "Queued", phase)
	assert.Equal(t, int64(1), eventID)

	var state string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT state FROM projections.events WHERE event_id = 1`).Scan(&state))
	assert.Equal(t, "Queued", state)

	var aliceWhite string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT amount::TEXT FROM projections.balances WHERE owner = $1 AND asset = 'white'`,
		testutil.Alice.Hex()).Scan(&aliceWhite))
	assert.NotEqual(t, "0", aliceWhite)
}
