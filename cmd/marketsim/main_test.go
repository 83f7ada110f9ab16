package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/event"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func script(t *testing.T) string {
	t.Helper()
	n := 0
	var b strings.Builder
	b.WriteString("# seed the pool\n\n")
	add := func(cmd command.Command) {
		payload, err := json.Marshal(cmd)
		require.NoError(t, err)
		line, err := json.Marshal(scriptLine{Type: cmd.CommandType().String(), Payload: payload})
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	head := func(sender common.Address) command.Header {
		n++
		return testutil.Head(fmt.Sprintf("sim-%d", n), sender, testutil.T0)
	}

	add(&command.Deposit{Header: head(testutil.Owner), To: testutil.Owner, Amount: testutil.Units(1000)})
	add(&command.Approve{Header: head(testutil.Owner), Asset: "collateral", Spender: testutil.PoolAddr, Amount: testutil.Units(1000)})
	add(&command.AddLiquidity{Header: head(testutil.Owner), Amount: testutil.Units(1000)})
	add(&command.Deposit{Header: head(testutil.Owner), To: testutil.Alice, Amount: testutil.Units(10)})
	// No allowance yet
	add(&command.Buy{Header: head(testutil.Alice), Side: event.SideWhite, MaxPrice: fpmath.One, Payment: testutil.Units(10)})
	add(&command.Approve{Header: head(testutil.Alice), Asset: "collateral", Spender: testutil.PoolAddr, Amount: testutil.Units(10)})
	add(&command.Buy{Header: head(testutil.Alice), Side: event.SideWhite, MaxPrice: fpmath.One, Payment: testutil.Units(10)})
	return b.String()
}

func TestSimulate(t *testing.T) {
	var out bytes.Buffer
	err := simulate(strings.NewReader(script(t)), &out, testutil.MarketConfig(), options{decimals: 18})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "rejected:")
	assert.Contains(t, text, "19.94", "alice's white tokens")
	assert.Contains(t, text, testutil.Alice.Hex())
	assert.Contains(t, text, "no orders")
	assert.Contains(t, text, "next sequence 6")
}

func TestSimulate_StrictStopsAtRejection(t *testing.T) {
	var out bytes.Buffer
	err := simulate(strings.NewReader(script(t)), &out, testutil.MarketConfig(), options{decimals: 18, strict: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 7")
	assert.NotContains(t, out.String(), "next sequence")
}

func TestSimulate_MalformedLine(t *testing.T) {
	var out bytes.Buffer
	err := simulate(strings.NewReader(`{"type":"buy","payload":{"request_id":""}}`), &out, testutil.MarketConfig(), options{decimals: 18})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
