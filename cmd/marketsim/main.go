// Command marketsim runs a JSON-lines command script through an in-memory
// market and prints the resulting pool, lifecycle, orders and balances.
//
// Each script line is {"type": "<command>", "payload": {...}} where payload
// is the command's wire JSON. Blank lines and lines starting with # are
// skipped.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/config"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	"OutcomeMarket/internal/ingestion"
	"OutcomeMarket/internal/ledger"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
)

type scriptLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type options struct {
	decimals uint8
	strict   bool // Stop at the first rejected command
}

func main() {
	configPath := flag.String("config", "", "YAML config with the market section")
	scriptPath := flag.String("script", "-", "command script, - for stdin")
	strict := flag.Bool("strict", false, "stop at the first rejected command")
	flag.Parse()

	logger := observability.NewLogger("marketsim")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	marketCfg, err := cfg.Market.CoreConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("market config")
	}

	in := io.Reader(os.Stdin)
	if *scriptPath != "-" {
		f, err := os.Open(*scriptPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("open script")
		}
		defer f.Close()
		in = f
	}

	opts := options{decimals: cfg.Market.CollateralDecimals, strict: *strict}
	if err := simulate(in, os.Stdout, marketCfg, opts); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}
}

// simulate applies every script line in order and renders the tables.
func simulate(in io.Reader, out io.Writer, cfg core.MarketConfig, opts options) error {
	c, err := core.NewDeterministicCore(cfg, 0, nil, nil, nil, nil)
	if err != nil {
		return err
	}

	accounts := map[common.Address]bool{cfg.Owner: true}
	steps := tablewriter.NewWriter(out)
	steps.Header("Line", "Seq", "Command", "Request", "Outcome", "Detail")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var line scriptLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		cmd, err := ingestion.ParseCommand(line.Type, line.Payload)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		trackAccounts(accounts, cmd)

		res, err := c.ProcessCommand(cmd)
		seq, outcome, detail := describe(res, err, opts.decimals)
		steps.Append(fmt.Sprint(lineNo), seq, line.Type, cmd.Head().RequestID, outcome, detail)

		if err != nil && opts.strict {
			steps.Render()
			return fmt.Errorf("line %d: %s rejected: %w", lineNo, line.Type, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	steps.Render()

	fmt.Fprintln(out)
	renderPool(out, c.Market(), opts.decimals)
	fmt.Fprintln(out)
	renderLifecycle(out, c.Market())
	fmt.Fprintln(out)
	renderOrders(out, c.Market(), opts.decimals)
	fmt.Fprintln(out)
	renderBalances(out, c.Market(), accounts, opts.decimals)

	hash := c.GetStateHash()
	fmt.Fprintf(out, "\nnext sequence %d, state hash %x\n", c.GetSequence(), hash)
	return nil
}

func describe(res core.Result, err error, decimals uint8) (seq, outcome, detail string) {
	switch {
	case res.Duplicate:
		return "-", "duplicate", ""
	case err != nil && failure.IsCommitted(err):
		return fmt.Sprint(res.Sequence), "committed", failure.Reason(err)
	case err != nil:
		return "-", "rejected:" + failure.KindOf(err).String(), failure.Reason(err)
	}

	var parts []string
	if !res.Amount.IsZero() {
		parts = append(parts, "amount "+res.Amount.Decimal(decimals).String())
	}
	if res.OrderID != 0 {
		parts = append(parts, fmt.Sprintf("order #%d", res.OrderID))
	}
	for _, e := range res.Events {
		parts = append(parts, e.EventType().String())
	}
	return fmt.Sprint(res.Sequence), "applied", strings.Join(parts, " ")
}

func trackAccounts(accounts map[common.Address]bool, cmd command.Command) {
	accounts[cmd.Head().Sender] = true
	switch c := cmd.(type) {
	case *command.Deposit:
		accounts[c.To] = true
	case *command.Transfer:
		accounts[c.To] = true
	}
}

func price(w fpmath.Wad) string { return w.Decimal(fpmath.WadDecimals).String() }

func renderPool(out io.Writer, m *core.Market, decimals uint8) {
	p := m.Pool
	amount := func(w fpmath.Wad) string { return w.Decimal(decimals).String() }
	table := tablewriter.NewWriter(out)
	table.Header("Side", "Price", "Collateral", "Bought", "Inventory")
	for _, side := range []event.Side{event.SideWhite, event.SideBlack} {
		table.Append(
			side.String(),
			price(p.Price(side)),
			amount(p.Reserve(side)),
			amount(p.Bought(side)),
			amount(p.Inventory(side)),
		)
	}
	table.Render()
	fmt.Fprintf(out, "ongoing %v, fee %s, LP shares %s\n", p.Ongoing(), price(p.Fee()), amount(p.TotalShares()))
}

func renderLifecycle(out io.Writer, m *core.Market) {
	l := m.Lifecycle
	cur, ok := l.Current()
	if !ok {
		fmt.Fprintf(out, "lifecycle %s, no current event\n", l.Phase())
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("Event", "Phase", "Oracle", "White", "Black", "Change part", "Start", "End")
	table.Append(
		fmt.Sprint(cur.EventID),
		cur.Phase.String(),
		cur.Oracle.Hex(),
		cur.WhiteTeam,
		cur.BlackTeam,
		price(cur.PriceChangePart),
		cur.StartTime.UTC().Format("2006-01-02 15:04:05"),
		cur.EndTime.UTC().Format("2006-01-02 15:04:05"),
	)
	table.Render()
}

func renderOrders(out io.Writer, m *core.Market, decimals uint8) {
	orders := m.Queue.Snapshot().Orders
	if len(orders) == 0 {
		fmt.Fprintln(out, "no orders")
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "User", "Side", "Amount", "Event", "Status")
	for _, o := range orders {
		status := "pending"
		switch {
		case o.Canceled:
			status = "canceled"
		case o.Withdrawn:
			status = "withdrawn"
		case o.Played:
			status = "played"
		}
		table.Append(
			fmt.Sprint(o.ID),
			o.User.Hex(),
			o.Side().String(),
			o.Amount.Decimal(decimals).String(),
			fmt.Sprint(o.EventID),
			status,
		)
	}
	table.Render()
	fmt.Fprintf(out, "escrowed %s\n", m.Queue.Escrowed().Decimal(decimals).String())
}

func renderBalances(out io.Writer, m *core.Market, accounts map[common.Address]bool, decimals uint8) {
	addrs := make([]common.Address, 0, len(accounts))
	for a := range accounts {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	table := tablewriter.NewWriter(out)
	table.Header("Account", "Collateral", "White", "Black", "LP")
	for _, a := range addrs {
		table.Append(
			a.Hex(),
			m.Collateral.BalanceOf(a).Decimal(decimals).String(),
			m.Ledger.Token(ledger.AssetWhite).BalanceOf(a).Decimal(decimals).String(),
			m.Ledger.Token(ledger.AssetBlack).BalanceOf(a).Decimal(decimals).String(),
			m.Pool.SharesOf(a).Decimal(decimals).String(),
		)
	}
	table.Render()
}
