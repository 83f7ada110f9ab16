package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"OutcomeMarket/internal/cache"
	"OutcomeMarket/internal/event"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/projection"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNotFound = errors.New("not found")

// QuoteSource reads the cached quote. *cache.QuoteCache implements it.
type QuoteSource interface {
	Get(ctx context.Context, pool string) (cache.Quote, error)
}

// QueryService provides read-only access to projection tables, the quote
// cache and the in-memory trade history. Reads are eventually consistent;
// every response carries as_of_sequence.
type QueryService struct {
	db       *sql.DB
	pool     common.Address
	decimals uint8
	quotes   QuoteSource
	trades   *projection.TradeHistory
}

// NewQueryService builds the service for the market whose pool is at pool.
// decimals is the collateral's; quotes and trades may be nil.
func NewQueryService(
	db *sql.DB,
	pool common.Address,
	decimals uint8,
	quotes QuoteSource,
	trades *projection.TradeHistory,
) *QueryService {
	return &QueryService{db: db, pool: pool, decimals: decimals, quotes: quotes, trades: trades}
}

func (qs *QueryService) amount(w fpmath.Wad) string { return w.Decimal(qs.decimals).String() }

func price(w fpmath.Wad) string { return w.Decimal(fpmath.WadDecimals).String() }

// GetPool returns the projected pool row.
func (qs *QueryService) GetPool(ctx context.Context) (*PoolResponse, error) {
	ps, err := qs.loadPool(ctx)
	if err != nil {
		return nil, err
	}
	return &PoolResponse{
		Pool:               qs.pool.Hex(),
		WhitePrice:         price(ps.whitePrice),
		BlackPrice:         price(ps.blackPrice),
		CollateralForWhite: qs.amount(ps.forWhite),
		CollateralForBlack: qs.amount(ps.forBlack),
		WhiteBought:        qs.amount(ps.whiteBought),
		BlackBought:        qs.amount(ps.blackBought),
		Ongoing:            ps.ongoing,
		Phase:              ps.phase,
		CurrentEventID:     ps.currentEventID,
		AsOfSequence:       ps.sequence,
	}, nil
}

// GetQuote returns the price pair from the quote cache, falling back to the
// pool projection when the cache is absent or empty.
func (qs *QueryService) GetQuote(ctx context.Context) (*QuoteResponse, error) {
	if qs.quotes != nil {
		q, err := qs.quotes.Get(ctx, qs.pool.Hex())
		if err == nil {
			return &QuoteResponse{
				Pool:         q.Pool,
				WhitePrice:   q.WhitePrice,
				BlackPrice:   q.BlackPrice,
				Phase:        q.Phase,
				EventID:      q.EventID,
				AsOfSequence: q.Sequence,
				Source:       "cache",
			}, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("quote cache: %w", err)
		}
	}

	ps, err := qs.loadPool(ctx)
	if err != nil {
		return nil, err
	}
	resp := &QuoteResponse{
		Pool:         qs.pool.Hex(),
		WhitePrice:   price(ps.whitePrice),
		BlackPrice:   price(ps.blackPrice),
		Phase:        ps.phase,
		AsOfSequence: ps.sequence,
		Source:       "projection",
	}
	if ps.currentEventID != nil {
		resp.EventID = *ps.currentEventID
	}
	return resp, nil
}

// GetBalances returns every projected balance of owner. Outcome-token
// balances are valued at the current price.
func (qs *QueryService) GetBalances(ctx context.Context, owner common.Address) ([]BalanceResponse, error) {
	asOfSeq, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var prices map[string]fpmath.Wad
	ps, err := qs.loadPool(ctx)
	switch {
	case err == nil:
		prices = map[string]fpmath.Wad{"white": ps.whitePrice, "black": ps.blackPrice}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, amount::TEXT
		FROM projections.balances
		WHERE owner = $1 AND amount > 0
		ORDER BY asset
	`, owner.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		var asset, raw string
		if err := rows.Scan(&asset, &raw); err != nil {
			return nil, err
		}
		amt, err := fpmath.ParseWad(raw)
		if err != nil {
			return nil, err
		}
		b := BalanceResponse{
			Owner:        owner.Hex(),
			Asset:        asset,
			Amount:       qs.amount(amt),
			AsOfSequence: asOfSeq,
		}
		if p, ok := prices[asset]; ok {
			b.Value = qs.amount(amt.MulDown(p))
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// GetOrders returns owner's pending orders, newest first.
func (qs *QueryService) GetOrders(ctx context.Context, owner common.Address) ([]OrderResponse, error) {
	asOfSeq, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT order_id, amount::TEXT, is_white, event_id, canceled, played, withdrawn
		FROM projections.orders
		WHERE owner = $1
		ORDER BY order_id DESC
	`, owner.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderResponse
	for rows.Next() {
		o := OrderResponse{Owner: owner.Hex(), AsOfSequence: asOfSeq}
		var raw string
		if err := rows.Scan(&o.OrderID, &raw, &o.IsWhite, &o.EventID, &o.Canceled, &o.Played, &o.Withdrawn); err != nil {
			return nil, err
		}
		amt, err := fpmath.ParseWad(raw)
		if err != nil {
			return nil, err
		}
		o.Amount = qs.amount(amt)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetAccount returns owner's balances and orders at one watermark.
func (qs *QueryService) GetAccount(ctx context.Context, owner common.Address) (*AccountResponse, error) {
	balances, err := qs.GetBalances(ctx, owner)
	if err != nil {
		return nil, err
	}
	orders, err := qs.GetOrders(ctx, owner)
	if err != nil {
		return nil, err
	}
	resp := &AccountResponse{Owner: owner.Hex(), Balances: balances, Orders: orders, AsOfSequence: -1}
	for _, b := range balances {
		resp.AsOfSequence = max(resp.AsOfSequence, b.AsOfSequence)
	}
	for _, o := range orders {
		resp.AsOfSequence = max(resp.AsOfSequence, o.AsOfSequence)
	}
	return resp, nil
}

// GetEvent returns one event by id.
func (qs *QueryService) GetEvent(ctx context.Context, eventID uint64) (*EventResponse, error) {
	var (
		e           EventResponse
		result      sql.NullInt16
		whitePayout sql.NullString
		blackPayout sql.NullString
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT event_id, oracle, white_team, black_team, category, event_series,
		       EXTRACT(EPOCH FROM start_time)::BIGINT, EXTRACT(EPOCH FROM end_time)::BIGINT,
		       state, result, white_payout::TEXT, black_payout::TEXT, last_sequence
		FROM projections.events
		WHERE event_id = $1
	`, eventID).Scan(
		&e.EventID, &e.Oracle, &e.WhiteTeam, &e.BlackTeam, &e.Category, &e.EventSeries,
		&e.StartTime, &e.EndTime, &e.State, &result, &whitePayout, &blackPayout, &e.AsOfSequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if result.Valid {
		r := int8(result.Int16)
		e.Result = &r
	}
	if e.WhitePayout, err = qs.optionalAmount(whitePayout); err != nil {
		return nil, err
	}
	if e.BlackPayout, err = qs.optionalAmount(blackPayout); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetTrades returns up to limit of owner's recent trades, newest first.
func (qs *QueryService) GetTrades(owner common.Address, limit int) []TradeResponse {
	if qs.trades == nil || limit <= 0 {
		return nil
	}
	trades := qs.trades.QueryByUser(owner, limit)
	out := make([]TradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeResponse{
			Sequence:   t.Sequence,
			Side:       t.Side.String(),
			Buy:        t.Buy,
			Tokens:     qs.amount(t.Tokens),
			Price:      price(t.Price),
			Collateral: qs.amount(t.Collateral),
			Fee:        qs.amount(t.Fee),
			Timestamp:  t.Timestamp.Unix(),
		})
	}
	return out
}

// GetJournalHistory returns journal entries touching owner's accounts, newest
// first. afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner common.Address,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("holder:%s:%%", owner.Hex())

	query := `
		SELECT journal_id, batch_id, command_ref, sequence,
		       debit_account, credit_account, asset, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		var raw string
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.CommandRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &raw,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		amt, err := fpmath.ParseWad(raw)
		if err != nil {
			return nil, err
		}
		e.Amount = qs.amount(amt)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the command hash chain, that projected balances
// match journal issuance per asset, and pool solvency. Balance checks are
// only meaningful once projections have caught up with the log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM event_log.commands c1
		JOIN event_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash <> c2.state_hash
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		WITH issued AS (
			SELECT asset,
			       SUM(CASE WHEN credit_account LIKE 'issuance:%' THEN amount ELSE -amount END) AS net
			FROM event_log.journal
			WHERE credit_account LIKE 'issuance:%' OR debit_account LIKE 'issuance:%'
			GROUP BY asset
		), held AS (
			SELECT asset, SUM(amount) AS total FROM projections.balances GROUP BY asset
		)
		SELECT COALESCE(i.asset, h.asset), COALESCE(h.total, 0)::TEXT, COALESCE(i.net, 0)::TEXT
		FROM issued i FULL OUTER JOIN held h ON h.asset = i.asset
		WHERE COALESCE(h.total, 0) <> COALESCE(i.net, 0)
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var ua UnbalancedAsset
		if err := balanceRows.Scan(&ua.Asset, &ua.Holders, &ua.Issuance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, ua)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	ps, err := qs.loadPool(ctx)
	switch {
	case err == nil:
		report.InsolventSides = ps.insolventSides()
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		len(report.InsolventSides) == 0
	return report, nil
}

// --- helpers ---

type poolSnapshot struct {
	whitePrice     fpmath.Wad
	blackPrice     fpmath.Wad
	forWhite       fpmath.Wad
	forBlack       fpmath.Wad
	whiteBought    fpmath.Wad
	blackBought    fpmath.Wad
	ongoing        bool
	phase          string
	currentEventID *uint64
	sequence       int64
}

// insolventSides lists the sides whose reserve no longer covers the
// outstanding tokens at the current price.
func (ps poolSnapshot) insolventSides() []string {
	var sides []string
	check := func(side event.Side, reserve, bought, p fpmath.Wad) {
		if reserve.Lt(bought.MulUp(p)) {
			sides = append(sides, side.String())
		}
	}
	check(event.SideWhite, ps.forWhite, ps.whiteBought, ps.whitePrice)
	check(event.SideBlack, ps.forBlack, ps.blackBought, ps.blackPrice)
	return sides
}

func (qs *QueryService) loadPool(ctx context.Context) (poolSnapshot, error) {
	var (
		ps      poolSnapshot
		raw     [6]string
		eventID sql.NullInt64
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT white_price::TEXT, black_price::TEXT,
		       collateral_for_white::TEXT, collateral_for_black::TEXT,
		       white_bought::TEXT, black_bought::TEXT,
		       ongoing, phase, current_event_id, last_sequence
		FROM projections.pool_state
		WHERE pool = $1
	`, qs.pool.Hex()).Scan(
		&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5],
		&ps.ongoing, &ps.phase, &eventID, &ps.sequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ps, fmt.Errorf("pool %s: %w", qs.pool.Hex(), ErrNotFound)
	}
	if err != nil {
		return ps, err
	}

	targets := []*fpmath.Wad{&ps.whitePrice, &ps.blackPrice, &ps.forWhite, &ps.forBlack, &ps.whiteBought, &ps.blackBought}
	for i, dst := range targets {
		w, err := fpmath.ParseWad(raw[i])
		if err != nil {
			return ps, err
		}
		*dst = w
	}
	if eventID.Valid {
		id := uint64(eventID.Int64)
		ps.currentEventID = &id
	}
	return ps, nil
}

func (qs *QueryService) optionalAmount(s sql.NullString) (string, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return "", nil
	}
	w, err := fpmath.ParseWad(s.String)
	if err != nil {
		return "", err
	}
	return qs.amount(w), nil
}
