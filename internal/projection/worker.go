package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"OutcomeMarket/internal/cache"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const watermarkName = "main"

// QuoteSink receives the latest pool quote. *cache.QuoteCache implements it.
type QuoteSink interface {
	Set(ctx context.Context, q cache.Quote) error
}

// ProjectionWorker updates projection tables from core outputs. The
// projection channel drops on overflow; missed balances are recovered with
// RebuildBalances.
type ProjectionWorker struct {
	db        *sql.DB
	pool      common.Address
	inputChan <-chan core.CoreOutput
	quotes    QuoteSink
	trades    *TradeHistory
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

// NewProjectionWorker builds a worker. quotes and trades may be nil.
func NewProjectionWorker(
	db *sql.DB,
	pool common.Address,
	inputChan <-chan core.CoreOutput,
	quotes QuoteSink,
	trades *TradeHistory,
	metrics *observability.Metrics,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		pool:      pool,
		inputChan: inputChan,
		quotes:    quotes,
		trades:    trades,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
		lastSeq:   -1,
	}
}

// Run applies outputs until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	wm, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = wm

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope.Sequence <= pw.lastSeq {
				continue
			}

			u := BuildUpdate(pw.pool, output)
			if err := pw.apply(ctx, u); err != nil {
				// Projections are eventually consistent and can be rebuilt
				pw.logger.Warn().Err(err).Int64("sequence", u.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = u.Sequence
			pw.publish(ctx, u)
		}
	}
}

// LastSequence is the highest sequence applied.
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

func (pw *ProjectionWorker) apply(ctx context.Context, u Update) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []struct {
		name string
		fn   func(context.Context, *sql.Tx, Update) error
	}{
		{"pool_state", writePool},
		{"orders", writeOrders},
		{"events", writeEvents},
		{"balances", writeBalances},
		{"watermark", writeWatermark},
	}
	for _, s := range steps {
		stepStart := time.Now()
		if err := s.fn(ctx, tx, u); err != nil {
			return fmt.Errorf("%s projection: %w", s.name, err)
		}
		if pw.metrics != nil {
			pw.metrics.ProjectionUpdateDur.WithLabelValues(s.name).Observe(time.Since(stepStart).Seconds())
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}
	return nil
}

// publish pushes the quote and trades after the rows are committed.
func (pw *ProjectionWorker) publish(ctx context.Context, u Update) {
	if pw.trades != nil {
		for _, t := range u.Trades {
			pw.trades.Add(t)
		}
	}
	if pw.quotes == nil {
		return
	}
	status := "ok"
	if err := pw.quotes.Set(ctx, u.Quote); err != nil {
		status = "error"
		pw.logger.Warn().Err(err).Int64("sequence", u.Sequence).Msg("quote cache write failed")
	}
	if pw.metrics != nil {
		pw.metrics.QuoteCacheWrite.WithLabelValues(status).Inc()
	}
}

func writePool(ctx context.Context, tx *sql.Tx, u Update) error {
	p := u.Pool
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool_state
			(pool, white_price, black_price, collateral_for_white, collateral_for_black,
			 white_bought, black_bought, ongoing, phase, current_event_id, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (pool) DO UPDATE SET
			white_price = EXCLUDED.white_price,
			black_price = EXCLUDED.black_price,
			collateral_for_white = EXCLUDED.collateral_for_white,
			collateral_for_black = EXCLUDED.collateral_for_black,
			white_bought = EXCLUDED.white_bought,
			black_bought = EXCLUDED.black_bought,
			ongoing = EXCLUDED.ongoing,
			phase = EXCLUDED.phase,
			current_event_id = EXCLUDED.current_event_id,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
	`, p.Pool, p.WhitePrice.String(), p.BlackPrice.String(),
		p.CollateralForWhite.String(), p.CollateralForBlack.String(),
		p.WhiteBought.String(), p.BlackBought.String(),
		p.Ongoing, p.Phase, p.CurrentEventID, u.Sequence)
	return err
}

func writeOrders(ctx context.Context, tx *sql.Tx, u Update) error {
	for _, o := range u.Orders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.orders
				(order_id, owner, amount, is_white, event_id, canceled, played, withdrawn, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (order_id) DO UPDATE SET
				canceled = EXCLUDED.canceled,
				played = EXCLUDED.played,
				withdrawn = EXCLUDED.withdrawn,
				last_sequence = EXCLUDED.last_sequence
		`, o.OrderID, o.Owner, o.Amount.String(), o.IsWhite, o.EventID,
			o.Canceled, o.Played, o.Withdrawn, u.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func writeEvents(ctx context.Context, tx *sql.Tx, u Update) error {
	for _, e := range u.Events {
		info := e.Info
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.events
				(event_id, oracle, white_team, black_team, category, event_series,
				 start_time, end_time, state, result, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (event_id) DO UPDATE SET
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				state = EXCLUDED.state,
				result = COALESCE(EXCLUDED.result, projections.events.result),
				last_sequence = EXCLUDED.last_sequence
		`, info.EventID, info.Oracle.Hex(), info.WhiteTeam, info.BlackTeam, info.Category, info.EventSeries,
			info.StartTime, info.EndTime, e.State, e.Result, u.Sequence); err != nil {
			return err
		}
	}
	for _, p := range u.Payouts {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.events
			SET white_payout = $2, black_payout = $3, last_sequence = $4
			WHERE event_id = $1
		`, p.EventID, p.WhitePayout.String(), p.BlackPayout.String(), u.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func writeBalances(ctx context.Context, tx *sql.Tx, u Update) error {
	for _, b := range u.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (owner, asset, amount, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner, asset) DO UPDATE SET
				amount = EXCLUDED.amount,
				last_sequence = EXCLUDED.last_sequence
		`, b.Owner, b.Asset, b.Amount.String(), u.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func writeWatermark(ctx context.Context, tx *sql.Tx, u Update) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermarks (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, u.Sequence)
	return err
}

// LoadWatermark returns the last applied sequence, or -1.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermarks WHERE projection = $1
	`, watermarkName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// RebuildBalances recomputes projections.balances from the journal. Holder
// accounts are "holder:<address>:<asset>"; debits credit the holder.
func RebuildBalances(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (owner, asset, amount, last_sequence)
		SELECT split_part(account, ':', 2), asset, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account, asset, amount AS delta, sequence
			FROM event_log.journal WHERE debit_account LIKE 'holder:%'
			UNION ALL
			SELECT credit_account, asset, -amount, sequence
			FROM event_log.journal WHERE credit_account LIKE 'holder:%'
		) moves
		GROUP BY split_part(account, ':', 2), asset
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}
	return tx.Commit()
}
