// Package cache keeps the latest pool quote in Redis for cheap reads by
// clients that do not need the projection tables.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("quote not found")

// Quote is the pool's current price pair and lifecycle position.
// Prices are decimal strings ("0.5").
type Quote struct {
	Pool       string
	WhitePrice string
	BlackPrice string
	Phase      string
	EventID    uint64
	Sequence   int64
	UpdatedAt  time.Time
}

// Options holds connection parameters for the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// QuoteCache stores one hash per pool.
//
// Key schema:
//
//	quote:{pool} - hash with white, black, phase, event_id, sequence, updated_at
type QuoteCache struct {
	rdb *redis.Client
}

// Connect creates a client and pings it.
func Connect(ctx context.Context, opts Options) (*QuoteCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &QuoteCache{rdb: rdb}, nil
}

func NewQuoteCache(rdb *redis.Client) *QuoteCache {
	return &QuoteCache{rdb: rdb}
}

func quoteKey(pool string) string { return "quote:" + pool }

// Set overwrites the pool's quote unless the stored one has a higher
// sequence.
func (qc *QuoteCache) Set(ctx context.Context, q Quote) error {
	key := quoteKey(q.Pool)

	stored, err := qc.rdb.HGet(ctx, key, "sequence").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: read quote %s: %w", q.Pool, err)
	}
	if err == nil && stored > q.Sequence {
		return nil
	}

	if err := qc.rdb.HSet(ctx, key,
		"white", q.WhitePrice,
		"black", q.BlackPrice,
		"phase", q.Phase,
		"event_id", strconv.FormatUint(q.EventID, 10),
		"sequence", strconv.FormatInt(q.Sequence, 10),
		"updated_at", q.UpdatedAt.UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Pool, err)
	}
	return nil
}

// Get returns the cached quote, or ErrNotFound.
func (qc *QuoteCache) Get(ctx context.Context, pool string) (Quote, error) {
	fields, err := qc.rdb.HGetAll(ctx, quoteKey(pool)).Result()
	if err != nil {
		return Quote{}, fmt.Errorf("redis: get quote %s: %w", pool, err)
	}
	if len(fields) == 0 {
		return Quote{}, ErrNotFound
	}

	q := Quote{
		Pool:       pool,
		WhitePrice: fields["white"],
		BlackPrice: fields["black"],
		Phase:      fields["phase"],
	}
	if q.EventID, err = strconv.ParseUint(fields["event_id"], 10, 64); err != nil {
		return Quote{}, fmt.Errorf("redis: quote %s event_id: %w", pool, err)
	}
	if q.Sequence, err = strconv.ParseInt(fields["sequence"], 10, 64); err != nil {
		return Quote{}, fmt.Errorf("redis: quote %s sequence: %w", pool, err)
	}
	if q.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return Quote{}, fmt.Errorf("redis: quote %s updated_at: %w", pool, err)
	}
	return q, nil
}

func (qc *QuoteCache) Ping(ctx context.Context) error {
	if err := qc.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (qc *QuoteCache) Close() error {
	return qc.rdb.Close()
}
