package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/core"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/persistence"
	"OutcomeMarket/internal/pool"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
)

// Well-known accounts shared by fixtures.
var (
	Owner         = common.HexToAddress("0x0000000000000000000000000000000000000001")
	PoolAddr      = common.HexToAddress("0x0000000000000000000000000000000000000003")
	LifecycleAddr = common.HexToAddress("0x0000000000000000000000000000000000000004")
	QueueAddr     = common.HexToAddress("0x0000000000000000000000000000000000000005")
	Oracle        = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	Alice         = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Bob           = common.HexToAddress("0x00000000000000000000000000000000000000b0")

	T0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// MarketConfig is a market with one oracle, a 0.3% fee and even prices.
func MarketConfig() core.MarketConfig {
	return core.MarketConfig{
		Owner:              Owner,
		PoolAddress:        PoolAddr,
		LifecycleAddress:   LifecycleAddr,
		QueueAddress:       QueueAddr,
		Oracles:            []common.Address{Oracle},
		Fee:                pool.DefaultFee,
		InitialWhitePrice:  fpmath.MustDecimal("0.5"),
		MaxPriceChangePart: fpmath.MustDecimal("0.5"),
		StartTimeout:       time.Hour,
		EndTimeout:         2 * time.Hour,
		StartTolerance:     5 * time.Minute,
		StartGraceWindow:   10 * time.Minute,
	}
}

// Units is n whole collateral tokens.
func Units(n uint64) fpmath.Wad { return fpmath.Units(n, 18) }

// Head builds a command header.
func Head(requestID string, sender common.Address, at time.Time) command.Header {
	return command.Header{RequestID: requestID, Sender: sender, Timestamp: at}
}

// NewCore builds a core over MarketConfig with the given output channels.
func NewCore(t *testing.T, persistChan, projectionChan chan<- core.CoreOutput) *core.DeterministicCore {
	t.Helper()
	c, err := core.NewDeterministicCore(MarketConfig(), 0, persistChan, projectionChan, nil, nil)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	return c
}

// MustApply processes cmd and fails the test on error.
func MustApply(t *testing.T, c *core.DeterministicCore, cmd command.Command) core.Result {
	t.Helper()
	res, err := c.ProcessCommand(cmd)
	if err != nil {
		t.Fatalf("%s %s: %v", cmd.CommandType(), cmd.Head().RequestID, err)
	}
	return res
}

// TestPostgresDSN returns the Postgres DSN for integration tests, or "" when
// BWM_TEST_DB_URL is unset.
func TestPostgresDSN() string {
	return os.Getenv("BWM_TEST_DB_URL")
}

// SetupTestDB connects to the integration database, applies migrations and
// empties every table. The test is skipped when no database is configured.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := TestPostgresDSN()
	if dsn == "" {
		t.Skip("skipping Postgres test (set BWM_TEST_DB_URL to run)")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("test postgres not available: %v", err)
	}
	if err := persistence.NewMigrator(db, MigrationsDir(t)).Up(ctx); err != nil {
		db.Close()
		t.Fatalf("migrate test db: %v", err)
	}

	truncate := func() {
		for _, table := range []string{
			"event_log.events",
			"event_log.journal",
			"event_log.snapshots",
			"event_log.commands",
			"projections.watermarks",
			"projections.pool_state",
			"projections.orders",
			"projections.events",
			"projections.balances",
		} {
			if _, err := db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table)); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		db.Close()
	})
	return db
}

// MigrationsDir finds migrations/ by walking up from the test's directory to
// the module root.
func MigrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("module root not found")
		}
		dir = parent
	}
}
