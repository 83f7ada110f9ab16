package core

import (
	"fmt"
	"time"

	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/ledger"
	"OutcomeMarket/internal/lifecycle"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/pending"
	"OutcomeMarket/internal/pool"

	"github.com/ethereum/go-ethereum/common"
)

// MarketConfig fixes the accounts and parameters of one market.
type MarketConfig struct {
	Owner            common.Address
	PoolAddress      common.Address
	LifecycleAddress common.Address
	QueueAddress     common.Address
	Oracles          []common.Address

	Fee                fpmath.Wad
	InitialWhitePrice  fpmath.Wad
	MaxPriceChangePart fpmath.Wad

	StartTimeout     time.Duration
	EndTimeout       time.Duration
	StartTolerance   time.Duration
	StartGraceWindow time.Duration

	// Restrict pool trading to the order queue
	QueueOnly bool
}

// Validate checks the accounts are distinct and set.
func (c MarketConfig) Validate() error {
	seen := map[common.Address]string{}
	for name, addr := range map[string]common.Address{
		"owner":     c.Owner,
		"pool":      c.PoolAddress,
		"lifecycle": c.LifecycleAddress,
		"queue":     c.QueueAddress,
	} {
		if addr == (common.Address{}) {
			return fmt.Errorf("%s address is not set", name)
		}
		if other, dup := seen[addr]; dup {
			return fmt.Errorf("%s and %s share address %s", name, other, addr.Hex())
		}
		seen[addr] = name
	}
	if len(c.Oracles) == 0 {
		return fmt.Errorf("at least one oracle is required")
	}
	if c.EndTimeout <= 0 {
		return fmt.Errorf("end timeout must be positive")
	}
	return nil
}

// Market is the wired set of components one core owns.
type Market struct {
	Ledger     *ledger.Ledger
	Collateral *ledger.Token
	Vault      *ledger.Vault
	Pool       *pool.Pool
	Lifecycle  *lifecycle.Lifecycle
	Queue      *pending.Queue
	Events     *event.Recorder
}

// NewMarket builds and wires the components. The lifecycle calls the queue
// and the pool, and the queue trades through the pool, so the lifecycle is
// bound last.
func NewMarket(cfg MarketConfig) (*Market, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("market config: %w", err)
	}

	m := &Market{
		Ledger: ledger.NewLedger(),
		Events: &event.Recorder{},
	}
	m.Collateral = m.Ledger.Token(ledger.AssetCollateral)
	m.Vault = ledger.NewVault(m.Ledger)

	p, err := pool.New(pool.Config{
		Address:            cfg.PoolAddress,
		Owner:              cfg.Owner,
		Authority:          cfg.LifecycleAddress,
		Fee:                cfg.Fee,
		InitialWhitePrice:  cfg.InitialWhitePrice,
		MaxPriceChangePart: cfg.MaxPriceChangePart,
	}, m.Collateral, m.Ledger.Token(ledger.AssetLiquidity), m.Vault, m.Events)
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	m.Pool = p

	m.Lifecycle = lifecycle.New(lifecycle.Config{
		Address:            cfg.LifecycleAddress,
		Owner:              cfg.Owner,
		Oracles:            cfg.Oracles,
		StartTimeout:       cfg.StartTimeout,
		EndTimeout:         cfg.EndTimeout,
		StartTolerance:     cfg.StartTolerance,
		StartGraceWindow:   cfg.StartGraceWindow,
		MaxPriceChangePart: cfg.MaxPriceChangePart,
	}, m.Events)

	m.Queue = pending.New(pending.Config{
		Address:   cfg.QueueAddress,
		Owner:     cfg.Owner,
		Lifecycle: cfg.LifecycleAddress,
	}, m.Collateral, m.Pool, m.Lifecycle, m.Events)

	m.Lifecycle.Bind(m.Pool, m.Queue)

	if cfg.QueueOnly {
		if err := m.Pool.SetOrderer(cfg.Owner, cfg.QueueAddress, true); err != nil {
			return nil, fmt.Errorf("restrict orderer: %w", err)
		}
		m.Events.Drain()
	}
	return m, nil
}

// MarketState is a full copy of every component's state.
type MarketState struct {
	Ledger    ledger.State    `json:"ledger"`
	Pool      pool.State      `json:"pool"`
	Lifecycle lifecycle.State `json:"lifecycle"`
	Queue     pending.State   `json:"queue"`
}

func (m *Market) Snapshot() MarketState {
	return MarketState{
		Ledger:    m.Ledger.Snapshot(),
		Pool:      m.Pool.Snapshot(),
		Lifecycle: m.Lifecycle.Snapshot(),
		Queue:     m.Queue.Snapshot(),
	}
}

func (m *Market) Restore(s MarketState) {
	m.Ledger.Restore(s.Ledger)
	m.Pool.Restore(s.Pool)
	m.Lifecycle.Restore(s.Lifecycle)
	m.Queue.Restore(s.Queue)
}

// CheckInvariants runs every component's solvency checks plus ledger supply
// conservation.
func (m *Market) CheckInvariants() error {
	if err := m.Pool.CheckInvariants(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := m.Queue.CheckInvariants(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := ledger.CheckSupply(m.Ledger.Tracker()); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}
