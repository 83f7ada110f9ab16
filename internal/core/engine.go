package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	"OutcomeMarket/internal/ledger"
	"OutcomeMarket/internal/lifecycle"
	fpmath "OutcomeMarket/internal/math"
	"OutcomeMarket/internal/observability"
	"OutcomeMarket/internal/pending"
	"OutcomeMarket/internal/pool"

	"github.com/ethereum/go-ethereum/common"
)

// DeterministicCore is the single-threaded command processor
type DeterministicCore struct {
	sequence int64
	owner    common.Address
	accounts map[common.Address]bool // Component accounts, never a sender
	chain    *hashChain
	market   *Market
	dedup    *Deduplicator
	metrics  *observability.Metrics

	lruEvictions int64 // Evictions already reported

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope *command.Envelope
	Batch    *ledger.Batch
	Events   []event.Event
	Delta    *StateDelta
}

// StateDelta is the state touched by one command, after it was applied.
type StateDelta struct {
	Pool     pool.State            `json:"pool"`
	Phase    lifecycle.Phase       `json:"phase"`
	Current  *lifecycle.Record     `json:"current,omitempty"`
	Balances []ledger.BalanceEntry `json:"balances"`
	Orders   []pending.Order       `json:"orders"`
	Details  []pending.EventEntry  `json:"details"`
}

// Result is what the caller of ProcessCommand learns.
type Result struct {
	Sequence  int64
	Duplicate bool
	Amount    fpmath.Wad // Tokens, payout, shares or withdrawal, by command
	OrderID   uint64
	Event     *event.EventInfo
	Events    []event.Event
}

func NewDeterministicCore(
	cfg MarketConfig,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*DeterministicCore, error) {
	market, err := NewMarket(cfg)
	if err != nil {
		return nil, err
	}

	// Default window; ResizeLRU overrides it
	dedup := NewDeduplicator(1_000_000, dbChecker)
	dedup.prom = metrics

	accounts := map[common.Address]bool{
		cfg.PoolAddress:      true,
		cfg.LifecycleAddress: true,
		cfg.QueueAddress:     true,
	}

	return &DeterministicCore{
		sequence:       startSequence,
		owner:          cfg.Owner,
		accounts:       accounts,
		chain:          newHashChain(),
		market:         market,
		dedup:          dedup,
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}, nil
}

// ProcessCommand is the main processing pipeline. A rejected command leaves
// no trace unless its error is marked committed.
func (c *DeterministicCore) ProcessCommand(cmd command.Command) (Result, error) {
	start := time.Now()
	head := cmd.Head()
	cmdType := cmd.CommandType().String()

	// Step 1: Dedup
	if head.RequestID == "" {
		return Result{}, failure.Invalid("request id is required")
	}
	if c.dedup.Seen(cmdType, head.RequestID) {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(cmdType, "duplicate").Inc()
		}
		return Result{Duplicate: true}, nil
	}

	// Step 2: Checkpoint and dispatch
	checkpoint := c.market.Snapshot()
	c.market.Ledger.BeginBatch(head.RequestID, c.sequence, head.Timestamp.UnixMicro())

	res, err := c.dispatch(cmd)
	batch := c.market.Ledger.TakeBatch()
	events := c.market.Events.Drain()

	if err != nil && !failure.IsCommitted(err) {
		c.market.Restore(checkpoint)
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(cmdType, failure.KindOf(err).String()).Inc()
		}
		return Result{}, err
	}

	// Step 3: Validate batch
	if batch != nil {
		if verr := batch.Validate(); verr != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", verr))
		}
	}

	// Step 4: Post-checks
	if verr := c.market.CheckInvariants(); verr != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", cmdType, verr))
	}

	// Step 5: State digest and hash
	hashStart := time.Now()
	delta := c.stateDelta(batch, events)
	digest, merr := json.Marshal(delta)
	if merr != nil {
		panic(fmt.Sprintf("FATAL: encode state delta: %v", merr))
	}
	prevHash := c.chain.head()
	stateHash := c.chain.extend(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, merr := json.Marshal(cmd)
	if merr != nil {
		panic(fmt.Sprintf("FATAL: encode command: %v", merr))
	}

	envelope := &command.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: head.RequestID,
		CommandType:    cmd.CommandType(),
		Sender:         head.Sender,
		Timestamp:      head.Timestamp,
		Payload:        payload,
		Outcome:        command.OutcomeApplied,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	if err != nil {
		envelope.Outcome = command.OutcomeRejectedCommitted
		envelope.Reason = failure.Reason(err)
	}

	output := CoreOutput{
		Envelope: envelope,
		Batch:    batch,
		Events:   events,
		Delta:    delta,
	}

	// Step 6: Emit outputs
	// Persist channel uses a BLOCKING send (backpressure); projection channel
	// uses a NON-BLOCKING send with drop.
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			// Dropped; projections catch up from the event log
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}

	// Step 7: Remember the request id
	c.dedup.Remember(cmdType, head.RequestID)

	res.Sequence = c.sequence
	res.Events = events
	c.sequence++

	if c.metrics != nil {
		c.recordMetrics(cmdType, batch, events, start)
	}

	return res, err
}

// stateDelta collects the accounts, orders and events touched by a command.
func (c *DeterministicCore) stateDelta(batch *ledger.Batch, events []event.Event) *StateDelta {
	m := c.market
	delta := &StateDelta{
		Pool:  m.Pool.Snapshot(),
		Phase: m.Lifecycle.Phase(),
	}
	if cur, ok := m.Lifecycle.Current(); ok {
		delta.Current = &cur
	}

	if batch != nil {
		affected := make(map[ledger.AccountKey]bool)
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
		keys := make([]ledger.AccountKey, 0, len(affected))
		for key := range affected {
			if key.Scope == ledger.AccountScopeHolder {
				keys = append(keys, key)
			}
		}
		// Sort by AccountPath (deterministic string ordering)
		sort.Slice(keys, func(i, j int) bool {
			return keys[i].AccountPath() < keys[j].AccountPath()
		})
		for _, key := range keys {
			delta.Balances = append(delta.Balances, ledger.BalanceEntry{
				Owner:  key.Owner,
				Asset:  key.Asset,
				Amount: m.Ledger.Tracker().GetBalance(key),
			})
		}
	}

	orderIDs := make(map[uint64]bool)
	eventIDs := make(map[uint64]bool)
	for _, e := range events {
		switch ev := e.(type) {
		case *event.OrderCreated:
			orderIDs[ev.OrderID] = true
		case *event.OrderCanceled:
			orderIDs[ev.OrderID] = true
		case *event.OrdersExecuted:
			eventIDs[ev.EventID] = true
			for _, id := range ev.OrderIDs {
				orderIDs[id] = true
			}
		case *event.OrdersSettled:
			eventIDs[ev.EventID] = true
		case *event.CollateralWithdrew:
			for _, id := range ev.OrderIDs {
				orderIDs[id] = true
			}
		case *event.AppStarted:
			eventIDs[ev.EventID] = true
		case *event.AppEnded:
			eventIDs[ev.EventID] = true
		}
	}
	for _, id := range sortedIDs(orderIDs) {
		if o, ok := m.Queue.Order(id); ok {
			delta.Orders = append(delta.Orders, o)
		}
	}
	for _, id := range sortedIDs(eventIDs) {
		if d, ok := m.Queue.EventDetail(id); ok {
			delta.Details = append(delta.Details, pending.EventEntry{EventID: id, Detail: d})
		}
	}
	return delta
}

func sortedIDs(set map[uint64]bool) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *DeterministicCore) recordMetrics(cmdType string, batch *ledger.Batch, events []event.Event, start time.Time) {
	m := c.metrics
	m.CoreCommandsApplied.WithLabelValues(cmdType).Inc()
	m.CoreCommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(c.sequence))
	m.DedupLRUSize.Set(float64(c.dedup.recent.len()))
	if ev := c.dedup.recent.evicted; ev > c.lruEvictions {
		m.DedupLRUEvictions.Add(float64(ev - c.lruEvictions))
		c.lruEvictions = ev
	}

	if batch != nil {
		for _, j := range batch.Journals {
			m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	for _, e := range events {
		m.CoreEventsEmitted.WithLabelValues(e.EventType().String()).Inc()
		switch ev := e.(type) {
		case *event.AppEnded:
			m.EventsSettled.WithLabelValues(fmt.Sprintf("%d", ev.Result)).Inc()
		case *event.EventDiscarded:
			m.EventsDiscarded.Inc()
		case *event.OrderCreated:
			m.OrdersCreated.WithLabelValues(event.SideOf(ev.IsWhite).String()).Inc()
		case *event.PriceChanged:
			if ev.Clamped {
				m.SettlementClamp.Inc()
			}
		case *event.PrepareEvent:
			c.recordEventIDGaps(ev.Oracle)
		case *event.AppStarted:
			c.recordEventIDGaps(ev.Oracle)
		}
	}

	p := c.market.Pool
	for _, side := range []event.Side{event.SideWhite, event.SideBlack} {
		price, _ := p.Price(side).Decimal(fpmath.WadDecimals).Float64()
		reserve, _ := p.Reserve(side).Decimal(fpmath.WadDecimals).Float64()
		bought, _ := p.Bought(side).Decimal(fpmath.WadDecimals).Float64()
		m.PoolPrice.WithLabelValues(side.String()).Set(price)
		m.PoolReserve.WithLabelValues(side.String()).Set(reserve)
		m.PoolBought.WithLabelValues(side.String()).Set(bought)
	}
	m.EventPhase.Set(float64(c.market.Lifecycle.Phase()))
}

func (c *DeterministicCore) recordEventIDGaps(oracle common.Address) {
	gaps := c.market.Lifecycle.EventIDGaps(oracle)
	c.metrics.EventIDGaps.WithLabelValues(oracle.Hex()).Set(float64(gaps))
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64       `json:"sequence"`
	StateHash       [32]byte    `json:"state_hash"`
	Market          MarketState `json:"market"`
	IdempotencyKeys []string    `json:"idempotency_keys"`
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart the latest snapshot is loaded, then the command tail is
// replayed.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.chain.resume(snap.StateHash)
	c.market.Restore(snap.Market)
	c.dedup.recent.warm(snap.IdempotencyKeys)
}

// Attach connects the output channels and the durable idempotency store.
// Replay runs before Attach so logged commands are neither re-emitted nor
// rejected as duplicates of themselves.
func (c *DeterministicCore) Attach(persistChan, projectionChan chan<- CoreOutput, dbChecker DBIdempotencyChecker) {
	c.persistChan = persistChan
	c.projectionChan = projectionChan
	c.dedup.cold = dbChecker
}

// OnIdempotencyStoreError installs a callback for failed event log dedup lookups.
func (c *DeterministicCore) OnIdempotencyStoreError(fn func(err error)) {
	c.dedup.OnLookupError(fn)
}

// ResizeLRU replaces the in-memory dedup window with an empty one of the
// given capacity. Call it before restoring or replaying.
func (c *DeterministicCore) ResizeLRU(capacity int) {
	c.dedup.recent = newRecentKeys(capacity)
	c.lruEvictions = 0
}

// WarmLRU loads recent dedup keys, oldest first.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.dedup.recent.warm(keys)
}

// GetSequence returns the next sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.chain.head()
}

// Market exposes the components for read-only inspection. Callers must not
// mutate them outside ProcessCommand.
func (c *DeterministicCore) Market() *Market {
	return c.market
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.chain.head(),
		Market:          c.market.Snapshot(),
		IdempotencyKeys: c.dedup.recent.keys(),
	}
}
