// Package lifecycle implements the event state machine.
//
// One event occupies the slot at a time and moves None → Queued → Ongoing →
// None. Only allow-listed oracles advance it. Starting an event runs the
// queued orders and arms the pool's skew; ending it settles the pool and then
// the queue.
package lifecycle

import (
	"bytes"
	"sort"
	"time"

	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOracle            = failure.Authorization("caller should be Oracle")
	ErrNotOwner             = failure.Authorization("caller is not the owner")
	ErrAlreadyPrepared      = failure.State("already prepared")
	ErrNotPrepared          = failure.State("not prepared")
	ErrEventAlreadyStarted  = failure.State("event already started")
	ErrEventNotStarted      = failure.State("event not started")
	ErrEventIDNotIncreasing = failure.State("event id must increase")
	ErrEventIDUsed          = failure.State("event id already used")
	ErrTooEarlyStart        = failure.Temporal("too early start")
	ErrTooLateToStart       = failure.Temporal("too late to start")
	ErrTooEarlyEnd          = failure.Temporal("too early end")
	ErrInvalidResult        = failure.Invalid("invalid event result")
	ErrPriceChangeTooLarge  = failure.Invalid("price change part must be less than one")
	ErrReentrantCall        = failure.State("reentrant call")
)

// SettlementPool is the pool's side of a phase transition.
type SettlementPool interface {
	SubmitEventStarted(caller common.Address, priceChangePart fpmath.Wad) error
	SubmitEventResult(caller common.Address, result int8) error
}

// OrderBook is the order queue's side of a phase transition.
type OrderBook interface {
	OnEventStarted(caller common.Address, eventID uint64) error
	OnEventEnded(caller common.Address, eventID uint64) error
}

type Config struct {
	Address            common.Address
	Owner              common.Address
	Oracles            []common.Address
	StartTimeout       time.Duration // Default delay from prepare to start
	EndTimeout         time.Duration // Default event duration
	StartTolerance     time.Duration // How early a start is accepted
	StartGraceWindow   time.Duration // How late a start is accepted
	MaxPriceChangePart fpmath.Wad
}

// PrepareRequest describes a new event. Zero timeouts fall back to the
// configured defaults.
type PrepareRequest struct {
	EventID         uint64
	PriceChangePart fpmath.Wad
	StartTimeout    time.Duration
	EndTimeout      time.Duration
	WhiteTeam       string
	BlackTeam       string
	Category        string
	Series          string
}

type Lifecycle struct {
	cfg     Config
	pool    SettlementPool
	orders  OrderBook
	emitter event.Emitter

	oracles  map[common.Address]bool
	current  *Record
	history  map[uint64]EventState
	eventIDs *EventIDValidator
	locked   bool
}

func New(cfg Config, emitter event.Emitter) *Lifecycle {
	if cfg.MaxPriceChangePart.IsZero() || !cfg.MaxPriceChangePart.Lt(fpmath.One) {
		cfg.MaxPriceChangePart = fpmath.One.Sub(fpmath.NewWad(1))
	}
	l := &Lifecycle{
		cfg:      cfg,
		emitter:  emitter,
		oracles:  make(map[common.Address]bool),
		history:  make(map[uint64]EventState),
		eventIDs: NewEventIDValidator(),
	}
	for _, o := range cfg.Oracles {
		l.oracles[o] = true
	}
	return l
}

// Bind wires the collaborators called at phase transitions. The order queue
// needs the lifecycle at construction, so binding happens afterwards.
func (l *Lifecycle) Bind(pool SettlementPool, orders OrderBook) {
	l.pool = pool
	l.orders = orders
}

func (l *Lifecycle) enter(caller common.Address) error {
	if l.locked {
		return ErrReentrantCall
	}
	if !l.oracles[caller] {
		return ErrNotOracle
	}
	l.locked = true
	return nil
}

func (l *Lifecycle) exit() { l.locked = false }

// Prepare queues a new event starting StartTimeout after now.
func (l *Lifecycle) Prepare(caller common.Address, now time.Time, req PrepareRequest) (event.EventInfo, error) {
	if err := l.enter(caller); err != nil {
		return event.EventInfo{}, err
	}
	defer l.exit()

	if req.StartTimeout <= 0 {
		req.StartTimeout = l.cfg.StartTimeout
	}
	rec, err := l.prepare(caller, now, req)
	if err != nil {
		return event.EventInfo{}, err
	}
	return rec.EventInfo, nil
}

func (l *Lifecycle) prepare(caller common.Address, now time.Time, req PrepareRequest) (*Record, error) {
	if l.current != nil {
		return nil, ErrAlreadyPrepared
	}
	if !req.PriceChangePart.Lt(fpmath.One) || req.PriceChangePart.Gt(l.cfg.MaxPriceChangePart) {
		return nil, ErrPriceChangeTooLarge
	}
	if _, used := l.history[req.EventID]; used {
		return nil, ErrEventIDUsed
	}
	if err := l.eventIDs.Validate(caller, req.EventID); err != nil {
		return nil, err
	}

	endTimeout := req.EndTimeout
	if endTimeout <= 0 {
		endTimeout = l.cfg.EndTimeout
	}
	start := now.Add(req.StartTimeout)

	l.eventIDs.Advance(caller, req.EventID)
	l.current = &Record{
		EventInfo: event.EventInfo{
			EventID:         req.EventID,
			Oracle:          caller,
			PriceChangePart: req.PriceChangePart,
			StartTime:       start,
			EndTime:         start.Add(endTimeout),
			WhiteTeam:       req.WhiteTeam,
			BlackTeam:       req.BlackTeam,
			Category:        req.Category,
			EventSeries:     req.Series,
		},
		Phase: PhaseQueued,
	}

	l.emitter.Emit(&event.PrepareEvent{EventInfo: l.current.EventInfo})
	return l.current, nil
}

// Start moves the queued event to Ongoing. A start later than the grace
// window discards the event instead; that rejection keeps the discard.
func (l *Lifecycle) Start(caller common.Address, now time.Time) (event.EventInfo, error) {
	if err := l.enter(caller); err != nil {
		return event.EventInfo{}, err
	}
	defer l.exit()

	return l.start(now)
}

func (l *Lifecycle) start(now time.Time) (event.EventInfo, error) {
	if l.current == nil {
		return event.EventInfo{}, ErrNotPrepared
	}
	if l.current.Phase == PhaseOngoing {
		return event.EventInfo{}, ErrEventAlreadyStarted
	}
	if now.Before(l.current.StartTime.Add(-l.cfg.StartTolerance)) {
		return event.EventInfo{}, ErrTooEarlyStart
	}
	if now.After(l.current.StartTime.Add(l.cfg.StartGraceWindow)) {
		discarded := l.current.EventInfo
		l.current = nil
		l.history[discarded.EventID] = EventStateDiscarded
		l.emitter.Emit(&event.EventDiscarded{EventInfo: discarded, Reason: ErrTooLateToStart.Reason})
		return discarded, failure.Committed(ErrTooLateToStart)
	}

	l.current.Phase = PhaseOngoing
	info := l.current.EventInfo

	if err := l.orders.OnEventStarted(l.cfg.Address, info.EventID); err != nil {
		return event.EventInfo{}, err
	}
	if err := l.pool.SubmitEventStarted(l.cfg.Address, info.PriceChangePart); err != nil {
		return event.EventInfo{}, err
	}

	l.emitter.Emit(&event.AppStarted{EventInfo: info})
	return info, nil
}

// End settles the ongoing event. result is +1 when white wins, -1 when black
// wins and 0 for a draw.
func (l *Lifecycle) End(caller common.Address, now time.Time, result int8) (event.EventInfo, error) {
	if err := l.enter(caller); err != nil {
		return event.EventInfo{}, err
	}
	defer l.exit()

	if l.current == nil || l.current.Phase != PhaseOngoing {
		return event.EventInfo{}, ErrEventNotStarted
	}
	if now.Before(l.current.EndTime) {
		return event.EventInfo{}, ErrTooEarlyEnd
	}
	if result < -1 || result > 1 {
		return event.EventInfo{}, ErrInvalidResult
	}

	info := l.current.EventInfo
	l.current = nil
	l.history[info.EventID] = EventStateEnded

	if err := l.pool.SubmitEventResult(l.cfg.Address, result); err != nil {
		return event.EventInfo{}, err
	}
	if err := l.orders.OnEventEnded(l.cfg.Address, info.EventID); err != nil {
		return event.EventInfo{}, err
	}

	l.emitter.Emit(&event.AppEnded{EventInfo: info, Result: result})
	return info, nil
}

// AddAndStartEvent prepares an event starting now and starts it in one call.
func (l *Lifecycle) AddAndStartEvent(caller common.Address, now time.Time, req PrepareRequest) (event.EventInfo, error) {
	if err := l.enter(caller); err != nil {
		return event.EventInfo{}, err
	}
	defer l.exit()

	req.StartTimeout = 0
	if _, err := l.prepare(caller, now, req); err != nil {
		return event.EventInfo{}, err
	}
	return l.start(now)
}

func (l *Lifecycle) AddOracleAddress(caller, oracle common.Address) error {
	if caller != l.cfg.Owner {
		return ErrNotOwner
	}
	l.oracles[oracle] = true
	l.emitter.Emit(&event.OracleChanged{Oracle: oracle, Allowed: true})
	return nil
}

func (l *Lifecycle) RemoveOracleAddress(caller, oracle common.Address) error {
	if caller != l.cfg.Owner {
		return ErrNotOwner
	}
	delete(l.oracles, oracle)
	l.emitter.Emit(&event.OracleChanged{Oracle: oracle, Allowed: false})
	return nil
}

// === Getters ===

func (l *Lifecycle) Address() common.Address { return l.cfg.Address }

func (l *Lifecycle) IsOracle(addr common.Address) bool {
	return l.oracles[addr]
}

func (l *Lifecycle) Phase() Phase {
	if l.current == nil {
		return PhaseNone
	}
	return l.current.Phase
}

// Current returns a copy of the event in the slot.
func (l *Lifecycle) Current() (Record, bool) {
	if l.current == nil {
		return Record{}, false
	}
	return *l.current, true
}

func (l *Lifecycle) EventState(id uint64) EventState {
	if l.current != nil && l.current.EventID == id {
		if l.current.Phase == PhaseOngoing {
			return EventStateOngoing
		}
		return EventStateQueued
	}
	if s, ok := l.history[id]; ok {
		return s
	}
	return EventStateUnknown
}

func (l *Lifecycle) LastEventID(oracle common.Address) (uint64, bool) {
	return l.eventIDs.Last(oracle)
}

// EventIDGaps counts how often oracle skipped ids when preparing.
func (l *Lifecycle) EventIDGaps(oracle common.Address) int64 {
	return l.eventIDs.Gaps(oracle)
}

// === Snapshot ===

type HistoryEntry struct {
	EventID uint64     `json:"event_id"`
	State   EventState `json:"state"`
}

type State struct {
	Oracles  []common.Address `json:"oracles"`
	Current  *Record          `json:"current,omitempty"`
	History  []HistoryEntry   `json:"history"`
	EventIDs []OracleEventID  `json:"event_ids"`
}

func (l *Lifecycle) Snapshot() State {
	s := State{EventIDs: l.eventIDs.Snapshot()}
	for o := range l.oracles {
		s.Oracles = append(s.Oracles, o)
	}
	sort.Slice(s.Oracles, func(i, j int) bool {
		return bytes.Compare(s.Oracles[i][:], s.Oracles[j][:]) < 0
	})
	if l.current != nil {
		rec := *l.current
		s.Current = &rec
	}
	for id, st := range l.history {
		s.History = append(s.History, HistoryEntry{EventID: id, State: st})
	}
	sort.Slice(s.History, func(i, j int) bool { return s.History[i].EventID < s.History[j].EventID })
	return s
}

func (l *Lifecycle) Restore(s State) {
	l.oracles = make(map[common.Address]bool, len(s.Oracles))
	for _, o := range s.Oracles {
		l.oracles[o] = true
	}
	l.current = nil
	if s.Current != nil {
		rec := *s.Current
		l.current = &rec
	}
	l.history = make(map[uint64]EventState, len(s.History))
	for _, h := range s.History {
		l.history[h.EventID] = h.State
	}
	l.eventIDs.Restore(s.EventIDs)
	l.locked = false
}
