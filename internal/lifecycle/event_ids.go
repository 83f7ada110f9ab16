package lifecycle

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// EventIDValidator tracks the last event id each oracle prepared. Ids must
// strictly increase per oracle; gaps are counted but accepted.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type EventIDValidator struct {
	last map[common.Address]uint64
	gaps map[common.Address]int64
}

func NewEventIDValidator() *EventIDValidator {
	return &EventIDValidator{
		last: make(map[common.Address]uint64),
		gaps: make(map[common.Address]int64),
	}
}

// Validate checks id against the oracle's previous id without recording it.
func (v *EventIDValidator) Validate(oracle common.Address, id uint64) error {
	if last, seen := v.last[oracle]; seen && id <= last {
		return ErrEventIDNotIncreasing
	}
	return nil
}

// Advance records id as the oracle's latest.
func (v *EventIDValidator) Advance(oracle common.Address, id uint64) {
	if last, seen := v.last[oracle]; seen && id > last+1 {
		v.gaps[oracle]++
	}
	v.last[oracle] = id
}

func (v *EventIDValidator) Last(oracle common.Address) (uint64, bool) {
	id, ok := v.last[oracle]
	return id, ok
}

func (v *EventIDValidator) Gaps(oracle common.Address) int64 {
	return v.gaps[oracle]
}

// OracleEventID is one oracle's last prepared id.
type OracleEventID struct {
	Oracle  common.Address `json:"oracle"`
	EventID uint64         `json:"event_id"`
	Gaps    int64          `json:"gaps"`
}

func (v *EventIDValidator) Snapshot() []OracleEventID {
	out := make([]OracleEventID, 0, len(v.last))
	for oracle, id := range v.last {
		out = append(out, OracleEventID{Oracle: oracle, EventID: id, Gaps: v.gaps[oracle]})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Oracle[:], out[j].Oracle[:]) < 0
	})
	return out
}

func (v *EventIDValidator) Restore(entries []OracleEventID) {
	v.last = make(map[common.Address]uint64, len(entries))
	v.gaps = make(map[common.Address]int64, len(entries))
	for _, e := range entries {
		v.last[e.Oracle] = e.EventID
		if e.Gaps > 0 {
			v.gaps[e.Oracle] = e.Gaps
		}
	}
}
