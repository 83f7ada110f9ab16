package lifecycle

import "OutcomeMarket/internal/event"

// Phase of the single in-flight event slot
type Phase int32

const (
	PhaseNone Phase = iota
	PhaseQueued
	PhaseOngoing
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseQueued:
		return "Queued"
	case PhaseOngoing:
		return "Ongoing"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates phase transitions
func (p Phase) CanTransitionTo(next Phase) bool {
	validTransitions := map[Phase][]Phase{
		PhaseNone: {
			PhaseQueued,
		},
		PhaseQueued: {
			PhaseOngoing,
			PhaseNone, // Discarded, too late to start
		},
		PhaseOngoing: {
			PhaseNone, // Ended
		},
	}

	for _, allowed := range validTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EventState is what the market knows about an event id, current or past.
type EventState int32

const (
	EventStateUnknown EventState = iota
	EventStateQueued
	EventStateOngoing
	EventStateEnded
	EventStateDiscarded
)

func (s EventState) String() string {
	switch s {
	case EventStateQueued:
		return "Queued"
	case EventStateOngoing:
		return "Ongoing"
	case EventStateEnded:
		return "Ended"
	case EventStateDiscarded:
		return "Discarded"
	default:
		return "Unknown"
	}
}

// Record is the event occupying the slot.
type Record struct {
	event.EventInfo
	Phase Phase `json:"phase"`
}
