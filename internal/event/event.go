package event

import "fmt"

// EventType discriminator for emitted events
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeBuy
	EventTypeSell
	EventTypeAddLiquidity
	EventTypeWithdrawLiquidity
	EventTypeCollateralAdded
	EventTypePriceChanged
	EventTypeOrdererChanged
	EventTypePrepareEvent
	EventTypeAppStarted
	EventTypeAppEnded
	EventTypeEventDiscarded
	EventTypeOracleChanged
	EventTypeOrderCreated
	EventTypeOrderCanceled
	EventTypeOrdersExecuted
	EventTypeOrdersSettled
	EventTypeCollateralWithdrew
	EventTypeEmergencyWithdrew
)

// Event is implemented by every event the market emits for observers.
type Event interface {
	EventType() EventType
}

// Emitter receives events from market components.
type Emitter interface {
	Emit(e Event)
}

// Recorder collects the events emitted while one command runs. The core
// truncates it when the command is rolled back.
type Recorder struct {
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.events = append(r.events, e)
}

func (r *Recorder) Len() int {
	return len(r.events)
}

// Truncate drops everything emitted after the first n events.
func (r *Recorder) Truncate(n int) {
	if n < len(r.events) {
		r.events = r.events[:n]
	}
}

// Drain returns the recorded events and resets the recorder.
func (r *Recorder) Drain() []Event {
	out := r.events
	r.events = nil
	return out
}

func (et EventType) String() string {
	switch et {
	case EventTypeBuy:
		return "Buy"
	case EventTypeSell:
		return "Sell"
	case EventTypeAddLiquidity:
		return "AddLiquidity"
	case EventTypeWithdrawLiquidity:
		return "WithdrawLiquidity"
	case EventTypeCollateralAdded:
		return "CollateralAdded"
	case EventTypePriceChanged:
		return "PriceChanged"
	case EventTypeOrdererChanged:
		return "OrdererChanged"
	case EventTypePrepareEvent:
		return "PrepareEvent"
	case EventTypeAppStarted:
		return "AppStarted"
	case EventTypeAppEnded:
		return "AppEnded"
	case EventTypeEventDiscarded:
		return "EventDiscarded"
	case EventTypeOracleChanged:
		return "OracleChanged"
	case EventTypeOrderCreated:
		return "OrderCreated"
	case EventTypeOrderCanceled:
		return "OrderCanceled"
	case EventTypeOrdersExecuted:
		return "OrdersExecuted"
	case EventTypeOrdersSettled:
		return "OrdersSettled"
	case EventTypeCollateralWithdrew:
		return "CollateralWithdrew"
	case EventTypeEmergencyWithdrew:
		return "EmergencyWithdrew"
	default:
		return "Unknown"
	}
}

// Side selects one of the two outcome tokens.
type Side uint8

const (
	SideWhite Side = iota + 1
	SideBlack
)

// SideOf maps the isWhite flag used by orders.
func SideOf(isWhite bool) Side {
	if isWhite {
		return SideWhite
	}
	return SideBlack
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "white", "WHITE", "White":
		return SideWhite, nil
	case "black", "BLACK", "Black":
		return SideBlack, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

func (s Side) Valid() bool {
	return s == SideWhite || s == SideBlack
}

func (s Side) String() string {
	switch s {
	case SideWhite:
		return "white"
	case SideBlack:
		return "black"
	default:
		return "unknown"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
