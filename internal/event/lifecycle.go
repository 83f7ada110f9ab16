package event

import (
	"time"

	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// EventInfo is the full record of a market event as carried by lifecycle
// notifications.
type EventInfo struct {
	EventID         uint64         `json:"event_id"`
	Oracle          common.Address `json:"oracle"`
	PriceChangePart fpmath.Wad     `json:"price_change_part"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	WhiteTeam       string         `json:"white_team"`
	BlackTeam       string         `json:"black_team"`
	Category        string         `json:"category"`
	EventSeries     string         `json:"event_series"`
}

type PrepareEvent struct {
	EventInfo
}

func (*PrepareEvent) EventType() EventType { return EventTypePrepareEvent }

type AppStarted struct {
	EventInfo
}

func (*AppStarted) EventType() EventType { return EventTypeAppStarted }

type AppEnded struct {
	EventInfo
	Result int8 `json:"result"`
}

func (*AppEnded) EventType() EventType { return EventTypeAppEnded }

// EventDiscarded is emitted when a prepared event is dropped without starting.
type EventDiscarded struct {
	EventInfo
	Reason string `json:"reason"`
}

func (*EventDiscarded) EventType() EventType { return EventTypeEventDiscarded }

type OracleChanged struct {
	Oracle  common.Address `json:"oracle"`
	Allowed bool           `json:"allowed"`
}

func (*OracleChanged) EventType() EventType { return EventTypeOracleChanged }
