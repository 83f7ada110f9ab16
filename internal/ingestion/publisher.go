package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStream        = "BWMARKET_EVENTS"
	EventSubjectPrefix = "bwmarket.events."
)

// PublishableEvent is one domain event of a persisted command.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	Index          int         `json:"index"`
	EventType      string      `json:"event_type"`
	CommandType    string      `json:"command_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Payload        event.Event `json:"payload"`
	StateHash      string      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

// MsgID deduplicates republished events within the stream's window.
func (e PublishableEvent) MsgID() string {
	return fmt.Sprintf("%d-%d", e.Sequence, e.Index)
}

func (e PublishableEvent) Subject() string {
	return EventSubjectPrefix + e.EventType
}

// EventsFrom lists the publishable events of a core output in emission order.
func EventsFrom(out core.CoreOutput) []PublishableEvent {
	env := out.Envelope
	events := make([]PublishableEvent, 0, len(out.Events))
	for i, e := range out.Events {
		events = append(events, PublishableEvent{
			Sequence:       env.Sequence,
			Index:          i,
			EventType:      e.EventType().String(),
			CommandType:    env.CommandType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Payload:        e,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Timestamp:      env.Timestamp,
		})
	}
	return events
}

// OutboundPublisher publishes domain events to bwmarket.events.<type> after
// the core has emitted them. Publication is best effort; the event log is
// authoritative.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Str("event_type", evt.EventType).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(evt.MsgID()))
	return err
}
