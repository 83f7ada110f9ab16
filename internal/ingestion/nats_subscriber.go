package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OutcomeMarket/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream   = "BWMARKET_CMD"
	CommandConsumer = "market-core"
)

// RawCommand is an undecoded command message.
type RawCommand struct {
	Subject  string
	Data     []byte
	Received time.Time
	Ack      func() // Processed or rejected; never redeliver
	Nak      func() // Not processed; redeliver
}

// NATSSubscriber consumes command subjects from JetStream and queues the raw
// messages for RunCommandLoop.
type NATSSubscriber struct {
	js       jetstream.JetStream
	rawChan  chan<- RawCommand
	consumer jetstream.ConsumeContext
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawCommand, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		metrics: metrics,
		logger:  observability.NewLogger("nats"),
	}
}

// Subscribe creates the durable consumer. It uses explicit ACK,
// max_deliver=5 and ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       CommandConsumer,
		FilterSubject: CommandSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CommandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		now := time.Now()
		if ns.metrics != nil {
			if md, err := msg.Metadata(); err == nil {
				ns.metrics.NATSPullLatency.WithLabelValues(msg.Subject()).Observe(now.Sub(md.Timestamp).Seconds())
			}
		}

		raw := RawCommand{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: now,
			Ack:      func() { msg.Ack() },
			Nak:      func() { msg.Nak() },
		}
		select {
		case ns.rawChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CommandConsumer, err)
	}

	ns.consumer = cc
	ns.logger.Info().Str("subject", CommandSubjectPrefix+">").Str("consumer", CommandConsumer).Msg("subscribed")
	return nil
}

// Stop stops the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// RunCommandLoop decodes raw commands and submits them through the gateway.
// A message is acknowledged once the core has answered, whether it applied
// or rejected the command; only shutdown leaves it for redelivery.
func RunCommandLoop(ctx context.Context, rawChan <-chan RawCommand, gw *Gateway) error {
	logger := observability.NewLogger("nats")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}

			cmd, err := ParseRawCommand(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
				raw.Ack()
				continue
			}

			_, err = gw.Submit(ctx, cmd)
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, ErrGatewayClosed):
				raw.Nak()
				return nil
			case err != nil:
				logger.Info().Err(err).
					Str("command_type", cmd.CommandType().String()).
					Str("request_id", cmd.Head().RequestID).
					Msg("command rejected")
			}
			raw.Ack()
		}
	}
}

// EnsureStreams creates the command and event streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	logger := observability.NewLogger("nats")
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{CommandSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{EventSubjectPrefix + ">"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("outcomemarket"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
