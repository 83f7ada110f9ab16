package ingestion

import (
	"context"
	"errors"
	"time"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/observability"

	"github.com/rs/zerolog"
)

var ErrGatewayClosed = errors.New("gateway stopped")

// Reply is the core's answer to one submitted command.
type Reply struct {
	Result core.Result
	Err    error
}

type submission struct {
	cmd      command.Command
	received time.Time
	reply    chan Reply
}

// Gateway serializes every access to the deterministic core. Transports
// submit commands and wait for the reply; maintenance tasks such as
// snapshots run through Do on the same goroutine.
type Gateway struct {
	commands chan submission
	ops      chan func(*core.DeterministicCore)
	done     chan struct{}
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewGateway(queueSize int, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		commands: make(chan submission, queueSize),
		ops:      make(chan func(*core.DeterministicCore)),
		done:     make(chan struct{}),
		metrics:  metrics,
		logger:   observability.NewLogger("gateway"),
	}
}

// Submit queues cmd and blocks until the core has applied or rejected it.
func (g *Gateway) Submit(ctx context.Context, cmd command.Command) (core.Result, error) {
	sub := submission{cmd: cmd, received: time.Now(), reply: make(chan Reply, 1)}
	select {
	case g.commands <- sub:
	case <-g.done:
		return core.Result{}, ErrGatewayClosed
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}

	// The command may still be applied after ctx expires; its request id
	// makes a retry safe.
	select {
	case r := <-sub.reply:
		return r.Result, r.Err
	case <-g.done:
		return core.Result{}, ErrGatewayClosed
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}
}

// Do runs fn on the core goroutine and waits for it to return.
func (g *Gateway) Do(ctx context.Context, fn func(*core.DeterministicCore)) error {
	finished := make(chan struct{})
	op := func(c *core.DeterministicCore) {
		defer close(finished)
		fn(c)
	}
	select {
	case g.ops <- op:
	case <-g.done:
		return ErrGatewayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Run owns c until ctx is cancelled. It is the only goroutine that may call
// into the core once the service is started.
func (g *Gateway) Run(ctx context.Context, c *core.DeterministicCore) error {
	defer close(g.done)
	g.logger.Info().Int64("sequence", c.GetSequence()).Msg("core loop started")

	for {
		select {
		case <-ctx.Done():
			g.logger.Info().Int64("sequence", c.GetSequence()).Msg("core loop stopped")
			return ctx.Err()

		case op := <-g.ops:
			op(c)

		case sub := <-g.commands:
			res, err := c.ProcessCommand(sub.cmd)
			if g.metrics != nil {
				g.metrics.IngestToApply.WithLabelValues(sub.cmd.CommandType().String()).
					Observe(time.Since(sub.received).Seconds())
				g.metrics.SetChannelMetrics("gateway", len(g.commands), cap(g.commands))
			}
			if err != nil {
				g.logger.Debug().Err(err).
					Str("command_type", sub.cmd.CommandType().String()).
					Str("request_id", sub.cmd.Head().RequestID).
					Msg("command rejected")
			}
			sub.reply <- Reply{Result: res, Err: err}
		}
	}
}
