package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"OutcomeMarket/internal/cache"
	"OutcomeMarket/internal/config"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/ingestion"
	"OutcomeMarket/internal/observability"
	"OutcomeMarket/internal/persistence"
	"OutcomeMarket/internal/projection"
	"OutcomeMarket/internal/query"
	"OutcomeMarket/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	rawCommandBuffer  = 4096
	publishBuffer     = 4096
	tradesPerUser     = 200
	drainTimeout      = 30 * time.Second
	snapshotCheckTick = time.Second
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	logger := observability.NewLogger("main")
	if err := run(*configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("outcomemarket exited")
	}
}

func run(configPath string, logger zerolog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Str("config", configPath).Msg("outcomemarket starting")

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(400)
	}

	marketCfg, err := cfg.Market.CoreConfig()
	if err != nil {
		return fmt.Errorf("market config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("postgres connected, migrations applied")

	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddProbe("postgres", db.PingContext)
	snaps := persistence.NewSnapshotManager(db)

	// --- Recovery: snapshot, then replay of the command tail ---
	c, err := core.NewDeterministicCore(marketCfg, 0, nil, nil, nil, metrics)
	if err != nil {
		return fmt.Errorf("new core: %w", err)
	}
	c.ResizeLRU(cfg.IdempotencyLRUCapacity)

	if n, err := snaps.VerifyAgainstLog(ctx); err != nil {
		logger.Warn().Err(err).Msg("snapshot verification failed")
	} else if n > 0 {
		logger.Info().Int64("snapshots", n).Msg("snapshots verified against command log")
	}

	snap, err := snaps.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
	}
	if snap != nil {
		c.RestoreFromSnapshot(snap.State)
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	replayStart := time.Now()
	replayed, err := persistence.Replay(ctx, snaps, c)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	metrics.ReplayCommandsTotal.Add(float64(replayed))
	metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Dur("took", time.Since(replayStart)).
		Msg("replay complete")

	keys, err := snaps.RecentIdempotencyKeys(ctx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load recent idempotency keys")
	}
	c.WarmLRU(keys)

	// --- Core outputs ---
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.Output, cfg.PersistChanSize)
	publishChan := make(chan ingestion.PublishableEvent, publishBuffer)

	c.Attach(persistCoreChan, projectionCoreChan, persistence.NewPostgresIdempotencyChecker(db))
	c.OnIdempotencyStoreError(func(err error) {
		logger.Warn().Err(err).Msg("postgres idempotency lookup failed; accepting command")
	})

	// --- Quote cache (optional) ---
	var (
		quoteSink   projection.QuoteSink
		quoteSource query.QuoteSource
	)
	if cfg.RedisAddr != "" {
		qc, err := cache.Connect(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		defer qc.Close()
		quoteSink, quoteSource = qc, qc
		healthChecker.AddProbe("redis", qc.Ping)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis quote cache connected")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	healthChecker.AddProbe("nats", func(context.Context) error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats %s", st)
		}
		return nil
	})

	rawChan := make(chan ingestion.RawCommand, rawCommandBuffer)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, metrics)
	if err := subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// --- Services ---
	gw := ingestion.NewGateway(rawCommandBuffer, metrics)
	trades := projection.NewTradeHistory(tradesPerUser)
	admin := &adminOps{gw: gw, snaps: snaps, db: db, metrics: metrics}

	srv := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Commands:      gw,
		Query:         query.NewQueryService(db, marketCfg.PoolAddress, cfg.Market.CollateralDecimals, quoteSource, trades),
		Admin:         admin,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		CommandRate:   cfg.CommandRate,
		CommandBurst:  cfg.CommandBurst,
		Decimals:      cfg.Market.CollateralDecimals,
	})

	// --- Output pipeline: outlives intake so it can drain on shutdown ---
	pipeCtx, cancelPipe := context.WithCancel(context.Background())
	defer cancelPipe()
	pipe, pipeCtx := errgroup.WithContext(pipeCtx)

	pipe.Go(func() error {
		bridgeCoreOutputs(pipeCtx, persistCoreChan, persistWorkerChan, publishChan, metrics)
		return nil
	})
	pipe.Go(func() error {
		w := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
		return ignoreCanceled(w.Run(pipeCtx))
	})
	pipe.Go(func() error {
		w := projection.NewProjectionWorker(db, marketCfg.PoolAddress, projectionCoreChan, quoteSink, trades, metrics)
		return ignoreCanceled(w.Run(pipeCtx))
	})
	pipe.Go(func() error {
		return ignoreCanceled(ingestion.NewOutboundPublisher(js, publishChan).Run(pipeCtx))
	})

	// --- Intake: everything that can reach the core ---
	startSeq := c.GetSequence()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(gw.Run(gctx, c)) })
	g.Go(func() error { return ignoreCanceled(ingestion.RunCommandLoop(gctx, rawChan, gw)) })
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr) })
	g.Go(func() error {
		// A failed pipeline would eventually block the core on persistence
		select {
		case <-gctx.Done():
			return nil
		case <-pipeCtx.Done():
			return errors.New("output pipeline stopped")
		}
	})
	g.Go(func() error {
		return ignoreCanceled(runPeriodicSnapshots(gctx, admin, cfg.SnapshotInterval, startSeq))
	})

	healthChecker.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", startSeq).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("outcomemarket ready")

	intakeErr := g.Wait()
	if intakeErr != nil {
		logger.Error().Err(intakeErr).Msg("service failed, shutting down")
	} else {
		logger.Info().Msg("shutdown requested")
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	subscriber.Stop()

	// The gateway has stopped, so nothing sends on the core channels and this
	// goroutine owns the core.
	close(persistCoreChan)
	close(projectionCoreChan)

	drained := make(chan error, 1)
	go func() { drained <- pipe.Wait() }()
	select {
	case err := <-drained:
		if err != nil {
			logger.Error().Err(err).Msg("output pipeline failed")
		}
	case <-time.After(drainTimeout):
		logger.Warn().Dur("timeout", drainTimeout).Msg("output pipeline did not drain, cancelling")
		cancelPipe()
		<-drained
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if seq, err := admin.save(shutdownCtx, c.CreateSnapshotState()); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("outcomemarket shutdown complete")
	return intakeErr
}

// bridgeCoreOutputs forwards core outputs to the persistence worker, which
// applies backpressure, and to the publisher, which drops when full. It
// closes both outputs once the core channel is closed or ctx is cancelled.
func bridgeCoreOutputs(
	ctx context.Context,
	in <-chan core.CoreOutput,
	persistOut chan<- persistence.Output,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(publishOut)

	for out := range in {
		select {
		case persistOut <- persistence.NewOutput(out):
		case <-ctx.Done():
			return
		}

		for _, evt := range ingestion.EventsFrom(out) {
			select {
			case publishOut <- evt:
			default:
				metrics.PublishDrops.Inc()
			}
		}
		metrics.SetChannelMetrics("persist", len(persistOut), cap(persistOut))
	}
}

// adminOps implements the maintenance endpoints. Snapshot state is captured
// on the gateway goroutine and written from the caller's.
type adminOps struct {
	gw      *ingestion.Gateway
	snaps   *persistence.SnapshotManager
	db      *sql.DB
	metrics *observability.Metrics
}

func (a *adminOps) TakeSnapshot(ctx context.Context) (int64, error) {
	var state *core.SnapshotState
	if err := a.gw.Do(ctx, func(c *core.DeterministicCore) {
		state = c.CreateSnapshotState()
	}); err != nil {
		return 0, err
	}
	return a.save(ctx, state)
}

func (a *adminOps) save(ctx context.Context, state *core.SnapshotState) (int64, error) {
	if state.Sequence < 0 {
		return state.Sequence, nil // Nothing processed yet
	}

	start := time.Now()
	snap, err := a.snaps.SaveSnapshot(ctx, state, start.UTC())
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	// Earlier snapshots whose commands have since been persisted
	if _, err := a.snaps.VerifyAgainstLog(ctx); err != nil {
		return 0, err
	}

	a.metrics.SnapshotTaken.Inc()
	a.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	a.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	a.metrics.SnapshotSizeBytes.Set(float64(snap.SizeBytes))
	return snap.Sequence, nil
}

func (a *adminOps) RebuildBalances(ctx context.Context) error {
	return projection.RebuildBalances(ctx, a.db)
}

func (a *adminOps) LatestSequence(ctx context.Context) (int64, error) {
	return a.snaps.GetLatestSequence(ctx)
}

// runPeriodicSnapshots snapshots the core every interval commands.
func runPeriodicSnapshots(ctx context.Context, admin *adminOps, interval, startSeq int64) error {
	logger := observability.NewLogger("snapshot")
	if interval <= 0 {
		logger.Info().Msg("periodic snapshots disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(snapshotCheckTick)
	defer ticker.Stop()
	last := startSeq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var next int64
			if err := admin.gw.Do(ctx, func(c *core.DeterministicCore) { next = c.GetSequence() }); err != nil {
				if errors.Is(err, ingestion.ErrGatewayClosed) {
					return nil
				}
				return err
			}
			if next-last < interval {
				continue
			}
			seq, err := admin.TakeSnapshot(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = next
			logger.Info().Int64("sequence", seq).Msg("snapshot saved")
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
