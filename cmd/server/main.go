package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/machinat/sociably-sub013/internal/config"
	"github.com/machinat/sociably-sub013/internal/domain"
	"github.com/machinat/sociably-sub013/internal/logger"
	"github.com/machinat/sociably-sub013/internal/metrics"
	"github.com/machinat/sociably-sub013/internal/platform/broadcast"
	"github.com/machinat/sociably-sub013/internal/platform/messenger"
	"github.com/machinat/sociably-sub013/internal/platform/queue"
	"github.com/machinat/sociably-sub013/internal/platform/ratelimit"
	"github.com/machinat/sociably-sub013/internal/resolve"
	"github.com/machinat/sociably-sub013/internal/server"
	"github.com/machinat/sociably-sub013/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application failed to run", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	// 1. Load configuration and initialize logger
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := logger.NewLogger(cfg.Log, nil)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("sociably", reg)

	// 3. Ledger
	ledger := queue.NewLedger[domain.Job, json.RawMessage](
		queue.WithLogger(log),
		queue.WithObserver(collector),
	)
	ledger.OnEvict(resolve.FailEvicted)
	collector.TrackLength(ledger.Len)

	// 4. Worker pool sending through the platform client
	client := messenger.NewClient(cfg.Platform.Endpoint, cfg.Platform.Token, messenger.WithLogger(log))
	consumer := resolve.NewConsumer(client, resolve.WithLogger(log))

	var pool *worker.Pool[domain.Job, json.RawMessage]
	if cfg.Worker.Grouped {
		throttle := ratelimit.New(cfg.Worker.TargetRate, cfg.Worker.TargetBurst)
		go throttle.StartCleanup(ctx)
		pool = worker.NewGroupedPool[domain.Job, json.RawMessage](ledger, consumer.Consume, domain.Job.Target, throttle, cfg.Worker.PoolConfig(), worker.WithLogger(log))
	} else {
		pool = worker.NewPool[domain.Job, json.RawMessage](ledger, consumer.Consume, cfg.Worker.PoolConfig(), worker.WithLogger(log))
	}

	// 5. Outcome notifier (Redis when configured)
	hub := server.NewHub(log)
	var notifier domain.OutcomeNotifier
	if cfg.Redis.Addr != "" {
		rn, err := broadcast.Dial(ctx, cfg.Redis.Addr,
			broadcast.WithKeys(cfg.Redis.Stream, cfg.Redis.Channel),
			broadcast.WithLogger(log),
		)
		if err != nil {
			return err
		}
		defer rn.Close()
		go rn.StartTrimRoutine(ctx, cfg.Redis.TrimInterval, cfg.Redis.JournalMaxLen)
		notifier = rn
	}
	outcomes := server.NewOutcomes(hub, notifier, log)
	go func() {
		if err := outcomes.Run(ctx); err != nil {
			log.Error("Outcome broadcaster stopped", "error", err)
		}
	}()

	// 6. HTTP API
	limiter := ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateBurst)
	go limiter.StartCleanup(ctx)

	srv := server.NewServer(cfg.Server.Addr, server.Deps{
		Ledger:      ledger,
		Outcomes:    outcomes,
		Hub:         hub,
		Notifier:    notifier,
		Limiter:     limiter,
		Metrics:     collector,
		Gatherer:    reg,
		WaitTimeout: cfg.Server.WaitTimeout,
		Logger:      log,
	})

	pool.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			stop()
			pool.Stop()
			return err
		}
	}

	if err := srv.Stop(); err != nil {
		log.Error("Failed to stop server", "error", err)
	}
	pool.Stop()
	if n := ledger.Len(); n > 0 {
		log.Warn("Jobs left unsent at shutdown", "count", n)
	}
	return nil
}
