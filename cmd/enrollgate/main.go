package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"enrollgate/internal/auditlog"
	"enrollgate/internal/backend"
	"enrollgate/internal/backend/postgres"
	"enrollgate/internal/backend/rest"
	"enrollgate/internal/conversion"
	"enrollgate/internal/health"
	"enrollgate/internal/kvstore"
	"enrollgate/internal/platform/config"
	"enrollgate/internal/platform/httpserver"
	"enrollgate/internal/platform/logger"
	"enrollgate/internal/platform/metrics"
	"enrollgate/internal/platform/redis"
	"enrollgate/internal/platform/sqlite"
	"enrollgate/internal/queue"
	"enrollgate/internal/ratelimit"
	httptransport "enrollgate/internal/transport/http"
	"enrollgate/internal/verification"
	"enrollgate/pkg/platform/circuit"
)

// main wires the coordinator's dependencies and runs the background workers
// next to the local HTTP API until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("enrollgate exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	readiness := map[string]httptransport.ReadinessCheck{}

	store, closeStore, err := openStore(ctx, cfg, readiness, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	b, closeBackend, err := openBackend(cfg, log)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer closeBackend()

	mirror, closeSink, err := openMirror(ctx, cfg, b, m, readiness, log)
	if err != nil {
		return fmt.Errorf("open audit mirror: %w", err)
	}
	defer closeSink()

	monitor, err := health.New(b,
		health.WithLogger(log),
		health.WithMetrics(m),
		health.WithStore(store),
		health.WithInterval(cfg.Health.Interval),
		health.WithCheckTimeout(cfg.Health.Timeout),
	)
	if err != nil {
		return err
	}
	q, err := queue.New(store,
		queue.WithLogger(log),
		queue.WithMetrics(m),
		queue.WithMaxRetries(cfg.Queue.MaxRetries),
	)
	if err != nil {
		return err
	}
	auditOpts := []auditlog.Option{
		auditlog.WithLogger(log),
		auditlog.WithMetrics(m),
		auditlog.WithMaxEntries(cfg.Audit.MaxEntries),
	}
	if mirror != nil {
		auditOpts = append(auditOpts, auditlog.WithMirror(mirror))
	}
	audit, err := auditlog.New(store, auditOpts...)
	if err != nil {
		return err
	}
	lifecycle, err := conversion.New(b,
		conversion.WithLogger(log),
		conversion.WithMetrics(m),
		conversion.WithLedger(store),
		conversion.WithEmptyRequirementsPolicy(cfg.Conversion.EmptyRequirementsPolicy),
	)
	if err != nil {
		return err
	}
	coordinator, err := verification.New(b, lifecycle, monitor, q, audit,
		verification.WithLogger(log),
		verification.WithMetrics(m),
		verification.WithBranchID(cfg.Backend.BranchID),
		verification.WithCallTimeout(cfg.Backend.CallTimeout),
	)
	if err != nil {
		return err
	}
	defer coordinator.Close()

	limiter := ratelimit.New(cfg.Server.SubmitRateLimit, time.Minute)
	router := httptransport.NewRouter(
		httptransport.NewVerificationHandler(coordinator, q, audit, monitor, log),
		httptransport.NewLifecycleHandler(lifecycle, log),
		httptransport.RouterConfig{
			Logger:             log,
			CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
			OperatorToken:      cfg.Server.OperatorToken,
			Gatherer:           reg,
			SubmitLimiter:      limiter,
			Readiness:          readiness,
		},
	)

	monitor.Start(cfg.Health.Interval, coordinator.OnHealthChange)
	defer monitor.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx) })
	}
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error { return coordinator.RunDrainLoop(gctx, cfg.Queue.DrainInterval) })
	g.Go(func() error { return httpserver.Serve(gctx, httpserver.New(cfg.Server.Addr, router), log) })

	log.Info("enrollgate started",
		"store", cfg.Store.Driver,
		"backend", cfg.Backend.Driver,
		"mirror", cfg.Audit.MirrorSink,
		"branch_id", cfg.Backend.BranchID,
	)
	return g.Wait()
}

// openStore registers a readiness check for drivers that talk to a server.
func openStore(ctx context.Context, cfg config.Config, readiness map[string]httptransport.ReadinessCheck, log *slog.Logger) (kvstore.Store, func(), error) {
	var (
		store   kvstore.Store
		cleanup func()
	)
	switch cfg.Store.Driver {
	case "file":
		fs, err := kvstore.NewFile(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		store, cleanup = fs, func() {}
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		ss, err := kvstore.NewSQLite(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		store, cleanup = ss, func() { _ = ss.Close() }
	case "redis":
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		store, cleanup = kvstore.NewRedis(client.Client), func() { _ = client.Close() }
		readiness["redis"] = client.Health
	case "memory":
		log.Warn("memory store selected: queued verifications will not survive a restart")
		store, cleanup = kvstore.NewMemory(), func() {}
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.EncryptionKey == "" {
		return store, cleanup, nil
	}
	sealed, err := kvstore.NewSealed(store, cfg.Store.EncryptionKey)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return sealed, cleanup, nil
}

func openBackend(cfg config.Config, log *slog.Logger) (backend.Backend, func(), error) {
	switch cfg.Backend.Driver {
	case "rest":
		opts := []rest.Option{
			rest.WithCallTimeout(cfg.Backend.CallTimeout),
			rest.WithLogger(log),
		}
		if cfg.Backend.JWTSecret != "" {
			signer, err := rest.NewTokenSigner(cfg.Backend.JWTSecret, "enrollgate", cfg.Backend.BranchID, 5*time.Minute)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, rest.WithTokenSigner(signer))
		}
		client, err := rest.New(cfg.Backend.URL, cfg.Backend.APIKey, opts...)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	case "postgres":
		db, err := postgres.Open(cfg.Backend.PostgresDriver, cfg.Backend.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		client, err := postgres.New(db,
			postgres.WithCallTimeout(cfg.Backend.CallTimeout),
			postgres.WithLogger(log),
		)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return client, closeDB(db, log), nil
	default:
		return nil, nil, fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
	}
}

// openMirror returns a nil Mirror when mirroring is disabled.
func openMirror(
	ctx context.Context,
	cfg config.Config,
	b backend.Backend,
	m *metrics.Metrics,
	readiness map[string]httptransport.ReadinessCheck,
	log *slog.Logger,
) (*auditlog.Mirror, func(), error) {
	var (
		sink    auditlog.Sink
		cleanup = func() {}
	)
	switch cfg.Audit.MirrorSink {
	case "none":
		return nil, cleanup, nil
	case "backend":
		bs, err := auditlog.NewBackendSink(b)
		if err != nil {
			return nil, nil, err
		}
		sink = bs
	case "kafka":
		ks, err := auditlog.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, nil, err
		}
		setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = ks.EnsureTopic(setupCtx, 1, 1)
		cancel()
		if err != nil {
			// The mirror retries publishing; a broker that is down at boot
			// must not keep the coordinator from starting.
			log.Warn("could not ensure audit topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		sink, cleanup = ks, ks.Close
		readiness["kafka"] = ks.Ping
	default:
		return nil, nil, fmt.Errorf("unknown mirror sink %q", cfg.Audit.MirrorSink)
	}

	mirror, err := auditlog.NewMirror(sink,
		auditlog.WithMirrorLogger(log),
		auditlog.WithMirrorMetrics(m),
		auditlog.WithBufferSize(cfg.Audit.MirrorBuffer),
		auditlog.WithBreaker(circuit.New("audit-mirror:"+sink.Name(),
			circuit.WithFailureThreshold(5),
			circuit.WithCooldown(30*time.Second),
		)),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return mirror, cleanup, nil
}

func closeDB(db *sql.DB, log *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.Warn("close backend database", "error", err)
		}
	}
}
