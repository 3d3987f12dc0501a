package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/orderflow/internal"
	"github.com/dukerupert/orderflow/internal/cache"
	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/email"
	"github.com/dukerupert/orderflow/internal/handler"
	"github.com/dukerupert/orderflow/internal/handler/api"
	"github.com/dukerupert/orderflow/internal/memory"
	"github.com/dukerupert/orderflow/internal/middleware"
	"github.com/dukerupert/orderflow/internal/notify"
	"github.com/dukerupert/orderflow/internal/outbox"
	"github.com/dukerupert/orderflow/internal/postgres"
	"github.com/dukerupert/orderflow/internal/routes"
	"github.com/dukerupert/orderflow/internal/service"
	"github.com/dukerupert/orderflow/internal/storage"
	"github.com/dukerupert/orderflow/internal/telemetry"
	"github.com/dukerupert/orderflow/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// stores groups the persistence ports for the selected backend.
type stores struct {
	uow    domain.UnitOfWork
	orders domain.OrderReader
	users  domain.UserReader
	outbox outbox.Store
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	// Error tracking
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Enabled:     cfg.Sentry.Enabled,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
		SampleRate:  cfg.Sentry.SampleRate,
	}, logger)
	if err != nil {
		return err
	}
	defer flushSentry()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orderMetrics := telemetry.NewOrderMetrics("orderflow", reg)
	httpMetrics := middleware.NewMetrics("orderflow", reg)

	checks := map[string]handler.Pinger{}

	// ==========================================================================
	// Persistence
	// ==========================================================================

	var st stores
	switch cfg.Store {
	case "memory":
		logger.Warn("Using in-memory store; state is lost on restart")
		mem := memory.NewStore()
		st = stores{uow: mem, orders: mem, users: mem, outbox: mem}

	default:
		pool, err := openPostgres(ctx, cfg.DatabaseUrl, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		checks["database"] = pool
		st = stores{
			uow:    postgres.NewUnitOfWork(pool),
			orders: postgres.NewOrderReader(pool),
			users:  postgres.NewUserReader(pool),
			outbox: postgres.NewOutboxStore(pool),
		}
	}

	// ==========================================================================
	// Side-effect adapters
	// ==========================================================================

	var (
		orderCache domain.Cache   = cache.NoopCache{}
		dedupe     notify.Deduper = cache.NewMemoryDeduper()
	)
	if cfg.Redis.URL != "" {
		client, err := cache.NewClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		redisCache := cache.NewRedisCache(client, logger)
		orderCache, dedupe = redisCache, redisCache
		checks["redis"] = redisCache
		logger.Info("Redis cache configured")
	} else {
		logger.Warn("REDIS_URL not set, cache invalidation disabled")
	}

	var sender email.Sender
	if cfg.Email.Host != "" {
		smtp := email.NewSMTPSender(&email.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     int(cfg.Email.Port),
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
		}, logger)
		sender = smtp
		checks["smtp"] = smtp
	} else {
		logger.Warn("SMTP_HOST not set, emails will be logged instead of sent")
		sender = email.NewLogSender(logger)
	}
	emailService := email.NewService(sender, cfg.Email.From, cfg.Email.FromName)

	// ==========================================================================
	// Outbox handlers (registration order is invocation order)
	// ==========================================================================

	registry := outbox.NewRegistry()
	registry.Register(notify.NewCacheInvalidationHandler(orderCache, st.orders, logger))
	registry.Register(notify.NewEmailHandler(st.orders, st.users, emailService, dedupe, logger), notify.EmailEvents...)

	if len(cfg.Kafka.Brokers) > 0 {
		writer := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.ReindexTopic)
		defer writer.Close()
		registry.Register(notify.NewReindexHandler(writer, logger), notify.OrderEvents()...)
		logger.Info("Search re-index producer configured", "topic", cfg.Kafka.ReindexTopic)
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("orderflow"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()
		registry.Register(notify.NewBroadcastHandler(nc, cfg.NATS.SubjectPrefix, logger))
		logger.Info("Event broadcast configured", "prefix", cfg.NATS.SubjectPrefix)
	}

	if cfg.Archive.Enabled {
		archive, err := storage.NewStorage(cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize settlement archive: %w", err)
		}
		registry.Register(notify.NewArchiveHandler(archive, st.orders, logger), notify.ArchiveEvents...)
		logger.Info("Settlement archive configured", "provider", cfg.Archive.Provider)
	}

	dispatcher := worker.NewDispatcher(st.outbox, registry, orderMetrics, worker.Config{
		WorkerID:       cfg.Outbox.WorkerID,
		PollInterval:   cfg.Outbox.PollInterval,
		BatchSize:      cfg.Outbox.BatchSize,
		MaxConcurrency: cfg.Outbox.MaxConcurrency,
		MaxAttempts:    cfg.Outbox.MaxAttempts,
		ClaimTTL:       cfg.Outbox.ClaimTTL,
		HandlerTimeout: cfg.Outbox.HandlerTimeout,
		Backoff:        outbox.Backoff{Base: cfg.Outbox.BackoffBase, Max: cfg.Outbox.BackoffMax},
		PurgeAfter:     cfg.Outbox.PurgeAfter,
	}, logger)

	// ==========================================================================
	// Services and HTTP
	// ==========================================================================

	stock := service.NewStockRestorer(st.uow, orderMetrics, logger)
	orderService := service.NewOrderService(st.uow, st.orders, stock, orderMetrics, logger)

	r := routes.NewRouter(routes.APIDeps{
		Logger:         logger,
		OrderHandler:   api.NewOrderHandler(orderService, logger),
		HealthHandler:  handler.NewHealthHandler(checks),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		HTTPMetrics:    httpMetrics,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ==========================================================================
	// Run until signalled
	// ==========================================================================

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", "address", server.Addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := dispatcher.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openPostgres runs migrations over database/sql and returns the pgx pool
// the application uses.
func openPostgres(ctx context.Context, url string, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
