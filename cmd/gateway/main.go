package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"gateway/internal/adapter/repo"
	"gateway/internal/dispatch"
	"gateway/internal/domain"
	"gateway/internal/events"
	"gateway/internal/http/handlers"
	"gateway/internal/http/httpapi"
	"gateway/internal/infra"
	"gateway/internal/jobs"
	"gateway/internal/providers/comfyui"
	"gateway/internal/providers/mock"
	"gateway/internal/storage"
)

// jobArchive persists finished jobs and reloads recent ones at startup.
type jobArchive interface {
	jobs.Archiver
	Load(ctx context.Context, limit int) ([]domain.Job, error)
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	base := infra.NewLogger(cfg.AppEnv)
	logger := &base

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("gateway stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("gateway stopped")
}

func run(ctx context.Context, cfg *infra.Config, logger *infra.Logger) error {
	outputs, err := storage.NewFileStore(cfg.OutputsDir)
	if err != nil {
		return err
	}
	workflowStore, err := storage.NewFileStore(cfg.WorkflowsDir)
	if err != nil {
		return err
	}
	library := comfyui.NewLibrary(workflowStore)

	sim, err := mock.NewSimulator(mock.Options{
		ChatDelay:    mock.DelayRange(cfg.MockChatDelay),
		ImageDelay:   mock.DelayRange(cfg.MockImageDelay),
		VideoDelay:   mock.DelayRange(cfg.MockVideoDelay),
		ErrorRate:    cfg.MockErrorRate,
		Seed:         cfg.MockSeed,
		TickInterval: cfg.MockTickInterval,
		Assets:       outputs,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	comfy, err := comfyui.NewClient(comfyui.Options{
		BaseURL:          cfg.ComfyUIBaseURL,
		Library:          library,
		Outputs:          outputs,
		PollInterval:     cfg.ComfyUIPollInterval,
		MaxPollInterval:  cfg.ComfyUIMaxPollInterval,
		MaxRetries:       cfg.ComfyUIMaxRetries,
		Timeout:          cfg.ComfyUITimeout,
		ExpectedDuration: cfg.ComfyUIExpectedDuration,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	relays, closeBrokers, err := openRelays(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBrokers()
	sinks := make([]events.Sink, 0, len(relays))
	for _, relay := range relays {
		sinks = append(sinks, relay)
		g.Go(func() error { return relay.Run(ctx) })
	}

	store := jobs.NewStore()
	defer store.Close()
	hub := events.NewHub(events.Options{BufferSize: cfg.EventBuffer, Sinks: sinks, Logger: logger})

	archive, closeArchive, err := openArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	var archiver jobs.Archiver
	if archive != nil {
		archiver = archive
	}
	if archive != nil && cfg.ArchiveRestoreLimit > 0 {
		recent, err := archive.Load(ctx, cfg.ArchiveRestoreLimit)
		if err != nil {
			logger.Warn().Err(err).Msg("archive: restore failed; starting with an empty history")
		} else {
			logger.Info().Int("restored", store.Restore(recent)).Msg("archive: restored recent jobs")
		}
	}

	queue, err := jobs.NewQueue(store, hub, dispatch.New(sim, comfy), jobs.Options{
		Workers:     cfg.Workers,
		JobTimeout:  cfg.JobTimeout,
		CancelGrace: cfg.CancelGrace,
		DefaultMode: domain.Mode(cfg.ServiceMode),
		Archiver:    archiver,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	janitor, err := jobs.NewJanitor(store, cfg.JobRetention, cfg.JobRetentionSchedule, logger)
	if err != nil {
		return err
	}

	app := &handlers.App{
		Jobs:        queue,
		Workflows:   library,
		ComfyUI:     comfy,
		Outputs:     outputs,
		EventStats:  hub.Stats,
		ServiceMode: domain.Mode(cfg.ServiceMode),
		Logger:      logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
		Logger:             logger,
	})
	server := infra.NewHTTPServer(cfg, router, logger)

	g.Go(func() error {
		err := queue.Run(ctx)
		// Ends open event streams so the HTTP server can drain.
		hub.Close()
		return err
	})
	g.Go(func() error { return janitor.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })

	logger.Info().
		Str("mode", cfg.ServiceMode).
		Int("workers", cfg.Workers).
		Str("addr", server.Addr()).
		Str("comfyui", comfy.BaseURL()).
		Msg("gateway started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openArchive picks Postgres when DATABASE_URL is set, otherwise SQLite when
// SQLITE_PATH is set. Without either, finished jobs live only in memory.
func openArchive(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (jobArchive, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		archive := repo.NewJobArchivePG(infra.NewSQLRunner(pool, logger))
		if err := archive.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Msg("archive: using postgres")
		return archive, pool.Close, nil

	case cfg.SQLitePath != "":
		archive, err := repo.OpenJobArchiveSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := archive.Migrate(ctx); err != nil {
			_ = archive.Close()
			return nil, nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("archive: using sqlite")
		return archive, func() { _ = archive.Close() }, nil
	}
	return nil, func() {}, nil
}

// openRelays connects the optional brokers that mirror hub events.
func openRelays(ctx context.Context, cfg *infra.Config, logger *infra.Logger) ([]*events.Relay, func(), error) {
	var relays []*events.Relay
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RedisAddr != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		relays = append(relays, events.NewRelay(events.NewRedisPublisher(client), cfg.RedisChannel, cfg.EventBuffer*4, logger))
		logger.Info().Str("channel", cfg.RedisChannel).Msg("events: relaying to redis")
	}
	if cfg.NATSURL != "" {
		conn, err := infra.NewNATSConn(cfg.NATSURL, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = conn.Drain() })
		relays = append(relays, events.NewRelay(events.NewNATSPublisher(conn), cfg.NATSSubject, cfg.EventBuffer*4, logger))
		logger.Info().Str("subject", cfg.NATSSubject).Msg("events: relaying to nats")
	}
	return relays, closeAll, nil
}
