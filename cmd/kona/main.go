package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/metrics"
	"github.com/mateNemeth/kona2.0/notify"
	"github.com/mateNemeth/kona2.0/pipeline"
	"github.com/mateNemeth/kona2.0/scraper"
	"github.com/mateNemeth/kona2.0/stats"
	"github.com/mateNemeth/kona2.0/store"
)

func main() {
	app := &cli.App{
		Name:  "kona",
		Usage: "watch AutoScout24 listings, track category prices and alert subscribers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"KONA_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before reading the environment (default .env, optional)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Prometheus metrics listen address (e.g. :9090)",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "store driver: postgres or memory",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the discovery, extraction and dispatch loops until interrupted",
				Action: runAction,
			},
			{
				Name:   "migrate",
				Usage:  "create the database schema",
				Action: migrateAction,
			},
			{
				Name:   "recompute-stats",
				Usage:  "recompute the price statistic of every category",
				Action: recomputeAction,
			},
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("kona failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// setup loads the configuration, applies global flags and installs the
// default logger.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("verbose") {
		cfg.Verbose = c.Bool("verbose")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("store") {
		cfg.Database.Driver = c.String("store")
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		m := store.NewMemory()
		if cfg.Fixtures != "" {
			added, err := store.LoadFixtures(m, cfg.Fixtures)
			if err != nil {
				return nil, err
			}
			slog.Info("memory store seeded", slog.String("fixtures", cfg.Fixtures), slog.Int("filters", added))
		}
		return m, nil
	default:
		pg, err := store.OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
}

func runAction(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.New()
	fetcher, err := scraper.NewFetcher(cfg.Source, m, slog.Default())
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}
	source := scraper.NewAutoScout(fetcher, cfg.Source)

	notifiers, closeNotifiers, err := buildNotifiers(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	aggregator := stats.NewAggregator(st, m, slog.Default())
	discovery, err := pipeline.NewDiscovery(source, st, cfg.Discovery, m, slog.Default())
	if err != nil {
		return err
	}
	extraction := pipeline.NewExtraction(source, st, aggregator, cfg.Extraction, m, slog.Default())
	dispatcher := pipeline.NewDispatcher(st, notifiers, cfg.Dispatcher, m, slog.Default())

	metricsServer := startMetricsServer(cfg.MetricsAddr, m)

	slog.Info("starting kona",
		slog.String("source", source.Name()),
		slog.String("store", cfg.Database.Driver),
		slog.Int("notifiers", len(notifiers)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return discovery.Run(gctx) })
	g.Go(func() error { return extraction.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	go func() {
		<-gctx.Done()
		slog.Info("shutdown signal received, waiting for loops to finish")
	}()

	runErr := g.Wait()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	return runErr
}

func buildNotifiers(ctx context.Context, cfg *config.Config, st store.Store) ([]notify.Notifier, func(), error) {
	var notifiers []notify.Notifier
	var archives []notify.Archive
	closeAll := func() {
		for _, a := range archives {
			if err := a.Close(); err != nil {
				slog.Error("close archive", slog.String("notifier", a.Name()), slog.Any("error", err))
			}
		}
	}

	if cfg.Mail.From != "" {
		client, err := notify.NewSESClient(ctx, cfg.Mail)
		if err != nil {
			return nil, closeAll, err
		}
		mailer, err := notify.NewSESMailer(client, cfg.Mail.From, cfg.Mail.Bcc, slog.Default())
		if err != nil {
			return nil, closeAll, err
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.Mail.RatePerSecond), max(cfg.Mail.Burst, 1))
		notifiers = append(notifiers, notify.NewAlertNotifier(st, st, mailer, limiter, slog.Default()))
	} else {
		slog.Warn("alert mailer disabled: no sender address configured")
	}

	if cfg.Archive.File != "" {
		archive, err := notify.NewArchive(cfg.Archive)
		if err != nil {
			return nil, closeAll, err
		}
		archives = append(archives, archive)
		notifiers = append(notifiers, archive)
	}
	return notifiers, closeAll, nil
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func migrateAction(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	st, err := openStore(c.Context, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(c.Context); err != nil {
		return err
	}
	slog.Info("schema is up to date", slog.String("store", cfg.Database.Driver))
	return nil
}

func recomputeAction(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	st, err := openStore(c.Context, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	start := time.Now()
	written, err := stats.NewAggregator(st, nil, slog.Default()).RecomputeAll(c.Context)
	if err != nil {
		return err
	}
	slog.Info("price statistics recomputed",
		slog.Int("written", written),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
