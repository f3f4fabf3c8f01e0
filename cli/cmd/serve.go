package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/coalesce/adapter"
	"github.com/pithecene-io/coalesce/adapter/redis"
	"github.com/pithecene-io/coalesce/adapter/webhook"
	"github.com/pithecene-io/coalesce/cli/config"
	"github.com/pithecene-io/coalesce/debounce"
	"github.com/pithecene-io/coalesce/iox"
	"github.com/pithecene-io/coalesce/log"
	"github.com/pithecene-io/coalesce/metrics"
	"github.com/pithecene-io/coalesce/runtime"
	"github.com/pithecene-io/coalesce/session"
	"github.com/pithecene-io/coalesce/storage"
	"github.com/pithecene-io/coalesce/transport"
	"github.com/pithecene-io/coalesce/transport/telegram"
	"github.com/pithecene-io/coalesce/types"
)

// ServeCommand returns the serve command, which runs the bot until
// interrupted.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the Telegram merge bot",
		Flags: []cli.Flag{
			ConfigFlag,
			// Telegram flags
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Telegram bot token",
				EnvVars: []string{"COALESCE_TELEGRAM_TOKEN"},
			},
			&cli.Int64Flag{
				Name:    "owner-id",
				Usage:   "Telegram user id allowed to use the bot",
				EnvVars: []string{"COALESCE_OWNER_ID"},
			},
			&cli.StringFlag{
				Name:  "telegram-endpoint",
				Usage: "Bot API endpoint format string (for local Bot API servers)",
			},
			&cli.DurationFlag{
				Name:  "poll-timeout",
				Usage: "Long-poll timeout",
			},
			// Pipeline flags
			&cli.StringFlag{
				Name:  "work-dir",
				Usage: "Directory for uploads and outputs (fs backend)",
			},
			&cli.DurationFlag{
				Name:  "quiet-window",
				Usage: "Quiet period after the last upload before prompting for a name",
			},
			&cli.IntFlag{
				Name:  "chunk-lines",
				Usage: "Lines per cleaning chunk",
			},
			&cli.Int64Flag{
				Name:  "progress-interval",
				Usage: "Bytes processed between progress edits",
			},
			&cli.DurationFlag{
				Name:  "idle-ttl",
				Usage: "Evict idle sessions after this long",
			},
			&cli.DurationFlag{
				Name:  "sweep-interval",
				Usage: "How often to look for idle sessions",
			},
			// Storage flags
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Storage backend: fs, memory or s3",
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "Storage path (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "storage-region",
				Usage: "AWS region for S3 backend (optional, uses default chain)",
			},
			&cli.StringFlag{
				Name:  "storage-endpoint",
				Usage: "Custom S3 endpoint (R2, MinIO)",
			},
			&cli.BoolFlag{
				Name:  "storage-s3-path-style",
				Usage: "Use path-style S3 addressing",
			},
			// Adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Completion notification adapter: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook endpoint or Redis URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel",
			},
			&cli.StringFlag{
				Name:  "adapter-encoding",
				Usage: "Redis payload encoding: json or msgpack",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-publish timeout",
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Retries after the first publish attempt",
			},
			// Operational flags
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g. :9090)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := serveConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log level: %v", err), exitConfigError)
	}
	logger := log.NewLogger("coalesce", level)
	defer iox.DiscardErr(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runServe(ctx, cfg, logger); err != nil {
		var exitCoder cli.ExitCoder
		if errors.As(err, &exitCoder) {
			return err
		}
		return cli.Exit(err.Error(), exitRuntimeError)
	}
	return nil
}

// serveConfig merges the config file with command-line flags, applies
// defaults and validates the result. Flags win over the file.
func serveConfig(c *cli.Context) (config.Config, error) {
	file, err := loadConfig(c)
	if err != nil {
		return config.Config{}, err
	}
	cfg := *file

	cfg.Telegram.Token = resolveString(c, "token", cfg.Telegram.Token)
	cfg.Telegram.OwnerID = resolveInt64(c, "owner-id", cfg.Telegram.OwnerID)
	cfg.Telegram.Endpoint = resolveString(c, "telegram-endpoint", cfg.Telegram.Endpoint)
	cfg.Telegram.PollTimeout.Duration = resolveDuration(c, "poll-timeout", cfg.Telegram.PollTimeout.Duration)

	cfg.WorkDir = resolveString(c, "work-dir", cfg.WorkDir)
	cfg.QuietWindow.Duration = resolveDuration(c, "quiet-window", cfg.QuietWindow.Duration)
	cfg.ChunkLines = resolveInt(c, "chunk-lines", cfg.ChunkLines)
	cfg.Progress.IntervalBytes = resolveInt64(c, "progress-interval", cfg.Progress.IntervalBytes)
	cfg.Session.IdleTTL.Duration = resolveDuration(c, "idle-ttl", cfg.Session.IdleTTL.Duration)
	cfg.Session.SweepInterval.Duration = resolveDuration(c, "sweep-interval", cfg.Session.SweepInterval.Duration)

	cfg.Storage.Backend = resolveString(c, "storage-backend", cfg.Storage.Backend)
	cfg.Storage.Path = resolveString(c, "storage-path", cfg.Storage.Path)
	cfg.Storage.Region = resolveString(c, "storage-region", cfg.Storage.Region)
	cfg.Storage.Endpoint = resolveString(c, "storage-endpoint", cfg.Storage.Endpoint)
	cfg.Storage.S3PathStyle = resolveBool(c, "storage-s3-path-style", cfg.Storage.S3PathStyle)

	cfg.Adapter.Type = resolveString(c, "adapter", cfg.Adapter.Type)
	cfg.Adapter.URL = resolveString(c, "adapter-url", cfg.Adapter.URL)
	cfg.Adapter.Channel = resolveString(c, "adapter-channel", cfg.Adapter.Channel)
	cfg.Adapter.Encoding = resolveString(c, "adapter-encoding", cfg.Adapter.Encoding)
	cfg.Adapter.Timeout.Duration = resolveDuration(c, "adapter-timeout", cfg.Adapter.Timeout.Duration)
	if c.IsSet("adapter-retries") {
		retries := c.Int("adapter-retries")
		cfg.Adapter.Retries = &retries
	}

	cfg.MetricsAddr = resolveString(c, "metrics-addr", cfg.MetricsAddr)
	cfg.LogLevel = resolveString(c, "log-level", cfg.LogLevel)

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runServe wires the pipeline and blocks until ctx is done or a component
// fails.
func runServe(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	store, err := storage.Open(ctx, cfg.StorageSettings())
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage: %v", err), exitConfigError)
	}
	// Sessions live in memory, so anything stored by a previous process
	// can no longer be merged.
	if n, err := store.Purge(ctx); err != nil {
		logger.Warn("orphan cleanup failed", map[string]any{"error": err.Error()})
	} else if n > 0 {
		logger.Info("orphaned artifacts removed", map[string]any{"count": n})
	}

	pub, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), exitConfigError)
	}
	if pub != nil {
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("adapter close failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	adapterName := cfg.Adapter.Type
	if adapterName == "" {
		adapterName = "none"
	}
	collector := metrics.NewCollector(store.Backend(), adapterName)

	bot, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		Endpoint:    cfg.Telegram.Endpoint,
		PollTimeout: int(cfg.Telegram.PollTimeout.Duration / time.Second),
	}, logger)
	if err != nil {
		return err
	}

	scheduler := debounce.New[types.UserID](cfg.QuietWindow.Duration, debounce.RealClock())
	coord, err := runtime.NewCoordinator(ctx, runtime.Config{
		ChunkLines:       cfg.ChunkLines,
		ProgressInterval: cfg.Progress.IntervalBytes,
	}, runtime.Deps{
		Transport: bot,
		Store:     store,
		Sessions:  session.NewRegistry(),
		Scheduler: scheduler,
		Adapter:   pub,
		Metrics:   collector,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler := transport.OwnerGuard(cfg.Telegram.OwnerID, bot, coord,
		transport.WithDeniedHook(func(transport.Event) { collector.IncUnauthorized() }),
		transport.WithGuardLogger(logger),
	)
	dispatcher := transport.NewDispatcher(ctx, handler, logger)

	logger.Info("coalesce serving", map[string]any{
		"bot":          bot.Username(),
		"owner_id":     cfg.Telegram.OwnerID,
		"quiet_window": cfg.QuietWindow.String(),
		"storage":      store.Backend(),
		"adapter":      adapterName,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Poll(gctx, dispatcher.Dispatch)
	})
	g.Go(func() error {
		sweepLoop(gctx, coord, cfg.Session.SweepInterval.Duration, cfg.Session.IdleTTL.Duration)
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr, collector)
		})
	}

	err = g.Wait()
	dispatcher.Wait()
	coord.Shutdown()

	snap := collector.Snapshot()
	logger.Info("coalesce stopped", map[string]any{
		"jobs_completed": snap.JobsCompleted,
		"jobs_failed":    snap.JobsFailed,
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:      cfg.URL,
			Channel:  cfg.Channel,
			Encoding: cfg.Encoding,
			Timeout:  cfg.Timeout.Duration,
			Retries:  retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// sweepLoop evicts idle sessions every interval until ctx is done.
func sweepLoop(ctx context.Context, coord *runtime.Coordinator, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coord.Sweep(ttl)
		}
	}
}
