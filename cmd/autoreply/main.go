package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/mixelka/autoreply/internal/ai"
	"github.com/mixelka/autoreply/internal/catalog"
	"github.com/mixelka/autoreply/internal/config"
	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/email"
	"github.com/mixelka/autoreply/internal/formatter"
	"github.com/mixelka/autoreply/internal/pipeline"
	"github.com/mixelka/autoreply/internal/retry"
	"github.com/mixelka/autoreply/internal/secret"
	"github.com/mixelka/autoreply/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting autoreply")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	box, err := secret.NewBox(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to init password box", "error", err)
		os.Exit(1)
	}

	// AI service, throttled as one resource for every account
	var cooldown ai.Cooldown = ai.NewMemoryCooldown()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		cooldown = ai.NewRedisCooldown(rdb, "autoreply:ai:cooldown")
		logger.Info("shared ai cooldown enabled", "redis", opts.Addr)
	}
	governor := ai.NewGovernor(ai.GovernorConfig{
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	}, cooldown, logger)
	aiClient := ai.NewClient(ai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
		ChatModel:      cfg.ChatModel,
	}, governor)

	// Seed intents and knowledge
	if cfg.CatalogFile != "" {
		loader := catalog.NewLoader(db, aiClient, logger)
		res, err := loader.LoadFile(ctx, cfg.CatalogFile)
		if err != nil {
			logger.Error("failed to load catalog", "path", cfg.CatalogFile, "error", err)
			os.Exit(1)
		}
		logger.Info("catalog loaded",
			"added", res.Added,
			"updated", res.Updated,
			"unchanged", res.Unchanged,
		)
	}

	// Mail transport
	pool := email.NewPool(email.PoolConfig{
		Dial:        email.TLSDialer(logger),
		Decrypt:     box.Decrypt,
		DialTimeout: cfg.IMAPDialTimeout,
	}, logger)
	sender := email.NewSender(box.Decrypt, cfg.SMTPTimeout, logger)

	// Reply pipeline
	backoff := retry.Backoff{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay, Jitter: true}
	p := pipeline.New(db, pipeline.Stages{
		Classifier: pipeline.NewClassifier(aiClient, cfg.MaxIntents, cfg.EmbedMaxChars),
		Retriever:  pipeline.NewRetriever(cfg.KnowledgeThreshold, cfg.KnowledgeLimit),
		Drafter:    pipeline.NewDrafter(aiClient),
		Validator:  pipeline.NewValidator(aiClient),
		Dispatcher: pipeline.NewDispatcher(sender, cfg.DispatchRetries, backoff),
	}, pipeline.Config{
		MaxRedrafts:    cfg.MaxRedrafts,
		ServiceRetries: cfg.ServiceRetries,
		Backoff:        backoff,
	}, logger)

	workers := pipeline.NewWorkers(p, cfg.Workers, logger)
	p.SetQueue(workers)

	supervisor := email.NewSupervisor(pool, db, workers, email.PollerConfig{
		Interval:   cfg.PollInterval,
		MaxBackoff: cfg.PollMaxBackoff,
	}, logger)

	// Operator console (optional)
	var bot *telegram.Bot
	if cfg.TelegramEnabled() {
		bot, err = telegram.NewBot(telegram.BotDeps{
			Config:     cfg,
			DB:         db,
			Supervisor: supervisor,
			Pool:       pool,
			Resolver:   email.NewResolver(),
			Pipeline:   p,
			Box:        box,
			Formatter:  formatter.NewTelegramFormatter(),
			Logger:     logger,
		})
		if err != nil {
			logger.Error("failed to create bot", "error", err)
			os.Exit(1)
		}
		p.SetNotifier(bot)
	} else {
		logger.Warn("telegram console disabled, drafts for manual accounts wait in the database")
	}

	if err := workers.Start(); err != nil {
		logger.Error("failed to start workers", "error", err)
		os.Exit(1)
	}

	// Pick up messages a previous run left behind
	resumed, err := p.Resume(ctx)
	if err != nil {
		logger.Error("failed to resume messages", "error", err)
	} else if resumed > 0 {
		logger.Info("resumed pending messages", "count", resumed)
	}

	if err := supervisor.StartAll(ctx); err != nil {
		logger.Warn("some pollers failed to start", "error", err)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if bot != nil {
		go bot.Start(ctx)
	}

	logger.Info("autoreply is running, press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info("shutting down...")

	// Pollers release their own IMAP sessions on exit
	supervisor.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := workers.Close(shutdownCtx); err != nil {
		logger.Warn("workers did not drain", "error", err)
	}

	logger.Info("autoreply stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
