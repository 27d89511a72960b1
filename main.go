package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/api"
	"quantdinger-engine/internal/apikeys"
	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/exchange"
	"quantdinger-engine/internal/filter"
	"quantdinger-engine/internal/indicator"
	"quantdinger-engine/internal/logging"
	"quantdinger-engine/internal/market"
	"quantdinger-engine/internal/notify"
	"quantdinger-engine/internal/runner"
	"quantdinger-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("Failed to load configuration", "error", err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "engine",
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	}))
	log := logging.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}
	repo := database.NewRepository(db)
	repo.SetMaxAttempts(cfg.WorkerConfig.MaxAttempts)

	// Market data: Binance klines and tickers, optionally primed by the
	// websocket miniTicker stream, cached with a short TTL (shared through
	// Redis when enabled).
	source := market.NewBinanceSource(cfg.MarketConfig)
	prices := market.NewPriceCache(source, cfg.EngineConfig.PriceCacheTTL, cfg.RedisConfig)
	defer prices.Close()

	if cfg.MarketConfig.StreamEnabled {
		stream := market.NewTickerStream(cfg.MarketConfig.BinanceWSURL, prices)
		stream.Start(ctx)
		defer stream.Stop()
	}

	// AI entry filter
	var entryFilter filter.EntryFilter = filter.PassthroughFilter{}
	if cfg.AIConfig.Enabled {
		entryFilter = filter.NewLLMFilter(cfg.AIConfig)
		log.Info("AI entry filter enabled", "provider", cfg.AIConfig.Provider)
	}

	// Notification channels
	notifier := notify.NewManager()
	if cfg.NotificationConfig.Enabled {
		notifier.AddNotifier(notify.NewTelegramNotifier(notify.TelegramConfig{
			BotToken: cfg.NotificationConfig.Telegram.BotToken,
			ChatID:   cfg.NotificationConfig.Telegram.ChatID,
			Enabled:  cfg.NotificationConfig.Telegram.Enabled,
		}))
		notifier.AddNotifier(notify.NewDiscordNotifier(notify.DiscordConfig{
			WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
			Enabled:    cfg.NotificationConfig.Discord.Enabled,
		}))
		notifier.AddNotifier(notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:     cfg.NotificationConfig.Webhook.URL,
			Enabled: cfg.NotificationConfig.Webhook.Enabled,
		}))
	}
	notifier.AddNotifier(notify.NewBrowserNotifier(repo))

	// Exchange credentials and client factory
	credentials, err := apikeys.NewService(cfg.VaultConfig)
	if err != nil {
		log.Fatal("Failed to initialize credential store", "error", err)
	}
	factory := exchange.NewFactory(credentials)

	// Strategy runners
	supervisor := runner.NewSupervisor(runner.Deps{
		Repo:      repo,
		Prices:    prices,
		Klines:    source,
		Evaluator: indicator.NewBuiltinEvaluator(),
		Filter:    entryFilter,
		Engine:    cfg.EngineConfig,
	})
	if cfg.EngineConfig.AutoStart {
		if err := supervisor.StartPersisted(ctx); err != nil {
			log.Warn("Failed to resume persisted strategies", "error", err)
		}
	}

	// Pending-order worker
	w := worker.New(repo, factory, notifier, cfg.OrderConfig, cfg.WorkerConfig)
	go w.Run(ctx)

	// Position reconciler
	if cfg.SyncConfig.Enabled {
		rc := worker.NewReconciler(repo, factory, cfg.SyncConfig)
		go rc.Run(ctx)
	}

	// Ops API
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, repo, supervisor)
		go func() {
			if err := server.Start(); err != nil {
				log.Error("HTTP server exited", "error", err)
				cancel()
			}
		}()
	}

	log.Info("Engine started",
		"runners", supervisor.Count(),
		"tick_interval", cfg.EngineConfig.TickInterval,
		"order_mode", cfg.OrderConfig.Mode)

	// Block until shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()

	if server != nil {
		shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown error", "error", err)
		}
	}

	log.Info("Engine stopped")
}
