package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pocketping/hub/pkg/api"
	"github.com/pocketping/hub/pkg/bridge"
	"github.com/pocketping/hub/pkg/broadcast"
	"github.com/pocketping/hub/pkg/config"
	"github.com/pocketping/hub/pkg/forward"
	"github.com/pocketping/hub/pkg/hub"
	"github.com/pocketping/hub/pkg/ipfilter"
	"github.com/pocketping/hub/pkg/retention"
	"github.com/pocketping/hub/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := bridge.NewRegistry(st, logger)
	if err := registerBridges(cfg, registry, logger); err != nil {
		return err
	}

	var hubOpts []hub.Option
	if cfg.Webhook.URL != "" {
		hubOpts = append(hubOpts, hub.WithEventSink(forward.New(cfg.Webhook.URL, cfg.Webhook.Secret, logger)))
	}
	hubOpts = append(hubOpts, hub.WithVersionConstraints(hub.VersionConstraints{
		MinSupported: cfg.Widget.MinSupported,
		Latest:       cfg.Widget.Latest,
	}))
	if cfg.Widget.WelcomeMessage != "" {
		hubOpts = append(hubOpts, hub.WithWelcomeMessage(cfg.Widget.WelcomeMessage))
	}

	h := hub.New(st, registry, broadcast.New(logger), logger, hubOpts...)

	webhooks, err := api.NewWebhookHandlers(h, logger, api.WebhookConfig{
		TelegramSecretToken: cfg.Telegram.WebhookSecret,
		SlackSigningSecret:  cfg.Slack.SigningSecret,
		DiscordPublicKey:    cfg.Discord.PublicKey,
	})
	if err != nil {
		return err
	}

	srvOpts := []api.Option{
		api.WithWebhooks(webhooks),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	}
	if cfg.IPFilter.Enabled {
		srvOpts = append(srvOpts, api.WithIPFilter(ipfilter.New(ipfilter.Config{
			Enabled:   true,
			Mode:      ipfilter.Mode(cfg.IPFilter.Mode),
			Allowlist: cfg.IPFilter.Allowlist,
			Blocklist: cfg.IPFilter.Blocklist,
		})))
	}
	srv := api.NewServer(h, logger, srvOpts...)

	if cfg.Retention.MaxAge > 0 {
		sweeper := retention.New(h, cfg.Retention.MaxAge, cfg.Retention.Interval, logger)
		go sweeper.Run(ctx)
	}

	err = srv.Start(ctx, cfg.Server.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	registry.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
	return err
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	default:
		return store.NewMemoryStore(), nil
	}
}

func registerBridges(cfg *config.Config, registry *bridge.Registry, logger *zap.Logger) error {
	if cfg.Telegram.Enabled {
		b, err := bridge.NewTelegramBridge(bridge.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(b); err != nil {
			return err
		}
		logger.Info("telegram bridge registered")
	}
	if cfg.Discord.Enabled {
		b, err := bridge.NewDiscordBridge(bridge.DiscordConfig{
			BotToken:   cfg.Discord.BotToken,
			ChannelID:  cfg.Discord.ChannelID,
			WebhookURL: cfg.Discord.WebhookURL,
			AvatarURL:  cfg.Discord.AvatarURL,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(b); err != nil {
			return err
		}
		logger.Info("discord bridge registered")
	}
	if cfg.Slack.Enabled {
		b, err := bridge.NewSlackBridge(bridge.SlackConfig{
			BotToken:   cfg.Slack.BotToken,
			ChannelID:  cfg.Slack.ChannelID,
			WebhookURL: cfg.Slack.WebhookURL,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(b); err != nil {
			return err
		}
		logger.Info("slack bridge registered")
	}
	return nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
