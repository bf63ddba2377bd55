// Package config loads server configuration from a YAML file and the
// environment, environment taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	IPFilter  IPFilterConfig  `mapstructure:"ip_filter"`
	Widget    WidgetConfig    `mapstructure:"widget"`
	Retention RetentionConfig `mapstructure:"retention"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
	// WebhookSecret matches the secret_token registered with setWebhook.
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BotToken   string `mapstructure:"bot_token"`
	ChannelID  string `mapstructure:"channel_id"`
	WebhookURL string `mapstructure:"webhook_url"`
	AvatarURL  string `mapstructure:"avatar_url"`
	// PublicKey verifies interaction signatures.
	PublicKey string `mapstructure:"public_key"`
}

type SlackConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BotToken      string `mapstructure:"bot_token"`
	ChannelID     string `mapstructure:"channel_id"`
	WebhookURL    string `mapstructure:"webhook_url"`
	SigningSecret string `mapstructure:"signing_secret"`
}

type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

type IPFilterConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Mode      string   `mapstructure:"mode"`
	Allowlist []string `mapstructure:"allowlist"`
	Blocklist []string `mapstructure:"blocklist"`
}

type WidgetConfig struct {
	MinSupported   string `mapstructure:"min_supported"`
	Latest         string `mapstructure:"latest"`
	WelcomeMessage string `mapstructure:"welcome_message"`
}

type RetentionConfig struct {
	// MaxAge of 0 disables the cleanup sweep.
	MaxAge   time.Duration `mapstructure:"max_age"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is "json" or "console".
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file path plus POCKETPING_*
// environment variables (POCKETPING_TELEGRAM_TOKEN maps to telegram.token).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "pocketping.db")
	v.SetDefault("ip_filter.mode", "blocklist")
	v.SetDefault("retention.max_age", time.Duration(0))
	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetEnvPrefix("POCKETPING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the sqlite driver")
	}
	if c.Retention.MaxAge > 0 && c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive when retention is enabled")
	}
	return nil
}
