// Package config loads the Polaris configuration from YAML, resolves
// secrets from the environment and the OS keyring, and watches the file
// for changes that can be applied without a restart.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jholhewres/polaris/pkg/polaris/bot"
	"github.com/jholhewres/polaris/pkg/polaris/channels/console"
	"github.com/jholhewres/polaris/pkg/polaris/channels/discord"
	"github.com/jholhewres/polaris/pkg/polaris/channels/telegram"
	"github.com/jholhewres/polaris/pkg/polaris/channels/whatsapp"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Channel types.
const (
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
	ChannelWhatsApp = "whatsapp"
	ChannelConsole  = "console"
)

// Config is the top-level Polaris configuration.
type Config struct {
	// Name is the instance name used in logs.
	Name string `yaml:"name"`

	// Prefix replaces the "/" placeholder in command patterns.
	Prefix string `yaml:"prefix"`

	// Plugins lists the plugins to load, in dispatch order.
	Plugins []string `yaml:"plugins"`

	// PluginDir holds native .so plugins. Empty disables them.
	PluginDir string `yaml:"plugin_dir"`

	// ScriptDir holds Lua script plugins. Empty disables them.
	ScriptDir string `yaml:"script_dir"`

	// ScriptTimeout bounds each Lua hook call.
	ScriptTimeout time.Duration `yaml:"script_timeout"`

	// Bot configures the runtime.
	Bot BotConfig `yaml:"bot"`

	// Channel selects and configures the transport.
	Channel ChannelConfig `yaml:"channel"`

	// Store configures plugin persistence.
	Store store.Config `yaml:"store"`

	// Logging configures the log handler.
	Logging LoggingConfig `yaml:"logging"`
}

// BotConfig configures the runtime controller.
type BotConfig struct {
	Staleness         time.Duration `yaml:"staleness"`
	CronSchedule      string        `yaml:"cron_schedule"`
	HookTimeout       time.Duration `yaml:"hook_timeout"`
	AdminConversation string        `yaml:"admin_conversation"`
}

// ChannelConfig selects the transport and holds per-transport settings.
type ChannelConfig struct {
	Type     string          `yaml:"type"`
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
	Console  console.Config  `yaml:"console"`
}

// LoggingConfig configures the log handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json. Empty picks text on a terminal.
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Name:          "polaris",
		Prefix:        "/",
		Plugins:       []string{"ping", "help"},
		ScriptDir:     "./scripts",
		ScriptTimeout: 5 * time.Second,
		Bot: BotConfig{
			Staleness:    bot.DefaultStaleness,
			CronSchedule: bot.DefaultCronSchedule,
		},
		Channel: ChannelConfig{
			Type:     ChannelConsole,
			WhatsApp: whatsapp.DefaultConfig(),
		},
		Store: store.Config{Backend: "json"},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Prefix) == "" {
		errs = append(errs, errors.New("prefix must not be empty"))
	}

	switch c.Channel.Type {
	case ChannelTelegram:
		if c.Channel.Telegram.Token == "" {
			errs = append(errs, errors.New("channel.telegram.token is required"))
		}
	case ChannelDiscord:
		if c.Channel.Discord.Token == "" {
			errs = append(errs, errors.New("channel.discord.token is required"))
		}
	case ChannelWhatsApp, ChannelConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown channel type %q", c.Channel.Type))
	}

	for i, name := range c.Plugins {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("plugins[%d] is empty", i))
		}
	}

	if _, err := bot.ParseSchedule(c.Bot.CronSchedule); err != nil {
		errs = append(errs, err)
	}
	if c.Bot.Staleness < 0 || c.Bot.HookTimeout < 0 {
		errs = append(errs, errors.New("bot durations must not be negative"))
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown logging format %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Runtime returns the bot runtime configuration.
func (c *Config) Runtime() bot.Config {
	return bot.Config{
		Prefix:            c.Prefix,
		Plugins:           slices.Clone(c.Plugins),
		Staleness:         c.Bot.Staleness,
		CronSchedule:      c.Bot.CronSchedule,
		HookTimeout:       c.Bot.HookTimeout,
		AdminConversation: c.Bot.AdminConversation,
	}
}

// ReloadNeeded reports whether next changes settings that a plugin reload
// applies: the plugin list or the prefix.
func (c *Config) ReloadNeeded(next *Config) bool {
	return c.Prefix != next.Prefix || !slices.Equal(c.Plugins, next.Plugins)
}
