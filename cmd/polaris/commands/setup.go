package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/channels/console"
	"github.com/jholhewres/polaris/pkg/polaris/channels/discord"
	"github.com/jholhewres/polaris/pkg/polaris/channels/telegram"
	"github.com/jholhewres/polaris/pkg/polaris/channels/whatsapp"
	"github.com/jholhewres/polaris/pkg/polaris/config"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/plugins/lua"

	// Bundled plugins register themselves.
	_ "github.com/jholhewres/polaris/pkg/polaris/plugins/builtin"
)

// resolveConfig loads the file named by --config, or the first file found in
// the standard locations. Without either, defaults are used and the
// returned path is empty.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = config.Find()
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

// newLogger builds the process logger. Logs go to stderr so the console
// channel owns stdout. Without an explicit format, a terminal gets text and
// anything else gets JSON.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Logging.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	format := cfg.Logging.Format
	if format == "" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("instance", cfg.Name)
}

// newChannel creates the transport selected by the config.
func newChannel(cfg *config.Config, logger *slog.Logger) (channels.Channel, error) {
	switch strings.ToLower(cfg.Channel.Type) {
	case config.ChannelTelegram:
		return telegram.New(cfg.Channel.Telegram, logger), nil
	case config.ChannelDiscord:
		return discord.New(cfg.Channel.Discord, logger), nil
	case config.ChannelWhatsApp:
		return whatsapp.New(cfg.Channel.WhatsApp, logger), nil
	case config.ChannelConsole:
		return console.New(cfg.Channel.Console, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown channel type %q", config.ErrInvalidConfig, cfg.Channel.Type)
	}
}

// pluginSources returns the sources plugins are resolved from, in order:
// bundled plugins, native .so files, then Lua scripts.
func pluginSources(cfg *config.Config, logger *slog.Logger) []plugins.Source {
	sources := []plugins.Source{plugins.Builtin()}
	if cfg.PluginDir != "" {
		sources = append(sources, plugins.NewNativeSource(cfg.PluginDir, logger))
	}
	if cfg.ScriptDir != "" {
		sources = append(sources, lua.NewSource(cfg.ScriptDir, cfg.ScriptTimeout, logger))
	}
	return sources
}
