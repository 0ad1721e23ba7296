package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/polaris/pkg/polaris/bot"
	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/config"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

// newServeCmd creates the `polaris serve` command that runs the bot.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the configured channel and run the bot",
		Long: `Start Polaris on the configured channel and dispatch messages to the
configured plugins until interrupted. Changes to the plugin list or the
command prefix in the config file are applied without a restart.

Examples:
  polaris serve
  polaris serve --channel console
  polaris serve --config ./polaris.yaml`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("channel", "", "override the channel type (telegram, discord, whatsapp, console)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if override, _ := cmd.Flags().GetString("channel"); override != "" {
		cfg.Channel.Type = override
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := newLogger(cmd, cfg)

	ch, err := newChannel(cfg, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store failed", "error", err)
		}
	}()

	b, err := bot.New(cfg.Runtime(), ch, st, logger, bot.WithSources(pluginSources(cfg, logger)...))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Hot reload of the plugin list and prefix.
	stopWatcher := func() {}
	if configPath != "" {
		var mu sync.Mutex
		current := cfg
		watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
			mu.Lock()
			defer mu.Unlock()
			if !current.ReloadNeeded(next) {
				logger.Info("config changed; restart to apply settings other than plugins and prefix")
				current = next
				return
			}
			report, err := b.Reload(ctx, next.Plugins, next.Prefix)
			if err != nil {
				logger.Info("config change ignored", "error", err)
				return
			}
			logger.Info("plugins reloaded from config",
				"loaded", len(report.Loaded), "failed", len(report.Failed), "prefix", next.Prefix)
			current = next
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher not started", "error", err)
		} else {
			stopWatcher = watcher.Stop
			logger.Info("config watcher started", "path", configPath)
		}
	}

	logger.Info("polaris starting",
		"channel", ch.Name(),
		"prefix", cfg.Prefix,
		"plugins", cfg.Plugins,
		"store", cfg.Store.Backend,
	)

	err = b.Run(ctx)
	stopWatcher()
	switch {
	case errors.Is(err, channels.ErrNotPaired):
		return fmt.Errorf("%w: run `polaris pair` to link this device first", err)
	case err != nil:
		return err
	}

	stats := b.Stats()
	inbox, outbox := b.Pending()
	logger.Info("polaris stopped",
		"received", stats.Received,
		"dispatched", stats.Dispatched,
		"delivered", stats.Delivered,
		"hook_errors", stats.HookErrors,
		"pending_inbox", inbox,
		"pending_outbox", outbox,
	)
	return nil
}
