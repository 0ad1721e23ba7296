package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/polaris/pkg/polaris/bot"
	"github.com/jholhewres/polaris/pkg/polaris/config"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/plugins/lua"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

// newPluginsCmd creates the `polaris plugins` command.
func newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List plugins with their capabilities and commands",
		Long: `Load the configured plugins (or every available plugin with --all)
against an in-memory store and print what each one supports. Nothing is
connected and no persisted data is touched.`,
		Args: cobra.NoArgs,
		RunE: runPlugins,
	}
	cmd.Flags().Bool("all", false, "list every available plugin, not only the configured ones")
	return cmd
}

func runPlugins(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	names := cfg.Plugins
	if all, _ := cmd.Flags().GetBool("all"); all {
		names = availablePlugins(cfg)
	}

	ch, err := newChannel(cfg, logger)
	if err != nil {
		return err
	}
	b, err := bot.New(cfg.Runtime(), ch, store.NewMemory(), logger, bot.WithSources(pluginSources(cfg, logger)...))
	if err != nil {
		return err
	}
	set, report := b.Registry().Load(context.Background(), names)

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tCAPABILITIES\tCOMMANDS")
	for _, d := range set.Plugins {
		var usages []string
		for _, c := range d.Commands() {
			if !c.Hidden {
				usages = append(usages, plugins.FirstWord(c.Usage(cfg.Prefix)))
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Source, d.Capabilities, strings.Join(usages, " "))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Failed) > 0 {
		failed := make([]string, 0, len(report.Failed))
		for name := range report.Failed {
			failed = append(failed, name)
		}
		sort.Strings(failed)
		fmt.Fprintln(out)
		for _, name := range failed {
			fmt.Fprintf(out, "%s: %v\n", name, report.Failed[name])
		}
	}
	return b.Registry().Close()
}

// availablePlugins lists every plugin name the configured sources can
// provide, deduplicated in source order.
func availablePlugins(cfg *config.Config) []string {
	names := plugins.Registered()
	if cfg.PluginDir != "" {
		matches, _ := filepath.Glob(filepath.Join(cfg.PluginDir, "*.so"))
		for _, m := range matches {
			names = append(names, strings.TrimSuffix(filepath.Base(m), ".so"))
		}
	}
	if cfg.ScriptDir != "" {
		scripts, err := lua.NewSource(cfg.ScriptDir, cfg.ScriptTimeout, nil).Scripts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "listing scripts: %v\n", err)
		}
		names = append(names, scripts...)
	}

	seen := make(map[string]bool, len(names))
	return slices.DeleteFunc(names, func(n string) bool {
		dup := seen[n]
		seen[n] = true
		return dup
	})
}
