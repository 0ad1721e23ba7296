package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/polaris/pkg/polaris/channels/whatsapp"
)

// newPairCmd creates the `polaris pair` command that links a WhatsApp
// device.
func newPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Link Polaris to a WhatsApp account",
		Long: `Start the WhatsApp device pairing flow. Every QR code payload is printed
as it is issued; render it with any QR tool and scan it from WhatsApp under
Settings > Linked devices. The session is stored in the configured
whatsapp.database_path and reused by serve.`,
		Args: cobra.NoArgs,
		RunE: runPair,
	}
}

func runPair(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wa := whatsapp.New(cfg.Channel.WhatsApp, logger)
	defer wa.Disconnect()

	out := cmd.OutOrStdout()
	err = wa.Pair(ctx, func(code string) {
		fmt.Fprintln(out, "Scan this code from WhatsApp > Linked devices:")
		fmt.Fprintln(out, code)
		fmt.Fprintln(out)
	})
	if err != nil {
		return fmt.Errorf("pairing: %w", err)
	}
	fmt.Fprintln(out, "Device linked. Run `polaris serve` with channel type whatsapp.")
	return nil
}
