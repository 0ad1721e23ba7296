package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/polaris/pkg/polaris/config"
)

// newTokenCmd creates the `polaris token` command group.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage channel tokens in the OS keyring",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <telegram|discord>",
		Short: "Store a bot token in the OS keyring",
		Long: `Read a bot token from the terminal (input is hidden) or stdin and store
it in the OS keyring. Tokens left empty in the config file are resolved
from POLARIS_<CHANNEL>_TOKEN first, then from the keyring.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{config.ChannelTelegram, config.ChannelDiscord},
		RunE:      runTokenSet,
	})
	return cmd
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	channel := strings.ToLower(args[0])
	if channel != config.ChannelTelegram && channel != config.ChannelDiscord {
		return fmt.Errorf("channel %q has no token", args[0])
	}

	token, err := readSecret(cmd, fmt.Sprintf("%s token: ", channel))
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("empty token")
	}
	if err := config.StoreToken(channel, token); err != nil {
		return fmt.Errorf("storing token in keyring: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token stored in keyring as %s.\n", config.TokenKeyringKey(channel))
	return nil
}

// readSecret reads a line without echo on a terminal, or plainly from a
// pipe.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
