package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"courier/internal/app"
)

// EnvPassphrase supplies the vault passphrase when --passphrase is absent.
const EnvPassphrase = "COURIER_PASSPHRASE"

var (
	configPath string
	passphrase string
	relayURL   string
	verbose    bool

	wire *app.Wire
)

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "courier",
		Short:        "End-to-end encrypted messaging and community feed client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if relayURL != "" {
				cfg.RelayURL, cfg.RealtimeURL, cfg.PollURL = relayURL, "", ""
				if err := cfg.Resolve(); err != nil {
					return err
				}
			}
			if verbose {
				cfg.Log.Level = "debug"
			}
			log, err := app.NewLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}

			if passphrase == "" {
				passphrase = os.Getenv(EnvPassphrase)
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p or %s)", EnvPassphrase)
			}
			wire, err = app.NewWire(cfg, passphrase, log)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.courier/config.yaml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local vault")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		initCmd(), fingerprintCmd(), publishKeyCmd(),
		createCommunityCmd(), communitiesCmd(), joinCmd(), leaveCmd(),
		postsCmd(), postCmd(), likeCmd(), repostCmd(), moderateCmd(),
		dmCmd(), conversationCmd(),
		syncCmd(), listenCmd(),
	)
	return root
}

// connect brings the real-time channel up for commands that send. A
// connection failure is reported but not fatal: writes stay in the cache.
func connect(cmd *cobra.Command) {
	if err := wire.Foreground(cmd.Context()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: offline (%v)\n", err)
		}
		return
	}
	if err := wire.Flush(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: queued items not sent (%v)\n", err)
	}
}

func queued(pending bool) string {
	if pending {
		return "  [queued]"
	}
	return ""
}
