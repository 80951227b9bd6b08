package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/domain"
)

// dm <peer> <text>: encrypt and send a direct message to <peer>.
func dmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dm <peer> <text>",
		Short: "Encrypt and send a direct message to a peer identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			connect(cmd)
			peer := domain.IdentityID(args[0])
			if _, err := wire.Messages.Open(cmd.Context(), peer); err != nil && !errors.Is(err, domain.ErrNotConnected) {
				return err
			}
			m, err := wire.Messages.Send(cmd.Context(), peer, args[1])
			if errors.Is(err, domain.ErrNotConnected) {
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s; it will be sent when connected\n", m.ID)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}

func conversationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversation <peer>",
		Short: "Print cached messages exchanged with a peer, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := wire.Messages.Conversation(cmd.Context(), domain.IdentityID(args[0]))
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s%s\n",
					time.UnixMilli(m.Timestamp).Format(time.DateTime), m.Sender.Short(), m.Content, queued(m.Pending))
			}
			return nil
		},
	}
}
