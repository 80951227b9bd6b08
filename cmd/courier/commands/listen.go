package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/domain"
)

// listen keeps the client in the foreground and prints live activity until
// interrupted.
func listenCmd() *cobra.Command {
	var peers []string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print incoming posts and messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			wire.Reconciler.OnLive = func(item domain.SyncItem) { printLive(ctx, out, item) }
			offState := wire.Conn.Subscribe(domain.EventStateChanged, func(ev domain.Event) {
				fmt.Fprintf(out, "-- %s\n", ev.State)
			})
			defer offState()
			offDegraded := wire.Conn.Subscribe(domain.EventTransportDegraded, func(domain.Event) {
				fmt.Fprintln(out, "-- degraded to long-polling")
			})
			defer offDegraded()
			offTyping := wire.Conn.Subscribe(domain.EventUserTyping, func(ev domain.Event) {
				var n domain.TypingNotice
				if ev.Decode(&n) == nil && n.Typing {
					fmt.Fprintf(out, "%s is typing in %s\n", n.Sender.Short(), ev.Room)
				}
			})
			defer offTyping()

			for _, p := range peers {
				if _, err := wire.Messages.Open(ctx, domain.IdentityID(p)); err != nil && !errors.Is(err, domain.ErrNotConnected) {
					return err
				}
			}
			connect(cmd)

			<-ctx.Done()
			wire.Background()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&peers, "peer", nil, "also listen on the direct channel with this identity (repeatable)")
	return cmd
}

func printLive(ctx context.Context, out io.Writer, item domain.SyncItem) {
	stamp := time.UnixMilli(item.Timestamp).Format(time.TimeOnly)
	switch item.Kind {
	case domain.KindPost:
		p, err := wire.Cache.GetPost(ctx, domain.PostID(item.ID))
		if err != nil {
			return
		}
		fmt.Fprintf(out, "[%s] %s in %s: %s\n", stamp, p.Author.Short(), p.CommunityID, p.Content)
	case domain.KindMessage:
		msgs, err := wire.Cache.ListMessages(ctx, item.Channel)
		if err != nil {
			return
		}
		for _, m := range msgs {
			if string(m.ID) == item.ID {
				fmt.Fprintf(out, "[%s] %s: %s\n", stamp, m.Sender.Short(), m.Content)
				return
			}
		}
	}
}
