package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch everything missed since the last sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := wire.CatchUp(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rooms %d, merged %d, failed %d, unreachable rooms %d\n",
				rep.Rooms, rep.Applied, rep.Failed, rep.RoomErrors)
			return nil
		},
	}
}
