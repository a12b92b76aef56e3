package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hxhim/hxhim-go/pkg/resultset"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Flush every queue and sync local datastores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, closeFn, err := openHandle()
		if err != nil {
			return err
		}
		defer closeFn()

		set := h.Sync(context.Background())
		ok, total := 0, 0
		set.Each(func(n *resultset.Node) {
			total++
			if n.Status == resultset.StatusSuccess {
				ok++
			}
		})
		fmt.Printf("synced %d/%d\n", ok, total)
		return nil
	},
}
