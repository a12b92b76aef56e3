package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/resultset"
)

func init() {
	rootCmd.AddCommand(getCmd)
}

var getCmd = &cobra.Command{
	Use:   "get <subject> <predicate>",
	Short: "Get one triple's object and flush it immediately",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, closeFn, err := openHandle()
		if err != nil {
			return err
		}
		defer closeFn()

		h.Get(strBlob(args[0]), strBlob(args[1]), blob.Byte)
		set := h.FlushGets(context.Background())

		set.GoToHead()
		n := set.Current()
		if n == nil || n.Status != resultset.StatusSuccess {
			return fmt.Errorf("no such triple")
		}
		fmt.Println(string(n.Object.Bytes()))
		return nil
	},
}
