package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/resultset"
)

func init() {
	rootCmd.AddCommand(putCmd)
}

var putCmd = &cobra.Command{
	Use:   "put <subject> <predicate> <object>",
	Short: "Put one triple and flush it immediately",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, closeFn, err := openHandle()
		if err != nil {
			return err
		}
		defer closeFn()

		h.Put(strBlob(args[0]), strBlob(args[1]), strBlob(args[2]))
		set := h.FlushPuts(context.Background())

		set.GoToHead()
		n := set.Current()
		if n == nil || n.Status != resultset.StatusSuccess {
			return fmt.Errorf("put failed")
		}
		fmt.Println("OK")
		return nil
	},
}

func strBlob(s string) blob.Blob {
	return blob.NewOwning([]byte(s), blob.Byte)
}
