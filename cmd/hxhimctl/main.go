package main

import (
	"os"

	"github.com/hxhim/hxhim-go/cmd/hxhimctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
