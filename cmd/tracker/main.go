package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "tracker",
		Short: "aquatrack is a high-throughput BitTorrent tracker",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(e2eCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
