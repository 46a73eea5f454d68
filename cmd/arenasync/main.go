package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "arenasync",
		Short: "Rack BOM sync engine CLI",
		Long:  "Synchronizes rack configuration sheets against the PLM, consolidates grid placements into BOMs, and tracks sync status.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional, env vars and defaults otherwise)")

	root.AddCommand(
		newSyncCmd(),
		newPushCmd(),
		newStatusCmd(),
		newConsolidateCmd(),
		newCacheCmd(),
		newExportCmd(),
		newServeCmd(),
	)
	return root
}
