package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var rootID string
	var useBulk bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Load a multi-level BOM tree rooted at an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			if useBulk {
				result, err := application.loader.RunExport(ctx, rootID)
				if err != nil {
					return fmt.Errorf("bulk export failed: %w", err)
				}
				fmt.Printf("bulk export (%s shape) complete\n", result.Shape)
				printTree(result.Root, 0)
				return nil
			}

			tree, err := application.loader.LoadTree(ctx, rootID)
			if err != nil {
				return fmt.Errorf("loading BOM tree failed: %w", err)
			}
			printTree(tree, 0)
			return nil
		},
	}

	cmd.Flags().StringVar(&rootID, "root-id", "", "root item opaque id (required)")
	cmd.Flags().BoolVar(&useBulk, "bulk", false, "use the bulk-export fast path instead of the BFS tree walk")
	cmd.MarkFlagRequired("root-id")
	return cmd
}
