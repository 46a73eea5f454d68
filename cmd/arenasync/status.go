package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
)

func newStatusCmd() *cobra.Command {
	var racks []string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Run a batch status check across rack sheets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			sheets, err := openRackSheets(ctx, application.sheets, racks)
			if err != nil {
				return err
			}

			detector := plm.NewStatusDetector(application.api, application.log)
			results, err := detector.BatchCheck(ctx, sheets)
			if err != nil {
				return fmt.Errorf("batch status check failed: %w", err)
			}

			for _, r := range results {
				fmt.Printf("%-20s %-16s add=%d remove=%d qty-changes=%d\n",
					r.RackNumber, r.NewStatus, len(r.Diff.ToAdd), len(r.Diff.ToRemove), len(r.Diff.ToUpdate))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&racks, "rack", nil, "rack numbers to check (repeatable)")
	cmd.MarkFlagRequired("rack")
	return cmd
}
