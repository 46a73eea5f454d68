package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
)

func newConsolidateCmd() *cobra.Command {
	var gridName string

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Flatten a grid's rack placements into a quantity-aggregated BOM",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			grid, err := application.sheets.Sheet(ctx, gridName)
			if err != nil {
				return fmt.Errorf("opening grid sheet %q: %w", gridName, err)
			}
			_, placements, err := plm.ScanGrid(ctx, grid)
			if err != nil {
				return fmt.Errorf("scanning grid: %w", err)
			}

			rackNumbers := make([]string, 0, len(placements))
			for n := range placements {
				rackNumbers = append(rackNumbers, n)
			}
			sheets, err := openRackSheets(ctx, application.sheets, rackNumbers)
			if err != nil {
				return err
			}

			rackChildren := make(map[string][]plm.RackChild, len(sheets))
			for n, sheet := range sheets {
				children, err := plm.ReadRackChildren(ctx, sheet, application.log)
				if err != nil {
					return fmt.Errorf("reading rack children %q: %w", n, err)
				}
				rackChildren[n] = children
			}

			levelMap, leafLevel := application.cfg.Push.LevelMap, application.cfg.Push.LeafLevel
			if len(application.host.LevelMap) > 0 {
				levelMap, leafLevel = application.host.LevelMap, application.host.LeafLevel
			}
			lines, summary := plm.Consolidate(gridName, placements, rackChildren, levelMap, leafLevel)

			fmt.Printf("%s: %d unique item(s), %d total placement(s)\n", summary.SourceGrid, summary.TotalUniqueItems, summary.TotalPlacements)
			for _, l := range lines {
				fmt.Printf("%-40s qty=%d category=%s\n", plm.IndentedNumber(l), l.Quantity, l.CategoryName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gridName, "grid", "", "grid sheet name (required)")
	cmd.MarkFlagRequired("grid")
	return cmd
}
