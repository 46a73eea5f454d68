package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
)

func newSyncCmd() *cobra.Command {
	var rackNumber string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Diff one rack sheet against its remote BOM and apply the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			sheet, err := application.sheets.Sheet(ctx, rackNumber)
			if err != nil {
				return fmt.Errorf("opening rack sheet %q: %w", rackNumber, err)
			}
			meta, err := plm.ReadRackMeta(ctx, sheet)
			if err != nil {
				return err
			}
			if meta.ParentID == "" {
				return fmt.Errorf("rack %q has no parent item id; push it first", rackNumber)
			}

			children, err := plm.ReadRackChildren(ctx, sheet, application.log)
			if err != nil {
				return err
			}
			remote, err := application.api.GetBOMLines(ctx, meta.ParentID)
			if err != nil {
				return fmt.Errorf("fetching remote BOM: %w", err)
			}
			local := make([]plm.BOMLine, 0, len(children))
			for _, c := range children {
				entry, ok := application.api.LookupItem(c.Number)
				if !ok {
					return fmt.Errorf("child %q not found in cache; run a cache refresh first", c.Number)
				}
				local = append(local, plm.BOMLine{ChildItemID: entry.ID, ChildNumber: c.Number, Quantity: c.Quantity, Revision: c.Revision})
			}

			diff := plm.ComputeDiff(local, remote, "", "")
			if diff.Empty() {
				fmt.Println("no changes to sync")
				return nil
			}

			result, err := plm.SmartSync(ctx, application.api, meta.ParentID, diff)
			if err != nil {
				return fmt.Errorf("smart sync failed: %w", err)
			}
			fmt.Printf("synced %s: added=%d updated=%d removed=%d delete+create-fallback=%d\n",
				rackNumber, result.Added, result.Updated, result.Removed, result.FellBackToDeleteCreate)

			meta.Status = plm.StatusSynced
			meta.Checksum = plm.ComputeChecksum(children)
			return plm.WriteRackMeta(ctx, sheet, meta)
		},
	}

	cmd.Flags().StringVar(&rackNumber, "rack", "", "rack number to sync (required)")
	cmd.MarkFlagRequired("rack")
	return cmd
}
