package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
)

// pushRequestFile is the on-disk shape a push is described in (a JSON
// file listing the grid and rack/top configuration), decoded into
// plm.PushRequest for boundary validation before anything is executed.
type pushRequestFile struct {
	GridName            string   `json:"grid_name"`
	TopNumber           string   `json:"top_number"`
	TopName             string   `json:"top_name"`
	TopCategoryID       string   `json:"top_category_id"`
	RowCategoryID       string   `json:"row_category_id"`
	PositionAttributeID string   `json:"position_attribute_id"`
	RackNumbers         []string `json:"rack_numbers"`
}

func newPushCmd() *cobra.Command {
	var file string
	var yes bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Run the structured push pipeline for a grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading push request file: %w", err)
			}
			var reqFile pushRequestFile
			if err := json.Unmarshal(raw, &reqFile); err != nil {
				return fmt.Errorf("parsing push request file: %w", err)
			}

			racks := make([]plm.RackConfigRequest, 0, len(reqFile.RackNumbers))
			for _, n := range reqFile.RackNumbers {
				racks = append(racks, plm.RackConfigRequest{Number: n})
			}
			req := plm.PushRequest{
				GridName: reqFile.GridName, TopNumber: reqFile.TopNumber, TopName: reqFile.TopName,
				TopCategoryID: reqFile.TopCategoryID, RowCategoryID: reqFile.RowCategoryID,
				PositionAttributeID: reqFile.PositionAttributeID, Racks: racks,
			}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("invalid push request: %w", err)
			}

			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			// Fall back to the host-populated position_attribute_config
			// (SPEC_FULL.md §4.11) when the request file doesn't pin one.
			if req.PositionAttributeID == "" {
				req.PositionAttributeID = application.host.PositionAttributeID
			}

			return runPush(ctx, application, req, yes)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to a push request JSON file (required)")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the pre-flight confirmation prompt")
	cmd.MarkFlagRequired("file")
	return cmd
}

// runPush resolves the validated request against live sheets, runs
// pre-flight, and (absent --yes, after a confirmation) executes the
// pipeline, printing progress events as they arrive.
func runPush(ctx context.Context, a *app, req plm.PushRequest, yes bool) error {
	progress := make(chan plm.PushProgress, 32)
	pipeline := plm.NewPipeline(a.api, a.history, a.log, progress)

	go func() {
		for p := range progress {
			fmt.Printf("[%s] %s: %s\n", p.Phase, p.Number, p.Message)
		}
	}()

	in, err := resolvePushInput(ctx, a, req)
	if err != nil {
		return err
	}

	preflight, err := pipeline.Preflight(ctx, in)
	if err != nil {
		return fmt.Errorf("pre-flight failed: %w", err)
	}
	if !preflight.OK() {
		for _, e := range preflight.Errors {
			fmt.Fprintln(os.Stderr, "error:", e)
		}
		return fmt.Errorf("pre-flight failed with %d error(s)", len(preflight.Errors))
	}
	for _, w := range preflight.Warnings {
		fmt.Println("warning:", w)
	}

	if !yes && !confirm("Proceed with push?") {
		return fmt.Errorf("push cancelled")
	}

	result, err := pipeline.Run(ctx, in)
	if err != nil {
		fmt.Println("push failed, rolling back...")
		if _, rbErr := pipeline.Rollback(ctx, result); rbErr != nil {
			return fmt.Errorf("push failed (%w) and rollback also failed: %v", err, rbErr)
		}
		return fmt.Errorf("push failed and was rolled back: %w", err)
	}

	fmt.Printf("push complete: top %s created with %d row(s)\n", result.TopID, len(result.RowIDs))
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var resp string
	fmt.Scanln(&resp)
	return resp == "y" || resp == "Y"
}
