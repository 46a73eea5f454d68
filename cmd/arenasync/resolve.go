package main

import (
	"context"
	"fmt"

	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

// resolvePushInput opens the grid sheet and every named rack's
// configuration sheet and assembles plm.PushInput, the step between a
// validated plm.PushRequest and Pipeline.Run.
func resolvePushInput(ctx context.Context, a *app, req plm.PushRequest) (plm.PushInput, error) {
	grid, err := a.sheets.Sheet(ctx, req.GridName)
	if err != nil {
		return plm.PushInput{}, fmt.Errorf("opening grid sheet %q: %w", req.GridName, err)
	}
	rows, _, err := plm.ScanGrid(ctx, grid)
	if err != nil {
		return plm.PushInput{}, fmt.Errorf("scanning grid %q: %w", req.GridName, err)
	}

	racks := make(map[string]plm.RackInput, len(req.Racks))
	for _, r := range req.Racks {
		norm := plm.NormalizeRackNumber(r.Number)
		sheet, err := a.sheets.Sheet(ctx, r.Number)
		if err != nil {
			return plm.PushInput{}, fmt.Errorf("opening rack sheet %q: %w", r.Number, err)
		}
		meta, err := plm.ReadRackMeta(ctx, sheet)
		if err != nil {
			return plm.PushInput{}, fmt.Errorf("reading rack metadata %q: %w", r.Number, err)
		}
		children, err := plm.ReadRackChildren(ctx, sheet, a.log)
		if err != nil {
			return plm.PushInput{}, fmt.Errorf("reading rack children %q: %w", r.Number, err)
		}
		racks[norm] = plm.RackInput{Number: r.Number, Sheet: sheet, Meta: meta, Children: children}
	}

	return plm.PushInput{
		GridName: req.GridName, Rows: rows, Racks: racks,
		TopNumber: req.TopNumber, TopName: req.TopName,
		TopCategoryID: req.TopCategoryID, RowCategoryID: req.RowCategoryID,
		PositionAttributeID: req.PositionAttributeID,
	}, nil
}

// openRackSheets opens every rack configuration sheet by number, for
// subcommands (status, consolidate) that operate across a whole grid
// without going through the full push-request shape.
func openRackSheets(ctx context.Context, store tabularstore.Store, numbers []string) (map[string]tabularstore.Sheet, error) {
	out := make(map[string]tabularstore.Sheet, len(numbers))
	for _, n := range numbers {
		sheet, err := store.Sheet(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("opening rack sheet %q: %w", n, err)
		}
		out[plm.NormalizeRackNumber(n)] = sheet
	}
	return out, nil
}
