package plm

import (
	"context"
	"log/slog"

	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

// StatusDetector implements spec.md §4.6: the per-rack checksum, local-
// edit detection, and batch remote-comparison status check.
type StatusDetector struct {
	api    *API
	logger *slog.Logger
}

// NewStatusDetector builds a StatusDetector over api.
func NewStatusDetector(api *API, logger *slog.Logger) *StatusDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusDetector{api: api, logger: logger}
}

// OnEdit implements the onEdit-driven local-change detection: an edit to
// row >= 3 of a SYNCED rack sheet recomputes the checksum and, if
// different, transitions to LOCAL_MODIFIED (spec.md §4.6).
func (d *StatusDetector) OnEdit(ctx context.Context, sheet tabularstore.Sheet, editedRow int) (RackMeta, bool, error) {
	meta, err := ReadRackMeta(ctx, sheet)
	if err != nil {
		return meta, false, err
	}
	if editedRow < 3 || meta.Status != StatusSynced {
		return meta, false, nil
	}
	children, err := ReadRackChildren(ctx, sheet, d.logger)
	if err != nil {
		return meta, false, err
	}
	newChecksum := ComputeChecksum(children)
	if newChecksum == meta.Checksum {
		return meta, false, nil
	}
	meta.Status = StatusLocalModified
	if err := WriteRackMeta(ctx, sheet, meta); err != nil {
		return meta, false, err
	}
	return meta, true, nil
}

// RackStatusResult is one rack's outcome from a batch status check.
type RackStatusResult struct {
	RackNumber string
	Meta       RackMeta
	Diff       Diff
	NewStatus  SyncStatus
}

// BatchCheck implements spec.md §4.6's batch status check: for each rack
// with a parent opaque id, pre-warm the cache once, fetch the remote
// BOM, run the diff engine, and classify. PLACEHOLDER racks skip remote
// comparison entirely but are still returned (with their existing
// status) so callers can render a visual indicator for them.
func (d *StatusDetector) BatchCheck(ctx context.Context, racks map[string]tabularstore.Sheet) ([]RackStatusResult, error) {
	if err := d.api.cache.Refresh(ctx, d.api); err != nil {
		d.logger.Warn("batch status check: cache pre-warm failed, continuing with stale cache", "error", err)
	}

	results := make([]RackStatusResult, 0, len(racks))
	for number, sheet := range racks {
		meta, err := ReadRackMeta(ctx, sheet)
		if err != nil {
			return nil, err
		}
		if meta.Status == StatusPlaceholder {
			results = append(results, RackStatusResult{RackNumber: number, Meta: meta, NewStatus: StatusPlaceholder})
			continue
		}

		children, err := ReadRackChildren(ctx, sheet, d.logger)
		if err != nil {
			return nil, err
		}
		localChecksum := ComputeChecksum(children)

		remote, err := d.api.GetBOMLines(ctx, meta.ParentID)
		if err != nil {
			meta.Status = StatusError
			_ = WriteRackMeta(ctx, sheet, meta)
			results = append(results, RackStatusResult{RackNumber: number, Meta: meta, NewStatus: StatusError})
			continue
		}
		local := resolveLocalLines(children, d.api)
		diff := ComputeDiff(local, remote, "", "")

		var newStatus SyncStatus
		switch {
		case diff.Empty():
			newStatus = StatusSynced
		case localChecksum == meta.Checksum:
			newStatus = StatusRemoteModified
		default:
			newStatus = StatusLocalModified
		}

		meta.Status = newStatus
		if newStatus == StatusSynced {
			meta.Checksum = localChecksum
		}
		if err := WriteRackMeta(ctx, sheet, meta); err != nil {
			return nil, err
		}
		results = append(results, RackStatusResult{RackNumber: number, Meta: meta, Diff: diff, NewStatus: newStatus})
	}
	return results, nil
}

// resolveLocalLines turns rack-sheet child rows into BOMLine values
// keyed by resolved cache opaque id, the way the diff engine requires
// (spec.md §9 "Diff stability"). Children unresolved in the cache are
// skipped from the comparison; push validates their existence
// separately at pre-flight.
func resolveLocalLines(children []RackChild, api *API) []BOMLine {
	lines := make([]BOMLine, 0, len(children))
	for _, c := range children {
		entry, ok := api.cache.Lookup(c.Number)
		if !ok {
			continue
		}
		lines = append(lines, BOMLine{ChildItemID: entry.ID, ChildNumber: c.Number, Quantity: c.Quantity, Revision: c.Revision})
	}
	return lines
}
