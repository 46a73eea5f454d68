package plm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

// SyncStatus is the per-rack sheet enumeration of spec.md §3.
type SyncStatus string

const (
	StatusPlaceholder     SyncStatus = "PLACEHOLDER"
	StatusSynced          SyncStatus = "SYNCED"
	StatusLocalModified   SyncStatus = "LOCAL_MODIFIED"
	StatusRemoteModified  SyncStatus = "REMOTE_MODIFIED"
	StatusError           SyncStatus = "ERROR"
)

// metadata row 1 column layout, 1-based.
const (
	colSentinel       = 1
	colParentNumber   = 2
	colParentName     = 3
	colParentDesc     = 4
	colSyncStatus     = 5
	colParentID       = 6
	colLastSyncAt     = 7
	colChecksum       = 8
	metadataSentinel  = "__RACK_SHEET__"
)

// RackMeta is the fixed row-1 metadata of a rack configuration sheet
// (spec.md §3).
type RackMeta struct {
	ParentNumber string
	ParentName   string
	ParentDesc   string
	Status       SyncStatus
	ParentID     string
	LastSyncAt   time.Time
	Checksum     string
}

// ReadRackMeta reads row 1 of a rack configuration sheet.
func ReadRackMeta(ctx context.Context, sheet tabularstore.Sheet) (RackMeta, error) {
	rng, err := sheet.GetRange(ctx, 1, 1, 1, 8)
	if err != nil {
		return RackMeta{}, err
	}
	row := rng[0]
	var meta RackMeta
	meta.ParentNumber = tabularstore.ToString(cellAt(row, colParentNumber-1))
	meta.ParentName = tabularstore.ToString(cellAt(row, colParentName-1))
	meta.ParentDesc = tabularstore.ToString(cellAt(row, colParentDesc-1))
	meta.Status = SyncStatus(tabularstore.ToString(cellAt(row, colSyncStatus-1)))
	if meta.Status == "" {
		meta.Status = StatusPlaceholder
	}
	meta.ParentID = tabularstore.ToString(cellAt(row, colParentID-1))
	if ts := tabularstore.ToString(cellAt(row, colLastSyncAt-1)); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			meta.LastSyncAt = t
		}
	}
	meta.Checksum = tabularstore.ToString(cellAt(row, colChecksum-1))
	return meta, nil
}

// WriteRackMeta writes row 1 back to the sheet.
func WriteRackMeta(ctx context.Context, sheet tabularstore.Sheet, meta RackMeta) error {
	lastSync := ""
	if !meta.LastSyncAt.IsZero() {
		lastSync = meta.LastSyncAt.Format(time.RFC3339)
	}
	values := tabularstore.Range{{
		metadataSentinel, meta.ParentNumber, meta.ParentName, meta.ParentDesc,
		string(meta.Status), meta.ParentID, lastSync, meta.Checksum,
	}}
	return sheet.SetRange(ctx, 1, 1, values)
}

// ComputeChecksum implements spec.md §4.6: a stable serialization
// "<number>:<qty>:<revision>" joined by "|" across data rows, in sheet
// order. Computed by the push pipeline when it records a rack as synced
// and by the status detector when it compares a rack against that value.
func ComputeChecksum(children []RackChild) string {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		parts = append(parts, fmt.Sprintf("%s:%d:%s", c.Number, c.Quantity, c.Revision))
	}
	return strings.Join(parts, "|")
}

// ValidPlacementStatus is the invariant of spec.md §3: status !=
// PLACEHOLDER implies a non-empty parent opaque id, and vice versa.
func ValidPlacementStatus(meta RackMeta) bool {
	if meta.Status == StatusPlaceholder {
		return meta.ParentID == ""
	}
	return meta.ParentID != ""
}

// NormalizeRackNumber implements the case-insensitive, whitespace-
// trimmed comparison pre-flight uses to match grid placements to
// configuration sheets (spec.md §4.8.1).
func NormalizeRackNumber(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
