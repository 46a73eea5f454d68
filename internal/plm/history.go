package plm

import (
	"context"
	"time"

	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

// EventKind enumerates the Change History Log event types (spec.md §4.10).
type EventKind string

const (
	EventRackCreated      EventKind = "RACK_CREATED"
	EventStatusChange     EventKind = "STATUS_CHANGE"
	EventLocalEdit        EventKind = "LOCAL_EDIT"
	EventRefreshAccepted  EventKind = "REFRESH_ACCEPTED"
	EventRefreshDeclined  EventKind = "REFRESH_DECLINED"
	EventRefreshNoChanges EventKind = "REFRESH_NO_CHANGES"
	EventTopPush          EventKind = "TOP_PUSH"
	EventBOMPull          EventKind = "BOM_PULL"
	EventManualSync       EventKind = "MANUAL_SYNC"
	EventBatchCheck       EventKind = "BATCH_CHECK"
	EventError            EventKind = "ERROR"
	EventChecksumMismatch EventKind = "CHECKSUM_MISMATCH"
	EventMigration        EventKind = "MIGRATION"
	EventRevisionChange   EventKind = "REVISION_CHANGE"
	EventLifecycleChange  EventKind = "LIFECYCLE_CHANGE"
	EventRackCloned       EventKind = "RACK_CLONED"
	EventTemplateLoaded   EventKind = "TEMPLATE_LOADED"
)

// HistoryEvent is one append-only detail-section row (spec.md §3).
type HistoryEvent struct {
	Timestamp    time.Time
	RackNumber   string
	Kind         EventKind
	Actor        string
	StatusBefore SyncStatus
	StatusAfter  SyncStatus
	Summary      string
	Details      string
	SheetLink    string
}

// SummaryRow is one row of the history sheet's summary section.
type SummaryRow struct {
	RackNumber    string
	Name          string
	Status        SyncStatus
	ParentID      string
	CreatedAt     time.Time
	LastRefresh   time.Time
	LastSync      time.Time
	LastPush      time.Time
	Checksum      string
}

const historySheetName = "_ChangeHistory"

// historySummaryHeaderRow / historySummaryStartRow place the header on
// row 1 and the first summary row on row 2 of one protected sheet
// (spec.md §4.10). UpsertSummary rewrites a known rack's row in place and
// writes a new rack's row after the last used row; AppendEvent appends
// each detail event after the last used row as well, so summary and
// detail rows are interleaved in the order they were first written, with
// no separator row between them.
const (
	historySummaryHeaderRow = 1
	historySummaryStartRow  = 2
)

// HistoryRecorder is the Change History Log contract the push pipeline
// writes through. HistoryLog is the default, sheet-backed implementation;
// internal/historystore/postgres provides an optional durable alternative
// with the same shape for hosts that want query-able history outside the
// workbook.
type HistoryRecorder interface {
	AppendEvent(ctx context.Context, e HistoryEvent) error
	UpsertSummary(ctx context.Context, row SummaryRow) error
}

// HistoryLog is the sheet-backed Change History Log of spec.md §4.10: a
// dedicated, protected sheet with a summary section (one row per rack)
// and an append-only detail section.
type HistoryLog struct {
	store tabularstore.Store
}

// NewHistoryLog builds a HistoryLog over the given TabularStore,
// creating/protecting the sheet on first use.
func NewHistoryLog(store tabularstore.Store) *HistoryLog {
	return &HistoryLog{store: store}
}

func (h *HistoryLog) sheet(ctx context.Context) (tabularstore.Sheet, error) {
	sheet, err := h.store.Sheet(ctx, historySheetName)
	if err == nil {
		return sheet, nil
	}
	sheet, err = h.store.CreateSheet(ctx, historySheetName)
	if err != nil {
		return nil, err
	}
	if err := sheet.SetRange(ctx, historySummaryHeaderRow, 1, tabularstore.Range{{
		"Rack Number", "Name", "Status", "Opaque ID", "Created At", "Last Refresh", "Last Sync", "Last Push", "Checksum",
	}}); err != nil {
		return nil, err
	}
	if err := sheet.SetProtected(ctx, true); err != nil {
		return nil, err
	}
	return sheet, nil
}

// UpsertSummary writes or updates a rack's summary row. Each rack
// occupies a distinct row so summary writers never contend with each
// other (spec.md §5).
func (h *HistoryLog) UpsertSummary(ctx context.Context, row SummaryRow) error {
	sheet, err := h.sheet(ctx)
	if err != nil {
		return err
	}
	targetRow, err := h.findSummaryRow(ctx, sheet, row.RackNumber)
	if err != nil {
		return err
	}
	values := tabularstore.Range{{
		row.RackNumber, row.Name, string(row.Status), row.ParentID,
		formatTime(row.CreatedAt), formatTime(row.LastRefresh), formatTime(row.LastSync), formatTime(row.LastPush), row.Checksum,
	}}
	return sheet.SetRange(ctx, targetRow, 1, values)
}

func (h *HistoryLog) findSummaryRow(ctx context.Context, sheet tabularstore.Sheet, rackNumber string) (int, error) {
	rowCount, err := sheet.RowCount(ctx)
	if err != nil {
		return 0, err
	}
	if rowCount < historySummaryStartRow {
		return historySummaryStartRow, nil
	}
	rng, err := sheet.GetRange(ctx, historySummaryStartRow, 1, rowCount-historySummaryStartRow+1, 1)
	if err != nil {
		return 0, err
	}
	for i, row := range rng {
		if tabularstore.ToString(cellAt(row, 0)) == rackNumber {
			return historySummaryStartRow + i, nil
		}
	}
	return historySummaryStartRow + len(rng), nil
}

// AppendEvent appends one detail-section event row (spec.md §4.10).
func (h *HistoryLog) AppendEvent(ctx context.Context, e HistoryEvent) error {
	sheet, err := h.sheet(ctx)
	if err != nil {
		return err
	}
	return sheet.AppendRow(ctx, []tabularstore.Cell{
		formatTime(e.Timestamp), e.RackNumber, string(e.Kind), e.Actor,
		string(e.StatusBefore), string(e.StatusAfter), e.Summary, e.Details, e.SheetLink,
	})
}

// MultiRecorder fans writes out to several HistoryRecorders, used when a
// durable external backend (internal/historystore/postgres) runs
// alongside the default sheet-backed log rather than replacing it. The
// first error is returned after all recorders have been attempted, so
// one slow/unreachable backend can't silently swallow the others' writes.
type MultiRecorder []HistoryRecorder

func (m MultiRecorder) AppendEvent(ctx context.Context, e HistoryEvent) error {
	var firstErr error
	for _, r := range m {
		if err := r.AppendEvent(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m MultiRecorder) UpsertSummary(ctx context.Context, row SummaryRow) error {
	var firstErr error
	for _, r := range m {
		if err := r.UpsertSummary(ctx, row); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ReconcileSummary is the integrity tool of spec.md §4.10: it verifies
// every rack configuration sheet is represented in the summary section
// and reports orphan summary rows. Racks missing from the summary get a
// blank summary row; orphan rows are returned to the caller and are not
// removed from the sheet.
func ReconcileSummary(ctx context.Context, log *HistoryLog, rackNumbers []string) ([]string, []string, error) {
	sheet, err := log.sheet(ctx)
	if err != nil {
		return nil, nil, err
	}
	rowCount, err := sheet.RowCount(ctx)
	if err != nil {
		return nil, nil, err
	}
	present := make(map[string]bool)
	if rowCount >= historySummaryStartRow {
		rng, err := sheet.GetRange(ctx, historySummaryStartRow, 1, rowCount-historySummaryStartRow+1, 1)
		if err != nil {
			return nil, nil, err
		}
		for _, row := range rng {
			if n := tabularstore.ToString(cellAt(row, 0)); n != "" {
				present[n] = true
			}
		}
	}

	expected := make(map[string]bool, len(rackNumbers))
	for _, n := range rackNumbers {
		expected[n] = true
	}

	var missing, orphans []string
	for _, n := range rackNumbers {
		if !present[n] {
			missing = append(missing, n)
			_ = log.UpsertSummary(ctx, SummaryRow{RackNumber: n})
		}
	}
	for n := range present {
		if !expected[n] {
			orphans = append(orphans, n)
		}
	}
	return missing, orphans, nil
}
