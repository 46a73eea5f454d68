package plm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/wallcrawler78/arena-sheets-sync/internal/resilience"
	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

// CreationKind classifies one Creation Context entry (spec.md §3).
type CreationKind string

const (
	CreationLeaf CreationKind = "leaf"
	CreationRow  CreationKind = "row"
	CreationTop  CreationKind = "top"
)

// CreationEntry is one append-only creation-context entry, read in
// reverse for rollback (spec.md §3).
type CreationEntry struct {
	Kind     CreationKind
	Number   string
	OpaqueID string
}

// PushProgress is published on Pipeline's progress channel as each phase
// advances (SPEC_FULL.md §4.8: bridged to a websocket stream by callers
// that want live UI progress).
type PushProgress struct {
	Phase   CreationKind
	Number  string
	Message string
}

// RackInput is one rack's pre-flight/creation input: its sheet, parsed
// metadata, and child lines.
type RackInput struct {
	Number   string
	Sheet    tabularstore.Sheet
	Meta     RackMeta
	Children []RackChild
}

// PreflightResult is the return shape of spec.md §4.8.1.
type PreflightResult struct {
	Errors   []string
	Warnings []string
}

// OK reports whether pre-flight passed (no errors; warnings still allow
// proceeding after user confirmation).
func (r PreflightResult) OK() bool { return len(r.Errors) == 0 }

// PushInput bundles everything a push needs: the grid, every rack's
// input, the category to create new items under, and the position
// attribute configuration (spec.md §4.8).
type PushInput struct {
	GridName            string
	Rows                []RowPlacement
	Racks               map[string]RackInput // keyed by normalized rack number
	TopNumber           string
	TopName             string
	TopCategoryID       string
	RowCategoryID       string
	PositionAttributeID string // empty if not configured
}

// Pipeline implements the Structured Push Pipeline of spec.md §4.8:
// pre-flight validation, leaf->row->top creation, and reverse-order
// rollback on failure.
type Pipeline struct {
	api     *API
	history HistoryRecorder
	logger  *slog.Logger
	Progress chan<- PushProgress
}

// NewPipeline builds a Pipeline. progress may be nil if the caller does
// not want live progress events. history may be a HistoryLog, a
// postgres.Store, or a fan-out of both (see MultiRecorder).
func NewPipeline(api *API, history HistoryRecorder, logger *slog.Logger, progress chan<- PushProgress) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{api: api, history: history, logger: logger, Progress: progress}
}

func (p *Pipeline) emit(phase CreationKind, number, msg string) {
	if p.Progress == nil {
		return
	}
	select {
	case p.Progress <- PushProgress{Phase: phase, Number: number, Message: msg}:
	default:
	}
}

// Preflight implements spec.md §4.8.1: blocks with zero side effects.
func (p *Pipeline) Preflight(ctx context.Context, in PushInput) (PreflightResult, error) {
	var res PreflightResult

	if err := p.api.ProbeWorkspace(ctx); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("session unreachable: %v", err))
		return res, nil
	}

	if len(in.Rows) == 0 {
		res.Errors = append(res.Errors, "grid sheet has no placements")
	}
	if in.PositionAttributeID == "" {
		res.Warnings = append(res.Warnings, "no position attribute configured; level-1 lines will not carry position values")
	}

	placed := make(map[string]bool)
	for _, row := range in.Rows {
		for rack := range row.Racks {
			placed[NormalizeRackNumber(rack)] = true
		}
	}
	for norm := range placed {
		if _, ok := in.Racks[norm]; !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("placement %q has no configuration sheet", norm))
		}
	}

	if err := p.api.cache.Refresh(ctx, p.api); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("cache pre-warm failed, falling back to live lookups: %v", err))
	}
	neededBy := make(map[string][]string)
	for _, rack := range in.Racks {
		for _, child := range rack.Children {
			if _, ok := p.api.cache.Lookup(child.Number); !ok {
				neededBy[child.Number] = append(neededBy[child.Number], rack.Number)
			}
		}
	}
	if len(neededBy) > 0 {
		missing := make([]string, 0, len(neededBy))
		for child := range neededBy {
			missing = append(missing, child)
		}
		sort.Strings(missing)
		for _, child := range missing {
			res.Errors = append(res.Errors, fmt.Sprintf("child-%s (needed by: %s)", child, joinComma(neededBy[child])))
		}
	}

	return res, nil
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// PushResult summarizes a completed or partially-completed push.
type PushResult struct {
	Context        []CreationEntry
	TopID          string
	RowIDs         map[string]string // keyed by row name
	RackIDs        map[string]string // keyed by normalized rack number
	RolledBack     bool
	PartialRollback bool
}

// Run executes the three-phase creation of spec.md §4.8.2. On any error
// after the first successful creation, it returns the error alongside
// the PushResult so the caller can offer rollback via Rollback().
func (p *Pipeline) Run(ctx context.Context, in PushInput) (PushResult, error) {
	var result PushResult
	result.RowIDs = make(map[string]string)
	result.RackIDs = make(map[string]string)

	// Phase 1: leaves (racks).
	for norm, rack := range in.Racks {
		if rack.Meta.Status != StatusPlaceholder && rack.Meta.Status != StatusLocalModified && rack.Meta.Status != StatusError {
			result.RackIDs[norm] = rack.Meta.ParentID
			continue
		}
		p.emit(CreationLeaf, rack.Number, "resolving children")

		local := make([]BOMLine, 0, len(rack.Children))
		for _, c := range rack.Children {
			entry, ok := p.api.cache.Lookup(c.Number)
			if !ok {
				return result, errMissingChildComponent(c.Number, rack.Number)
			}
			local = append(local, BOMLine{ChildItemID: entry.ID, ChildNumber: c.Number, Quantity: c.Quantity})
		}

		var rackID string
		if rack.Meta.ParentID != "" {
			rackID = rack.Meta.ParentID
		} else {
			item, err := p.api.CreateItem(ctx, ItemCreate{Number: rack.Number, Name: rack.Number, Description: rack.Meta.ParentDesc})
			if err != nil {
				return result, err
			}
			rackID = item.ID
			result.Context = append(result.Context, CreationEntry{Kind: CreationLeaf, Number: rack.Number, OpaqueID: rackID})
		}

		remote, err := p.api.GetBOMLines(ctx, rackID)
		if err != nil {
			return result, err
		}
		diff := ComputeDiff(local, remote, "", "")
		if _, err := SmartSync(ctx, p.api, rackID, diff); err != nil {
			return result, err
		}

		result.RackIDs[norm] = rackID
		p.emit(CreationLeaf, rack.Number, "synced")
		if p.history != nil {
			_ = p.history.AppendEvent(ctx, HistoryEvent{Timestamp: now(), RackNumber: rack.Number, Kind: EventRackCreated, Summary: "rack created and BOM pushed"})
		}
	}

	// Phase 2: rows (level 1).
	for _, row := range in.Rows {
		lines := make([]BOMLine, 0, len(row.Racks))
		racksInRow := make([]string, 0, len(row.Racks))
		for rack := range row.Racks {
			racksInRow = append(racksInRow, rack)
		}
		sort.Strings(racksInRow)
		for _, rack := range racksInRow {
			placement := row.Racks[rack]
			norm := NormalizeRackNumber(rack)
			rackID, ok := result.RackIDs[norm]
			if !ok {
				return result, syncerr.New(syncerr.KindNotFound, fmt.Sprintf("rack %q missing opaque id during row creation", rack))
			}
			lines = append(lines, BOMLine{ChildItemID: rackID, ChildNumber: rack, Quantity: placement.Count, Level: 1})
		}

		rowItem, err := p.api.CreateItem(ctx, ItemCreate{Number: row.RowName, Name: row.RowName, CategoryID: in.RowCategoryID})
		if err != nil {
			return result, err
		}
		result.Context = append(result.Context, CreationEntry{Kind: CreationRow, Number: row.RowName, OpaqueID: rowItem.ID})
		result.RowIDs[row.RowName] = rowItem.ID
		p.emit(CreationRow, row.RowName, "created")

		for _, line := range lines {
			created, err := p.api.CreateBOMLine(ctx, rowItem.ID, line)
			if err != nil {
				return result, err
			}
			if in.PositionAttributeID != "" {
				placement := row.Racks[line.ChildNumber]
				if err := p.api.SetBOMLineAttribute(ctx, rowItem.ID, created.LineID, in.PositionAttributeID, PositionLabel(placement)); err != nil {
					return result, err
				}
			}
		}
		p.emit(CreationRow, row.RowName, "BOM applied")
		if p.history != nil {
			_ = p.history.AppendEvent(ctx, HistoryEvent{Timestamp: now(), RackNumber: row.RowName, Kind: EventTopPush, Summary: "row BOM applied"})
		}
	}

	// Phase 3: top.
	topItem, err := p.api.CreateItem(ctx, ItemCreate{Number: in.TopNumber, Name: in.TopName, CategoryID: in.TopCategoryID})
	if err != nil {
		return result, err
	}
	result.Context = append(result.Context, CreationEntry{Kind: CreationTop, Number: in.TopNumber, OpaqueID: topItem.ID})
	result.TopID = topItem.ID
	p.emit(CreationTop, in.TopNumber, "created")

	rowNames := make([]string, 0, len(result.RowIDs))
	for name := range result.RowIDs {
		rowNames = append(rowNames, name)
	}
	sort.Strings(rowNames)
	for _, name := range rowNames {
		if _, err := p.api.CreateBOMLine(ctx, topItem.ID, BOMLine{ChildItemID: result.RowIDs[name], ChildNumber: name, Quantity: 1, Level: 0}); err != nil {
			return result, err
		}
	}
	p.emit(CreationTop, in.TopNumber, "BOM applied")
	if p.history != nil {
		_ = p.history.AppendEvent(ctx, HistoryEvent{Timestamp: now(), RackNumber: in.TopNumber, Kind: EventTopPush, Summary: "top-level push complete"})
	}

	for norm, rack := range in.Racks {
		rackID := result.RackIDs[norm]
		meta := rack.Meta
		meta.ParentID = rackID
		meta.Status = StatusSynced
		meta.LastSyncAt = now()
		meta.Checksum = ComputeChecksum(rack.Children)
		if err := WriteRackMeta(ctx, rack.Sheet, meta); err != nil {
			return result, err
		}
		if p.history != nil {
			_ = p.history.UpsertSummary(ctx, SummaryRow{RackNumber: rack.Number, Status: StatusSynced, ParentID: rackID, LastPush: now(), Checksum: meta.Checksum})
			_ = p.history.AppendEvent(ctx, HistoryEvent{Timestamp: now(), RackNumber: rack.Number, Kind: EventStatusChange, StatusBefore: rack.Meta.Status, StatusAfter: StatusSynced, Summary: "push completed"})
		}
	}

	return result, nil
}

// Rollback implements spec.md §4.8.3: iterate the creation context in
// reverse order (top -> rows -> leaves), deleting each opaque id and
// tolerating individual failures as partial rollback.
func (p *Pipeline) Rollback(ctx context.Context, result PushResult) (PushResult, error) {
	policy := resilience.DefaultRetryPolicy()
	policy.ErrorChecker = &resilience.StatusChecker{Kinds: []syncerr.Kind{syncerr.KindTransport}}
	policy.Logger = p.logger

	var firstErr error
	for i := len(result.Context) - 1; i >= 0; i-- {
		entry := result.Context[i]
		err := resilience.WithRetry(ctx, policy, func() error {
			return p.api.deleteItem(ctx, entry.OpaqueID)
		})
		if err != nil && !syncerr.Is(err, syncerr.KindNotFound) {
			result.PartialRollback = true
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Error("rollback deletion failed", "kind", entry.Kind, "number", entry.Number, "error", err)
			continue
		}
	}
	result.RolledBack = true
	if firstErr != nil {
		return result, syncerr.Wrap(syncerr.KindPartial, "rollback completed some but not all deletions", firstErr)
	}
	return result, nil
}

func (a *API) deleteItem(ctx context.Context, opaqueID string) error {
	_, err := a.client.Delete(ctx, "/items/"+opaqueID)
	return err
}

func errMissingChildComponent(childNumber, rackNumber string) error {
	return syncerr.New(syncerr.KindNotFound,
		fmt.Sprintf("Child component %s not found in PLM. Needed for rack %s.", childNumber, rackNumber))
}

// now is a seam so tests can freeze time; production uses time.Now.
var now = time.Now
