package plm

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

// fakePLM is a minimal stateful PLM double backing the push pipeline
// scenarios of spec.md §8: an items catalog, per-parent BOM lines, and
// creation/deletion order tracking for the rollback assertions.
type fakePLM struct {
	mu        sync.Mutex
	nextID    int
	items     map[string]map[string]any // id -> normalized item fields
	boms      map[string][]map[string]any
	created   []string // ids, in creation order
	deleted   []string // ids, in deletion order
	failOnRow string   // row name whose item-creation POST should 500
}

func newFakePLM() *fakePLM {
	return &fakePLM{items: make(map[string]map[string]any), boms: make(map[string][]map[string]any)}
}

func (f *fakePLM) seedItem(id, number string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = map[string]any{"id": id, "number": number, "name": number}
}

func (f *fakePLM) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", loginHandler)
	mux.HandleFunc("GET /settings/workspace", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "ws-1"})
	})
	mux.HandleFunc("GET /items", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.URL.Query().Get("offset") != "0" && r.URL.Query().Get("offset") != "" {
			writeJSON(w, map[string]any{"results": []any{}})
			return
		}
		results := make([]any, 0, len(f.items))
		for _, it := range f.items {
			results = append(results, it)
		}
		writeJSON(w, map[string]any{"results": results})
	})
	mux.HandleFunc("POST /items", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		number, _ := body["number"].(string)
		if number == f.failOnRow {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"internal error creating item"}`))
			return
		}
		f.mu.Lock()
		f.nextID++
		id := fmt.Sprintf("item-%d", f.nextID)
		item := map[string]any{"id": id, "number": number, "name": body["name"]}
		f.items[id] = item
		f.created = append(f.created, id)
		f.mu.Unlock()
		writeJSON(w, item)
	})
	mux.HandleFunc("DELETE /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		f.deleted = append(f.deleted, id)
		delete(f.items, id)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /items/{id}/bom", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		lines := append([]map[string]any{}, f.boms[id]...)
		f.mu.Unlock()
		results := make([]any, len(lines))
		for i, l := range lines {
			results[i] = l
		}
		writeJSON(w, map[string]any{"results": results})
	})
	mux.HandleFunc("POST /items/{id}/bom", func(w http.ResponseWriter, r *http.Request) {
		parentID := r.PathValue("id")
		body := decodeBody(r)
		childID, _ := body["itemId"].(string)
		qty := 0
		if v, ok := body["quantity"].(float64); ok {
			qty = int(v)
		}
		f.mu.Lock()
		f.nextID++
		lineID := fmt.Sprintf("line-%d", f.nextID)
		childNumber := ""
		if child, ok := f.items[childID]; ok {
			childNumber, _ = child["number"].(string)
		}
		line := map[string]any{"id": lineID, "quantity": qty, "item": map[string]any{"id": childID, "number": childNumber}}
		f.boms[parentID] = append(f.boms[parentID], line)
		f.mu.Unlock()
		writeJSON(w, line)
	})
	mux.HandleFunc("PATCH /items/{id}/bom/{lineId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func decodeBody(r *http.Request) map[string]any {
	var m map[string]any
	_ = jsonDecode(r.Body, &m)
	return m
}

func rackSheetFor(t *testing.T, number string) tabularstore.Sheet {
	t.Helper()
	store := tabularstore.NewMemoryStore()
	sheet, err := store.CreateSheet(context.Background(), number)
	require.NoError(t, err)
	return sheet
}

// Scenario 4 (spec.md §8): pre-flight failure when a referenced child
// component doesn't exist in the PLM. Zero HTTP writes occur.
func TestPipeline_Preflight_MissingChildFails(t *testing.T) {
	f := newFakePLM()
	f.seedItem("child-a", "A")
	// "B" is intentionally absent from the catalog.
	api, srv := newTestAPI(t, f.mux())
	defer srv.Close()

	in := PushInput{
		GridName: "Overview",
		Rows:     []RowPlacement{{RowName: "Row1", Racks: map[string]*RackPlacement{"NEW-1": {Count: 1, Positions: []string{"Pos 1"}}}}},
		Racks: map[string]RackInput{
			"new-1": {Number: "NEW-1", Children: []RackChild{{Number: "A", Quantity: 1}, {Number: "B", Quantity: 2}}},
		},
	}

	pipeline := NewPipeline(api, nil, nil, nil)
	result, err := pipeline.Preflight(t.Context(), in)
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Contains(t, result.Errors, "child-B (needed by: NEW-1)")
	assert.Empty(t, f.created)
}

// Scenario 3 (spec.md §8), extended through the row and top phases: a
// placeholder rack with two existing children pushes successfully,
// creating the rack, then its row, then the top assembly, in that order.
func TestPipeline_Run_FullThreePhasePush(t *testing.T) {
	f := newFakePLM()
	f.seedItem("child-a", "A")
	f.seedItem("child-b", "B")
	api, srv := newTestAPI(t, f.mux())
	defer srv.Close()

	sheet := rackSheetFor(t, "NEW-1")
	in := PushInput{
		GridName: "Overview",
		Rows:     []RowPlacement{{RowName: "Row1", Racks: map[string]*RackPlacement{"NEW-1": {Count: 1, Positions: []string{"Pos 1"}}}}},
		Racks: map[string]RackInput{
			"new-1": {
				Number: "NEW-1", Sheet: sheet, Meta: RackMeta{ParentNumber: "NEW-1", Status: StatusPlaceholder},
				Children: []RackChild{{Number: "A", Quantity: 1}, {Number: "B", Quantity: 2}},
			},
		},
		TopNumber: "TOP-1", TopName: "Top Assembly", TopCategoryID: "cat-top", RowCategoryID: "cat-row",
		PositionAttributeID: "attr-pos",
	}

	pipeline := NewPipeline(api, nil, nil, nil)
	pre, err := pipeline.Preflight(t.Context(), in)
	require.NoError(t, err)
	require.True(t, pre.OK())

	result, err := pipeline.Run(t.Context(), in)
	require.NoError(t, err)

	require.Len(t, result.Context, 3)
	assert.Equal(t, CreationLeaf, result.Context[0].Kind)
	assert.Equal(t, "NEW-1", result.Context[0].Number)
	assert.Equal(t, CreationRow, result.Context[1].Kind)
	assert.Equal(t, "Row1", result.Context[1].Number)
	assert.Equal(t, CreationTop, result.Context[2].Kind)
	assert.Equal(t, "TOP-1", result.Context[2].Number)

	rackID := result.RackIDs["new-1"]
	require.NotEmpty(t, rackID)
	require.Len(t, f.boms[rackID], 2)

	meta, err := ReadRackMeta(t.Context(), sheet)
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, meta.Status)
	assert.Equal(t, rackID, meta.ParentID)
	assert.Equal(t, ComputeChecksum(in.Racks["new-1"].Children), meta.Checksum)
}

// Round-trip/idempotence (spec.md §8): pushing the same unchanged
// configuration twice creates the rack's BOM lines once; on the second
// push the now-SYNCED rack is skipped by phase 1, so its lines are
// neither diffed nor written again.
func TestPipeline_Run_SecondPushIsNoOp(t *testing.T) {
	f := newFakePLM()
	f.seedItem("child-a", "A")
	api, srv := newTestAPI(t, f.mux())
	defer srv.Close()

	sheet := rackSheetFor(t, "NEW-1")
	in := PushInput{
		GridName: "Overview",
		Rows:     []RowPlacement{{RowName: "Row1", Racks: map[string]*RackPlacement{"NEW-1": {Count: 1, Positions: []string{"Pos 1"}}}}},
		Racks: map[string]RackInput{
			"new-1": {Number: "NEW-1", Sheet: sheet, Meta: RackMeta{ParentNumber: "NEW-1", Status: StatusPlaceholder}, Children: []RackChild{{Number: "A", Quantity: 1}}},
		},
		TopNumber: "TOP-1", TopName: "Top", TopCategoryID: "cat-top", RowCategoryID: "cat-row",
	}
	pipeline := NewPipeline(api, nil, nil, nil)
	_, err := pipeline.Preflight(t.Context(), in)
	require.NoError(t, err)
	first, err := pipeline.Run(t.Context(), in)
	require.NoError(t, err)
	rackID := first.RackIDs["new-1"]
	require.Len(t, f.boms[rackID], 1)

	// Re-read the now-SYNCED meta/checksum, as a real second invocation
	// would after reloading the sheet.
	meta, err := ReadRackMeta(t.Context(), sheet)
	require.NoError(t, err)
	in.Racks["new-1"] = RackInput{Number: "NEW-1", Sheet: sheet, Meta: meta, Children: in.Racks["new-1"].Children}

	second, err := pipeline.Run(t.Context(), in)
	require.NoError(t, err)
	// A rack whose status is not PLACEHOLDER, LOCAL_MODIFIED or ERROR
	// (here SYNCED) is skipped by phase 1 entirely (no leaf creation
	// entry, no re-diff), so its BOM line
	// count is unchanged by the second push; only the row and top get
	// (re)created.
	for _, entry := range second.Context {
		assert.NotEqual(t, CreationLeaf, entry.Kind)
	}
	require.Len(t, f.boms[rackID], 1)
}

// Scenario 5 (spec.md §8): a mid-push failure after at least one
// creation rolls back in strict reverse order (top -> rows -> leaves).
func TestPipeline_Rollback_ReverseOrder(t *testing.T) {
	f := newFakePLM()
	f.seedItem("child-a", "A")
	f.failOnRow = "Row2" // row2 creation itself fails with HTTP 500
	api, srv := newTestAPI(t, f.mux())
	defer srv.Close()

	rackSheets := map[string]tabularstore.Sheet{
		"rack-1": rackSheetFor(t, "RACK-1"),
		"rack-2": rackSheetFor(t, "RACK-2"),
		"rack-3": rackSheetFor(t, "RACK-3"),
	}
	in := PushInput{
		GridName: "Overview",
		Rows: []RowPlacement{
			{RowName: "Row1", Racks: map[string]*RackPlacement{"RACK-1": {Count: 1, Positions: []string{"Pos 1"}}}},
			{RowName: "Row2", Racks: map[string]*RackPlacement{"RACK-2": {Count: 1, Positions: []string{"Pos 1"}}, "RACK-3": {Count: 1, Positions: []string{"Pos 2"}}}},
		},
		Racks: map[string]RackInput{
			"rack-1": {Number: "RACK-1", Sheet: rackSheets["rack-1"], Meta: RackMeta{ParentNumber: "RACK-1", Status: StatusPlaceholder}, Children: []RackChild{{Number: "A", Quantity: 1}}},
			"rack-2": {Number: "RACK-2", Sheet: rackSheets["rack-2"], Meta: RackMeta{ParentNumber: "RACK-2", Status: StatusPlaceholder}, Children: []RackChild{{Number: "A", Quantity: 1}}},
			"rack-3": {Number: "RACK-3", Sheet: rackSheets["rack-3"], Meta: RackMeta{ParentNumber: "RACK-3", Status: StatusPlaceholder}, Children: []RackChild{{Number: "A", Quantity: 1}}},
		},
		TopNumber: "TOP-1", TopName: "Top", TopCategoryID: "cat-top", RowCategoryID: "cat-row",
	}

	pipeline := NewPipeline(api, nil, nil, nil)
	_, err := pipeline.Preflight(t.Context(), in)
	require.NoError(t, err)

	result, runErr := pipeline.Run(t.Context(), in)
	require.Error(t, runErr)
	// Three leaves and one row (Row1) succeeded before Row2's item
	// creation failed.
	require.Len(t, result.Context, 4)

	rolledBack, rbErr := pipeline.Rollback(t.Context(), result)
	require.NoError(t, rbErr)
	assert.True(t, rolledBack.RolledBack)
	assert.False(t, rolledBack.PartialRollback)

	wantOrder := make([]string, 4)
	for i := 0; i < 4; i++ {
		wantOrder[i] = result.Context[3-i].OpaqueID
	}
	assert.Equal(t, wantOrder, f.deleted)
	for _, id := range f.created {
		assert.NotContains(t, f.items, id, "every item created by this push must be gone after rollback")
	}
}
