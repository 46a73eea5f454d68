package plm

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallcrawler78/arena-sheets-sync/internal/secretstore"
)

// Path A (spec.md §4.9): a three-level chain (root -> A -> B) expands
// fully, each node carrying the right BOM line back to its parent.
func TestLoader_LoadTree_ExpandsMultipleLevels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	mux.HandleFunc("/items/root", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "root", "number": "ROOT"})
	})
	mux.HandleFunc("/items/root/bom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"results": []any{
			map[string]any{"id": "line-a", "item": map[string]any{"id": "a-id", "number": "A"}, "quantity": 1},
		}})
	})
	mux.HandleFunc("/items/a-id", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "a-id", "number": "A"})
	})
	mux.HandleFunc("/items/a-id/bom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"results": []any{
			map[string]any{"id": "line-b", "item": map[string]any{"id": "b-id", "number": "B"}, "quantity": 3},
		}})
	})
	mux.HandleFunc("/items/b-id", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "b-id", "number": "B"})
	})
	mux.HandleFunc("/items/b-id/bom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"results": []any{}})
	})
	api, srv := newTestAPI(t, mux)
	defer srv.Close()

	loader := NewLoader(api, secretstore.NewMemory(), nil, 2)
	tree, err := loader.LoadTree(t.Context(), "root")
	require.NoError(t, err)

	assert.Equal(t, "ROOT", tree.Item.Number)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "A", tree.Children[0].Item.Number)
	assert.Equal(t, 1, tree.Children[0].Line.Quantity)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, "B", tree.Children[0].Children[0].Item.Number)
	assert.Equal(t, 3, tree.Children[0].Children[0].Line.Quantity)
}

// Cycle guard (spec.md §4.9): a BOM line pointing back to an
// already-visited item must not be re-descended into or duplicated.
func TestLoader_LoadTree_CycleGuardStopsRevisit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	mux.HandleFunc("/items/root", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "root", "number": "ROOT"})
	})
	mux.HandleFunc("/items/root/bom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"results": []any{
			map[string]any{"id": "line-a", "item": map[string]any{"id": "a-id", "number": "A"}, "quantity": 1},
		}})
	})
	mux.HandleFunc("/items/a-id", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "a-id", "number": "A"})
	})
	mux.HandleFunc("/items/a-id/bom", func(w http.ResponseWriter, r *http.Request) {
		// A's BOM claims root as a child -- a cycle.
		writeJSON(w, map[string]any{"results": []any{
			map[string]any{"id": "line-root", "item": map[string]any{"id": "root", "number": "ROOT"}, "quantity": 1},
		}})
	})
	api, srv := newTestAPI(t, mux)
	defer srv.Close()

	loader := NewLoader(api, secretstore.NewMemory(), nil, 2)
	tree, err := loader.LoadTree(t.Context(), "root")
	require.NoError(t, err)

	require.Len(t, tree.Children, 1)
	assert.Empty(t, tree.Children[0].Children, "root must not be re-expanded as its own grandchild")
}

// Depth cap (spec.md §4.9): a chain deeper than maxBOMDepth levels is
// truncated rather than looping forever.
func TestLoader_LoadTree_StopsAtDepthCap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	const depth = maxBOMDepth + 5
	mux.HandleFunc("/items/root", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "root", "number": "N0"})
	})
	for i := 0; i < depth; i++ {
		parentID := itemIDAt(i)
		childID := itemIDAt(i + 1)
		mux.HandleFunc("/items/"+parentID+"/bom", chainBOMHandler(childID, i+1))
		mux.HandleFunc("/items/"+childID, chainItemHandler(childID, i+1))
	}
	api, srv := newTestAPI(t, mux)
	defer srv.Close()

	loader := NewLoader(api, secretstore.NewMemory(), nil, 2)
	tree, err := loader.LoadTree(t.Context(), "root")
	require.NoError(t, err)

	got := 0
	node := tree
	for len(node.Children) == 1 {
		got++
		node = node.Children[0]
	}
	assert.Equal(t, maxBOMDepth, got, "BFS must stop after maxBOMDepth levels regardless of remaining chain length")
}

func itemIDAt(i int) string {
	if i == 0 {
		return "root"
	}
	return "chain-" + string(rune('a'+i))
}

func chainItemHandler(id string, level int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": id, "number": id})
	}
}

func chainBOMHandler(childID string, level int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"results": []any{
			map[string]any{"id": "line-" + childID, "item": map[string]any{"id": childID, "number": childID}, "quantity": 1},
		}})
	}
}

func TestLoader_EnsureExportDefinition_CreatesWhenAbsent(t *testing.T) {
	var createCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	mux.HandleFunc("/exports", func(w http.ResponseWriter, r *http.Request) {
		createCalls++
		writeJSON(w, map[string]any{"id": "def-1"})
	})
	api, srv := newTestAPI(t, mux)
	defer srv.Close()

	secrets := secretstore.NewMemory()
	loader := NewLoader(api, secrets, nil, 2)
	id, err := loader.EnsureExportDefinition(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "def-1", id)
	assert.Equal(t, 1, createCalls)

	stored, ok, err := secrets.Get(t.Context(), secretstore.KeyExportDefinition)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "def-1", stored)
}

func TestLoader_EnsureExportDefinition_RecreatesOn404(t *testing.T) {
	var createCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	mux.HandleFunc("/exports/stale-id", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/exports", func(w http.ResponseWriter, r *http.Request) {
		createCalls++
		writeJSON(w, map[string]any{"id": "def-2"})
	})
	api, srv := newTestAPI(t, mux)
	defer srv.Close()

	secrets := secretstore.NewMemory()
	require.NoError(t, secrets.Set(t.Context(), secretstore.KeyExportDefinition, "stale-id"))

	loader := NewLoader(api, secrets, nil, 2)
	id, err := loader.EnsureExportDefinition(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "def-2", id)
	assert.Equal(t, 1, createCalls)
}

// Path B (spec.md §4.9, §9 Open Question): a bulk export run polls
// until COMPLETE, then downloads and parses the per-level shape.
func TestLoader_RunExport_PerLevelShape(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	mux.HandleFunc("/exports", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "def-1"})
	})
	mux.HandleFunc("/exports/def-1/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "run-1"})
	})
	mux.HandleFunc("/exports/def-1/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			writeJSON(w, map[string]any{"status": "RUNNING"})
			return
		}
		writeJSON(w, map[string]any{"status": "COMPLETE", "results": []any{
			map[string]any{"id": "file-1", "name": "export.json"},
		}})
	})
	mux.HandleFunc("/exports/def-1/runs/run-1/files/file-1/content", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"root": map[string]any{
			"id": "root", "number": "ROOT",
			"children": []any{
				map[string]any{"id": "a-id", "number": "A", "quantity": 2},
			},
		}})
	})
	api, srv := newTestAPI(t, mux)
	defer srv.Close()

	loader := NewLoader(api, secretstore.NewMemory(), nil, 2)
	loader.pollEvery = 0
	result, err := loader.RunExport(t.Context(), "root")
	require.NoError(t, err)
	assert.Equal(t, "per-level", result.Shape)
	require.Len(t, result.Root.Children, 1)
	assert.Equal(t, "A", result.Root.Children[0].Item.Number)
	assert.Equal(t, 2, result.Root.Children[0].Line.Quantity)
}

func TestLoader_RunExport_FailedRunSurfacesStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	mux.HandleFunc("/exports", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "def-1"})
	})
	mux.HandleFunc("/exports/def-1/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "run-1"})
	})
	mux.HandleFunc("/exports/def-1/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "FAILED"})
	})
	api, srv := newTestAPI(t, mux)
	defer srv.Close()

	loader := NewLoader(api, secretstore.NewMemory(), nil, 2)
	loader.pollEvery = 0
	_, err := loader.RunExport(t.Context(), "root")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAILED")
}

func TestParseExportPayload_FlatShapeResolvesParentLinks(t *testing.T) {
	resp := map[string]any{"results": []any{
		map[string]any{"itemid": "root", "itemnumber": "ROOT", "parentid": "", "level": 0, "quantity": 1},
		map[string]any{"itemid": "a-id", "itemnumber": "A", "parentid": "root", "level": 1, "quantity": 4},
	}}
	result, err := parseExportPayload(resp)
	require.NoError(t, err)
	assert.Equal(t, "flat", result.Shape)
	require.NotNil(t, result.Root)
	assert.Equal(t, "ROOT", result.Root.Item.Number)
	require.Len(t, result.Root.Children, 1)
	assert.Equal(t, "A", result.Root.Children[0].Item.Number)
	assert.Equal(t, 4, result.Root.Children[0].Line.Quantity)
}

func TestParseExportPayload_NeitherShapeIsAnError(t *testing.T) {
	_, err := parseExportPayload(map[string]any{})
	require.Error(t, err)
}
