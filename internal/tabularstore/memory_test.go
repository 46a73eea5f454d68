package tabularstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndReadBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sh, err := store.CreateSheet(ctx, "RK-A")
	require.NoError(t, err)

	require.NoError(t, sh.SetRange(ctx, 3, 1, Range{{"CABLE", "Patch Cable", "", "", 4}}))

	rng, err := sh.GetRange(ctx, 3, 1, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, "CABLE", ToString(rng[0][0]))
	n, _ := ToInt(rng[0][4])
	assert.Equal(t, 4, n)
}

func TestMemoryStore_SheetNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Sheet(ctx, "missing")
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestMemorySheet_AppendRowGrowsRowCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sh, _ := store.CreateSheet(ctx, "S")

	require.NoError(t, sh.AppendRow(ctx, []Cell{"a"}))
	require.NoError(t, sh.AppendRow(ctx, []Cell{"b"}))

	rows, err := sh.RowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
}

func TestMemorySheet_ProtectionToggle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sh, _ := store.CreateSheet(ctx, "History")

	protected, _ := sh.Protected(ctx)
	assert.False(t, protected)

	require.NoError(t, sh.SetProtected(ctx, true))
	protected, _ = sh.Protected(ctx)
	assert.True(t, protected)
}
