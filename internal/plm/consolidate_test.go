package plm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

func mustCreateGrid(t *testing.T, rows [][]string) tabularstore.Sheet {
	t.Helper()
	store := tabularstore.NewMemoryStore()
	sheet, err := store.CreateSheet(context.Background(), "Overview")
	require.NoError(t, err)
	values := make(tabularstore.Range, len(rows))
	for r, row := range rows {
		cells := make([]tabularstore.Cell, len(row))
		for c, v := range row {
			cells[c] = v
		}
		values[r] = cells
	}
	require.NoError(t, sheet.SetRange(context.Background(), 1, 1, values))
	return sheet
}

// Scenario 6 (spec.md §8): grid consolidation over a 2-row, 3-position
// grid with three distinct racks.
func TestScanGrid_Scenario6Placements(t *testing.T) {
	grid := mustCreateGrid(t, [][]string{
		{"Pos1", "Pos2", "Pos3"},
		{"RK-A", "RK-A", "RK-B"},
		{"RK-A", "RK-C", "RK-C"},
	})

	rows, totals, err := ScanGrid(context.Background(), grid)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"RK-A": 3, "RK-B": 1, "RK-C": 2}, totals)
	require.Len(t, rows, 2)

	row1 := rows[0]
	require.NotNil(t, row1.Racks["RK-A"])
	assert.Equal(t, 2, row1.Racks["RK-A"].Count)
	assert.Equal(t, []string{"Pos1", "Pos2"}, row1.Racks["RK-A"].Positions)
	require.NotNil(t, row1.Racks["RK-B"])
	assert.Equal(t, 1, row1.Racks["RK-B"].Count)
	assert.Equal(t, []string{"Pos3"}, row1.Racks["RK-B"].Positions)

	row2 := rows[1]
	assert.Equal(t, 1, row2.Racks["RK-A"].Count)
	assert.Equal(t, 2, row2.Racks["RK-C"].Count)
}

func TestPositionLabel_CommaJoined(t *testing.T) {
	grid := mustCreateGrid(t, [][]string{
		{"Pos1", "Pos2", "Pos3"},
		{"RK-A", "RK-A", "RK-B"},
		{"RK-A", "RK-C", "RK-C"},
	})
	rows, _, err := ScanGrid(context.Background(), grid)
	require.NoError(t, err)
	assert.Equal(t, "Pos1, Pos2", PositionLabel(rows[0].Racks["RK-A"]))
	assert.Equal(t, "Pos3", PositionLabel(rows[0].Racks["RK-B"]))
}

// Scenario 6 consolidation: SERVER 3x2 + 2x1 = 8, CABLE 3x4=12, PDU
// 1x2=2, plus the racks themselves at their placement counts.
func TestConsolidate_Scenario6Quantities(t *testing.T) {
	placements := map[string]int{"RK-A": 3, "RK-B": 1, "RK-C": 2}
	rackChildren := map[string][]RackChild{
		"RK-A": {{Number: "SERVER", CategoryName: "Compute", Quantity: 2}, {Number: "CABLE", CategoryName: "Accessory", Quantity: 4}},
		"RK-B": {{Number: "PDU", CategoryName: "Power", Quantity: 2}},
		"RK-C": {{Number: "SERVER", CategoryName: "Compute", Quantity: 1}},
	}

	lines, summary := Consolidate("Overview", placements, rackChildren, map[string]int{}, 2)

	byNumber := make(map[string]ConsolidatedLine, len(lines))
	for _, l := range lines {
		byNumber[l.ChildNumber] = l
	}

	require.Contains(t, byNumber, "SERVER")
	assert.Equal(t, 8, byNumber["SERVER"].Quantity)
	require.Contains(t, byNumber, "CABLE")
	assert.Equal(t, 12, byNumber["CABLE"].Quantity)
	require.Contains(t, byNumber, "PDU")
	assert.Equal(t, 2, byNumber["PDU"].Quantity)
	require.Contains(t, byNumber, "RK-A")
	assert.Equal(t, 3, byNumber["RK-A"].Quantity)
	require.Contains(t, byNumber, "RK-B")
	assert.Equal(t, 1, byNumber["RK-B"].Quantity)
	require.Contains(t, byNumber, "RK-C")
	assert.Equal(t, 2, byNumber["RK-C"].Quantity)

	assert.Equal(t, 6, summary.TotalUniqueItems)
	assert.Equal(t, 6, summary.TotalPlacements)
}

// Consolidation soundness (spec.md §8): for any child c,
// consolidated[c].qty = sum over racks r of placements[r] * children[r][c].qty.
func TestConsolidate_SoundnessAcrossSharedChildren(t *testing.T) {
	placements := map[string]int{"R1": 4, "R2": 5}
	rackChildren := map[string][]RackChild{
		"R1": {{Number: "X", CategoryName: "Widget", Quantity: 3}},
		"R2": {{Number: "X", CategoryName: "Widget", Quantity: 7}},
	}
	lines, _ := Consolidate("Grid", placements, rackChildren, map[string]int{}, 5)
	var got int
	for _, l := range lines {
		if l.ChildNumber == "X" {
			got = l.Quantity
		}
	}
	assert.Equal(t, 4*3+5*7, got)
}

func TestConsolidate_SortsByLevelThenCategoryThenNumber(t *testing.T) {
	placements := map[string]int{"R1": 1}
	rackChildren := map[string][]RackChild{
		"R1": {
			{Number: "Z", CategoryName: "Alpha", Quantity: 1},
			{Number: "A", CategoryName: "Alpha", Quantity: 1},
			{Number: "M", CategoryName: "Beta", Quantity: 1},
		},
	}
	levelMap := map[string]int{"Alpha": 2, "Beta": 2}
	lines, _ := Consolidate("Grid", placements, rackChildren, levelMap, 9)

	var order []string
	for _, l := range lines {
		if l.Level == 2 {
			order = append(order, l.ChildNumber)
		}
	}
	assert.Equal(t, []string{"A", "Z", "M"}, order)
}

func TestConsolidate_UnknownCategoryFallsBackToLeafLevel(t *testing.T) {
	placements := map[string]int{"R1": 1}
	rackChildren := map[string][]RackChild{
		"R1": {{Number: "X", CategoryName: "Unmapped", Quantity: 1}},
	}
	lines, _ := Consolidate("Grid", placements, rackChildren, map[string]int{}, 7)
	require.Len(t, lines, 2) // the rack itself (level 1) plus X
	for _, l := range lines {
		if l.ChildNumber == "X" {
			assert.Equal(t, 7, l.Level)
		}
	}
}

func TestIndentedNumber_IndentsByTwiceLevel(t *testing.T) {
	assert.Equal(t, "X", IndentedNumber(ConsolidatedLine{ChildNumber: "X", Level: 0}))
	assert.Equal(t, "    X", IndentedNumber(ConsolidatedLine{ChildNumber: "X", Level: 2}))
}

func TestReadRackChildren_InvalidQuantityTreatedAsOneWithWarning(t *testing.T) {
	store := tabularstore.NewMemoryStore()
	sheet, err := store.CreateSheet(context.Background(), "RK-A")
	require.NoError(t, err)
	// Row 1 metadata, row 2 header, row 3+ data.
	require.NoError(t, sheet.SetRange(context.Background(), 3, 1, tabularstore.Range{
		{"A", "Widget A", "desc", "Compute", "not-a-number", "Rev A"},
		{"B", "Widget B", "desc", "Compute", -4, "Rev A"},
	}))

	children, err := ReadRackChildren(context.Background(), sheet, nil)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, 1, children[0].Quantity)
	assert.Equal(t, 1, children[1].Quantity)
}
