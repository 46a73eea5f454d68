package plm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

// RackChild is one data row of a rack configuration sheet (spec.md §3).
type RackChild struct {
	Number       string
	Name         string
	Description  string
	CategoryName string
	Quantity     int
	Revision     string
}

// RowPlacement is one grid row's rack->position mapping (spec.md §4.7):
// for each rack placed in that row, how many times and at which column
// positions (1-based, matching the header labels).
type RowPlacement struct {
	RowName string
	Racks   map[string]*RackPlacement // keyed by rack number
}

// RackPlacement tracks one rack's count and position labels within a
// single grid row.
type RackPlacement struct {
	Count     int
	Positions []string
}

// ReadRackChildren reads the data rows (row 3+) of a rack configuration
// sheet and returns its child lines (spec.md §3 "Rack Configuration
// Sheet"). Quantity values that are negative or non-numeric are treated
// as 1 with a warning (spec.md §4.7).
func ReadRackChildren(ctx context.Context, sheet tabularstore.Sheet, logger *slog.Logger) ([]RackChild, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rowCount, err := sheet.RowCount(ctx)
	if err != nil {
		return nil, err
	}
	if rowCount < 3 {
		return nil, nil
	}
	rng, err := sheet.GetRange(ctx, 3, 1, rowCount-2, 6)
	if err != nil {
		return nil, err
	}
	var out []RackChild
	for _, row := range rng {
		number := tabularstore.ToString(cellAt(row, 0))
		if strings.TrimSpace(number) == "" {
			continue
		}
		qty, ok := tabularstore.ToInt(cellAt(row, 4))
		if !ok || qty < 0 {
			logger.Warn("rack child quantity invalid, treating as 1", "child", number, "raw", cellAt(row, 4))
			qty = 1
		}
		out = append(out, RackChild{
			Number:       number,
			Name:         tabularstore.ToString(cellAt(row, 1)),
			Description:  tabularstore.ToString(cellAt(row, 2)),
			CategoryName: tabularstore.ToString(cellAt(row, 3)),
			Quantity:     qty,
			Revision:     tabularstore.ToString(cellAt(row, 5)),
		})
	}
	return out, nil
}

func cellAt(row []tabularstore.Cell, idx int) tabularstore.Cell {
	if idx < len(row) {
		return row[idx]
	}
	return nil
}

// ScanGrid walks the overview grid sheet cell-by-cell (spec.md §4.7 step
// 1-2). Row 1 of the grid holds position header labels ("Pos 1", "Pos
// 2", ...); subsequent rows are data rows, one per physical row of
// racks. Every column, the first included, is a rack position; data rows
// are named "Row1", "Row2", ... in sheet order.
func ScanGrid(ctx context.Context, grid tabularstore.Sheet) ([]RowPlacement, map[string]int, error) {
	rowCount, err := grid.RowCount(ctx)
	if err != nil {
		return nil, nil, err
	}
	colCount, err := grid.ColCount(ctx)
	if err != nil {
		return nil, nil, err
	}
	if rowCount < 2 || colCount < 2 {
		return nil, map[string]int{}, nil
	}

	header, err := grid.GetRange(ctx, 1, 1, 1, colCount)
	if err != nil {
		return nil, nil, err
	}
	positionLabels := make([]string, colCount)
	for c := 0; c < colCount; c++ {
		label := tabularstore.ToString(cellAt(header[0], c))
		if label == "" {
			label = fmt.Sprintf("Pos %d", c+1)
		}
		positionLabels[c] = label
	}

	body, err := grid.GetRange(ctx, 2, 1, rowCount-1, colCount)
	if err != nil {
		return nil, nil, err
	}

	totals := make(map[string]int)
	var rows []RowPlacement
	for r, rowVals := range body {
		rowName := fmt.Sprintf("Row%d", r+1)
		rp := RowPlacement{RowName: rowName, Racks: make(map[string]*RackPlacement)}
		for c, v := range rowVals {
			rack := strings.TrimSpace(tabularstore.ToString(v))
			if rack == "" {
				continue
			}
			if rp.Racks[rack] == nil {
				rp.Racks[rack] = &RackPlacement{}
			}
			rp.Racks[rack].Count++
			rp.Racks[rack].Positions = append(rp.Racks[rack].Positions, positionLabels[c])
			totals[rack]++
		}
		if len(rp.Racks) > 0 {
			rows = append(rows, rp)
		}
	}
	return rows, totals, nil
}

// ConsolidatedLine is one flattened, quantity-aggregated BOM entry
// (spec.md §4.7 step 2-4).
type ConsolidatedLine struct {
	ChildNumber  string
	CategoryName string
	Quantity     int
	Level        int
}

// ConsolidationSummary accompanies the flattened lines (spec.md §4.7
// step 5).
type ConsolidationSummary struct {
	SourceGrid      string
	TotalUniqueItems int
	TotalPlacements  int
}

// Consolidate takes the grid's per-rack placement counts (as returned by
// ScanGrid) and each rack's children, multiplies the children by
// placement count, and flattens into a level-sorted,
// quantity-aggregated BOM (spec.md §4.7). rackChildren must already
// contain every rack referenced by the grid (pre-flight's job, not this
// function's).
func Consolidate(
	gridName string,
	placements map[string]int,
	rackChildren map[string][]RackChild,
	levelMap map[string]int,
	leafLevel int,
) ([]ConsolidatedLine, ConsolidationSummary) {
	consolidated := make(map[string]*ConsolidatedLine)

	// Rack items themselves appear as level-1 lines (one per distinct
	// rack, quantity = total placements across all rows).
	for rack, count := range placements {
		consolidated[rack] = &ConsolidatedLine{ChildNumber: rack, Quantity: count, Level: 1}
	}

	for rack, count := range placements {
		for _, child := range rackChildren[rack] {
			level, ok := levelMap[child.CategoryName]
			if !ok {
				level = leafLevel
			}
			key := child.Number
			if existing, ok := consolidated[key]; ok {
				existing.Quantity += child.Quantity * count
			} else {
				consolidated[key] = &ConsolidatedLine{
					ChildNumber:  child.Number,
					CategoryName: child.CategoryName,
					Quantity:     child.Quantity * count,
					Level:        level,
				}
			}
		}
	}

	lines := make([]ConsolidatedLine, 0, len(consolidated))
	for _, l := range consolidated {
		lines = append(lines, *l)
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Level != lines[j].Level {
			return lines[i].Level < lines[j].Level
		}
		if lines[i].CategoryName != lines[j].CategoryName {
			return lines[i].CategoryName < lines[j].CategoryName
		}
		return lines[i].ChildNumber < lines[j].ChildNumber
	})

	totalPlacements := 0
	for _, c := range placements {
		totalPlacements += c
	}
	return lines, ConsolidationSummary{SourceGrid: gridName, TotalUniqueItems: len(lines), TotalPlacements: totalPlacements}
}

// IndentedNumber renders a consolidated line's child number indented by
// 2*level spaces, the display convention of spec.md §4.7 step 4.
func IndentedNumber(l ConsolidatedLine) string {
	return strings.Repeat("  ", l.Level) + l.ChildNumber
}

// PositionLabel renders a rack placement's positions as a comma-joined
// string (e.g. "Pos 1, Pos 3, Pos 5"), the value written onto the
// level-1 BOM line's position attribute (spec.md §4.8.2, Scenario 6).
func PositionLabel(p *RackPlacement) string {
	return strings.Join(p.Positions, ", ")
}
