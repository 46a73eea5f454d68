// Package tabularstore abstracts the host workbook interface described
// in spec.md §6: a name-unique, typed-cell, two-dimensional sheet store
// with batched read/write, background/font color and per-sheet
// protection. Click-handler hooks, spreadsheet rendering and UI shells are out
// of scope (spec.md §1); this package only models the data surface the
// core reads and writes.
package tabularstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSheetNotFound is returned when a named sheet does not exist.
var ErrSheetNotFound = errors.New("sheet not found")

// Cell is a single typed cell value. The host may store numbers,
// strings, or booleans; callers normalize via the String/Int/Float
// helpers rather than type-asserting directly, since sheet values
// round-trip through JSON-like hosts that blur numeric types.
type Cell = any

// Range is a rectangular, row-major block of cells, as returned by a
// batched read. Range[r][c] addresses row r, column c, both 0-based
// relative to the requested range's origin.
type Range [][]Cell

// Store is the abstract workbook: a collection of name-unique sheets.
type Store interface {
	// Sheet returns the sheet with the given name, or ErrSheetNotFound.
	Sheet(ctx context.Context, name string) (Sheet, error)
	// CreateSheet creates a new, empty sheet and returns it. It fails if
	// a sheet with that name already exists.
	CreateSheet(ctx context.Context, name string) (Sheet, error)
	// SheetNames lists every sheet currently present.
	SheetNames(ctx context.Context) ([]string, error)
	// DeleteSheet removes a sheet entirely.
	DeleteSheet(ctx context.Context, name string) error
}

// Sheet is one two-dimensional, typed-cell store.
type Sheet interface {
	Name() string

	// GetRange reads a rectangular block starting at (row, col), 1-based
	// to match spreadsheet convention (row 1 = first row), numRows x
	// numCols in size.
	GetRange(ctx context.Context, row, col, numRows, numCols int) (Range, error)
	// SetRange writes values starting at (row, col), 1-based.
	SetRange(ctx context.Context, row, col int, values Range) error
	// RowCount reports how many rows currently hold data (0 if empty).
	RowCount(ctx context.Context) (int, error)
	// ColCount reports how many columns currently hold data.
	ColCount(ctx context.Context) (int, error)
	// AppendRow appends a single row after the last used row.
	AppendRow(ctx context.Context, values []Cell) error

	// SetProtected toggles direct-user-edit protection (used by the
	// Change History Log sheet per spec.md §4.10).
	SetProtected(ctx context.Context, protected bool) error
	Protected(ctx context.Context) (bool, error)

	// SetBackground / SetFontColor apply cell-level formatting; rgb is a
	// "#rrggbb" string. These exist so a rack sheet's sync-status row can
	// be color-coded the way the original add-on color-coded it; the
	// core never depends on the colors it sets, only on the Sync Status
	// cell value.
	SetBackground(ctx context.Context, row, col int, rgb string) error
	SetFontColor(ctx context.Context, row, col int, rgb string) error
}

// ToString coerces a cell value to its string representation, treating
// nil as empty string — the normalization boundary for reading sheet
// text without scattering type switches through business logic.
func ToString(c Cell) string {
	if c == nil {
		return ""
	}
	switch v := c.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToInt coerces a cell value to an int, returning ok=false for anything
// that doesn't parse as a whole number (including non-numeric strings).
func ToInt(c Cell) (int, bool) {
	switch v := c.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
		return int(v), false
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
		return 0, false
	default:
		return 0, false
	}
}
