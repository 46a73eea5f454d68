package plm

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
)

var validate = validator.New()

// PushRequest is the external-facing (CLI/config-file) shape a push is
// requested in, validated at the boundary before any sheet I/O or PLM
// calls happen. It is distinct from PushInput, which carries live
// tabularstore.Sheet handles the pipeline actually operates on;
// cmd/arenasync's resolvePushInput fills PushInput in once the named
// sheets are opened. Grounded on the
// teacher's boundary-validation convention in
// internal/api/middleware/validation.go (struct-tag validation ahead of
// handler logic), adapted from an HTTP request body to a CLI/file input.
type PushRequest struct {
	GridName            string              `validate:"required"`
	TopNumber           string              `validate:"required"`
	TopName             string              `validate:"required"`
	TopCategoryID       string              `validate:"required"`
	RowCategoryID       string              `validate:"required"`
	PositionAttributeID string              `validate:"omitempty"`
	Racks               []RackConfigRequest `validate:"required,min=1,dive"`
}

// RackConfigRequest is one rack entry of a PushRequest.
type RackConfigRequest struct {
	Number string `validate:"required"`
}

// Validate runs struct-tag validation and the cross-field checks
// validator tags can't express on their own (duplicate rack numbers),
// returning a syncerr.KindValidation-wrapped, field-labeled error
// the way ValidateStruct's caller formats validator.ValidationErrors in
// the teacher's middleware.
func (r PushRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return wrapValidationErr(err)
	}
	seen := make(map[string]bool, len(r.Racks))
	for _, rack := range r.Racks {
		num := strings.ToUpper(strings.TrimSpace(rack.Number))
		if seen[num] {
			return newValidationError(fmt.Sprintf("duplicate rack number %q", rack.Number))
		}
		seen[num] = true
	}
	return nil
}

// GridPlacementRequest describes one cell of the grid being consolidated
// (SPEC_FULL.md §3's structured input to the Consolidation Engine),
// validated by ValidateGridPlacements. ScanGrid reads the grid sheet
// directly and does not call ValidateGridPlacements.
type GridPlacementRequest struct {
	RowName    string `validate:"required"`
	RackNumber string `validate:"required"`
	Position   string `validate:"required"`
}

// ValidateGridPlacements checks a batch of grid placements ahead of consolidation.
func ValidateGridPlacements(placements []GridPlacementRequest) error {
	for i, p := range placements {
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("placement[%d]: %w", i, wrapValidationErr(err))
		}
	}
	return nil
}

func wrapValidationErr(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
		return newValidationError(strings.Join(fields, "; "))
	}
	return newValidationError(err.Error())
}

func newValidationError(msg string) error {
	return syncerr.New(syncerr.KindValidation, msg)
}
