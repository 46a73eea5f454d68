package plm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
)

// isMethodNotAllowed reports whether err represents an HTTP 405 from the
// PLM, the signal smart sync's PUT->DELETE+POST fallback watches for
// (spec.md §4.5, §9 "it is unclear which server version requires it").
func isMethodNotAllowed(err error) bool {
	var se *syncerr.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusMethodNotAllowed
}

func errMissingChildID(childNumber string) error {
	return syncerr.New(syncerr.KindNotFound, fmt.Sprintf("child component %q has no resolved opaque id", childNumber))
}
