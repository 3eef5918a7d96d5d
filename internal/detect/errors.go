package detect

import (
	"fmt"

	dErrors "warden/pkg/domain-errors"
)

// ErrRecursionLimitExceeded is returned when a structured value nests deeper
// than the configured limit. The engine turns it into a RECURSION_LIMIT
// finding instead of failing the scan.
var ErrRecursionLimitExceeded = dErrors.New(dErrors.CodeInvalidInput, "recursion limit exceeded")

// LimitError records where the limit was hit.
type LimitError struct {
	Location string
	Limit    int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s nests deeper than %d", ErrRecursionLimitExceeded.Error(), e.Location, e.Limit)
}

func (e *LimitError) Unwrap() error {
	return ErrRecursionLimitExceeded
}
