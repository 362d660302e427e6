// internal/domain/trend/errors.go

package trend

import (
	"github.com/m-mizutani/goerr/v2"
)

// Failure kinds surfaced by the trend core. Callers match them with errors.Is.
var (
	// ErrValidation marks an input that was rejected and skipped (bad embedding,
	// wrong dimension, non-finite values, bad horizon).
	ErrValidation = goerr.New("validation failed")

	// ErrInsufficientHistory is returned when a forecast is requested for a trend
	// with too few score-history points.
	ErrInsufficientHistory = goerr.New("insufficient score history")

	// ErrDimensionMismatch is returned when vectors from incompatible embedding
	// spaces are compared.
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")

	// ErrConflict is returned to the losing side of two overlapping
	// recomputations of the same trend. Retry with fresh state.
	ErrConflict = goerr.New("concurrent update conflict")

	// ErrNotFound is returned by stores for unknown identifiers.
	ErrNotFound = goerr.New("not found")
)
