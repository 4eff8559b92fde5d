// SPDX-License-Identifier: MIT

package gravity

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is wrapped by every configuration error raised at construction.
	ErrConfig = errors.New("gravity: invalid configuration")

	// ErrUnknownArea indicates an area label with no name or target distribution.
	ErrUnknownArea = errors.New("gravity: area label has no name or target distribution")

	// ErrAggregatorStopped is returned to an area whose aggregator has exited.
	ErrAggregatorStopped = errors.New("gravity: aggregator stopped")

	// ErrNonFinite indicates the gravity model produced NaN or Inf values.
	ErrNonFinite = errors.New("gravity: generated matrix contains non-finite values")
)

// configErrorf wraps ErrConfig with a formatted reason.
func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// AreaError attributes a failure to one calibration area.
type AreaError struct {
	Area int
	Name string
	Err  error
}

func (e *AreaError) Error() string {
	return fmt.Sprintf("gravity: area %d (%s): %v", e.Area, e.Name, e.Err)
}

func (e *AreaError) Unwrap() error { return e.Err }
