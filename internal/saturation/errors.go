package saturation

import (
	"errors"

	fpmath "SatLedger/internal/math"
)

var (
	// ErrInvalidIdentity rejects the nil account.
	ErrInvalidIdentity = errors.New("invalid account identity")

	// ErrCapacityExceeded means the position cannot be placed within the
	// pool's saturation ceiling. Retrying with a smaller position may succeed.
	ErrCapacityExceeded = errors.New("saturation capacity exceeded")

	// ErrArithmeticOverflow is raised when a fixed-width value would wrap.
	ErrArithmeticOverflow = fpmath.ErrOverflow
)
