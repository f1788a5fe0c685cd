package negf

import (
	"github.com/pkg/errors"

	"github.com/fumin/negf/block"
)

var (
	// ErrShapeMismatch is returned when block dimensions are incompatible for a required product or sum.
	ErrShapeMismatch = block.ErrShape
	// ErrSingular is returned when a required inverse does not exist or is too ill-conditioned.
	ErrSingular = block.ErrSingular
	// ErrConvergence is returned when the decimation of a lead does not meet its tolerance within the maximum iterations.
	ErrConvergence = errors.New("negf: decimation did not converge")
	// ErrIndexOutOfRange is returned for a layer or lead index outside valid bounds.
	ErrIndexOutOfRange = errors.New("negf: index out of range")
	// ErrParams is returned for invalid evaluation parameters.
	ErrParams = errors.New("negf: invalid parameters")
)
