package qdopt

import "github.com/pkg/errors"

// The error kinds reported at API boundaries. They are raised by
// constructors and public method entry, never caught internally: the
// schedulers surface them unchanged to the caller. Call sites attach
// context with errors.Wrapf, so test membership with errors.Is.
var (
	// ErrDimensionMismatch reports a solution or measure whose length
	// differs from the dimension declared at archive construction.
	ErrDimensionMismatch = errors.New("qdopt: dimension mismatch")

	// ErrInvalidArgument reports an invalid construction parameter
	// (inverted ranges, non-positive sizes, numActive exceeding the
	// emitter count, or emitters with mismatched dimensions) or an
	// invalid call argument such as a non-positive evaluation budget
	// passed to Run or a negative sample size.
	ErrInvalidArgument = errors.New("qdopt: invalid argument")

	// ErrInvalidObjective reports an objective callback whose return
	// record violates the evaluation contract.
	ErrInvalidObjective = errors.New("qdopt: invalid objective")

	// ErrEmptyArchive reports a Sample call on an empty archive.
	ErrEmptyArchive = errors.New("qdopt: empty archive")
)
