package qdopt

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Emitter produces candidate solutions and consumes their evaluations.
// Ask returns a batch of n candidates as the rows of an n x D matrix;
// Tell hands back the evaluated batch for insertion into the emitter's
// archive and any internal adaptation. All RNG consumption happens in
// Ask/Tell on the calling goroutine, never during evaluation.
type Emitter interface {
	Ask(n int) *mat.Dense
	Tell(solutions *mat.Dense, objectives []float64, measures *mat.Dense) error
	Archive() Archive
}

// Bound is a closed per-dimension interval for candidate solutions.
type Bound struct {
	Lower, Upper float64
}

// expandBounds resolves the bounds shorthand: nil means unbounded, a
// single Bound broadcasts across dimensions, and a length-dim slice
// gives per-dimension limits.
func expandBounds(bounds []Bound, dim int) (lower, upper []float64, err error) {
	lower = make([]float64, dim)
	upper = make([]float64, dim)
	switch len(bounds) {
	case 0:
		for i := range lower {
			lower[i] = math.Inf(-1)
			upper[i] = math.Inf(1)
		}
		return lower, upper, nil
	case 1:
		for i := range lower {
			lower[i] = bounds[0].Lower
			upper[i] = bounds[0].Upper
		}
	case dim:
		for i, b := range bounds {
			lower[i] = b.Lower
			upper[i] = b.Upper
		}
	default:
		return nil, nil, errors.Wrapf(ErrInvalidArgument, "%d bounds for dimension %d", len(bounds), dim)
	}
	for i := range lower {
		if !(lower[i] < upper[i]) {
			return nil, nil, errors.Wrapf(ErrInvalidArgument, "bound %d inverted: (%v, %v)", i, lower[i], upper[i])
		}
	}
	return lower, upper, nil
}

// sampleParents returns n parent solutions: copies of x0 while the
// archive is empty, otherwise incumbents drawn uniformly with
// replacement using the emitter's rng.
func sampleParents(a Archive, rng *rand.Rand, n int, x0 []float64) [][]float64 {
	parents := make([][]float64, n)
	if a.Empty() {
		for i := range parents {
			parents[i] = x0
		}
		return parents
	}
	es, err := a.Sample(rng, n)
	if err != nil {
		// Unreachable: the archive was just observed nonempty and no
		// other goroutine mutates it.
		panic(err)
	}
	for i := range parents {
		parents[i] = es[i].Solution
	}
	return parents
}

// tellArchive validates the batch shape and offers every row to the
// archive. Archive rejection is a normal result; only dimension
// violations are errors.
func tellArchive(a Archive, solutions *mat.Dense, objectives []float64, measures *mat.Dense) error {
	n, d := solutions.Dims()
	if d != a.SolutionDim() {
		return errors.Wrapf(ErrDimensionMismatch, "solution dimension %d, want %d", d, a.SolutionDim())
	}
	mn, md := measures.Dims()
	if mn != n || len(objectives) != n {
		return errors.Wrapf(ErrDimensionMismatch, "batch of %d solutions with %d objectives and %d measures",
			n, len(objectives), mn)
	}
	if md != a.MeasureDim() {
		return errors.Wrapf(ErrDimensionMismatch, "measure dimension %d, want %d", md, a.MeasureDim())
	}
	for i := 0; i < n; i++ {
		if _, err := a.Add(solutions.RawRowView(i), objectives[i], measures.RawRowView(i)); err != nil {
			return err
		}
	}
	return nil
}
