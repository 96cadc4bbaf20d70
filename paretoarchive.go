package qdopt

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ParetoArchive keeps the non-dominated set over the joint vector
// (objective, measure[0], ..., measure[m-1]), all components maximized.
// Unlike a grid archive it has no fixed tessellation: every stored
// point counts as one occupied cell, so Cells() equals Len() and
// Coverage() is 1 whenever the archive is nonempty.
type ParetoArchive struct {
	solutionDim int
	measureDim  int

	points   []Elite
	qdOffset float64
}

var _ Archive = (*ParetoArchive)(nil)

// NewParetoArchive builds an empty Pareto archive for solutions of
// length solutionDim and measures of length measureDim.
func NewParetoArchive(solutionDim, measureDim int) (*ParetoArchive, error) {
	if solutionDim <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "solution dimension %d", solutionDim)
	}
	if measureDim <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "measure dimension %d", measureDim)
	}
	return &ParetoArchive{solutionDim: solutionDim, measureDim: measureDim}, nil
}

// SolutionDim returns the solution vector length.
func (a *ParetoArchive) SolutionDim() int { return a.solutionDim }

// MeasureDim returns the measure vector length.
func (a *ParetoArchive) MeasureDim() int { return a.measureDim }

// Cells returns the stored point count.
func (a *ParetoArchive) Cells() int { return len(a.points) }

// Len returns the stored point count.
func (a *ParetoArchive) Len() int { return len(a.points) }

// Empty reports whether the archive holds no points.
func (a *ParetoArchive) Empty() bool { return len(a.points) == 0 }

// dominates reports whether (objA, measA) >= (objB, measB) componentwise
// with at least one strictly greater component.
func dominates(objA float64, measA []float64, objB float64, measB []float64) bool {
	strict := objA > objB
	if objA < objB {
		return false
	}
	for i := range measA {
		if measA[i] < measB[i] {
			return false
		}
		if measA[i] > measB[i] {
			strict = true
		}
	}
	return strict
}

// Add inserts the candidate unless it is dominated by a stored point.
// Every stored point the candidate dominates is removed; the status is
// StatusImprove when any were, StatusNew otherwise. Value carries the
// candidate objective in every case.
func (a *ParetoArchive) Add(solution []float64, objective float64, measure []float64) (AddResult, error) {
	if len(solution) != a.solutionDim {
		return AddResult{}, errors.Wrapf(ErrDimensionMismatch, "solution length %d, want %d", len(solution), a.solutionDim)
	}
	if len(measure) != a.measureDim {
		return AddResult{}, errors.Wrapf(ErrDimensionMismatch, "measure length %d, want %d", len(measure), a.measureDim)
	}
	if objective < a.qdOffset {
		a.qdOffset = objective
	}
	for i := range a.points {
		if dominates(a.points[i].Objective, a.points[i].Measure, objective, measure) {
			return AddResult{StatusNotAdded, objective}, nil
		}
	}
	kept := a.points[:0]
	removed := false
	for _, p := range a.points {
		if dominates(objective, measure, p.Objective, p.Measure) {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	a.points = append(kept, Elite{
		Cell:      len(kept),
		Solution:  dup(solution),
		Objective: objective,
		Measure:   dup(measure),
	})
	if removed {
		return AddResult{StatusImprove, objective}, nil
	}
	return AddResult{StatusNew, objective}, nil
}

// Clear removes all points and resets the QD score offset.
func (a *ParetoArchive) Clear() {
	a.points = a.points[:0]
	a.qdOffset = 0
}

// Get returns the stored point whose measure is closest to measure in
// squared Euclidean distance. It panics if the measure has the wrong
// length.
func (a *ParetoArchive) Get(measure []float64) (Elite, bool) {
	if len(measure) != a.measureDim {
		panic("qdopt: measure length mismatch")
	}
	best, bestDist := -1, math.Inf(1)
	for i := range a.points {
		d := floats.Distance(a.points[i].Measure, measure, 2)
		if d*d < bestDist {
			best, bestDist = i, d*d
		}
	}
	if best < 0 {
		return Elite{}, false
	}
	return a.copyPoint(best), true
}

// GetElite is identical to Get: a Pareto archive never discards an
// accepted point in favor of a worse one, so the stored set is the
// best-ever set.
func (a *ParetoArchive) GetElite(measure []float64) (Elite, bool) {
	return a.Get(measure)
}

func (a *ParetoArchive) copyPoint(i int) Elite {
	p := a.points[i]
	return Elite{Cell: i, Solution: dup(p.Solution), Objective: p.Objective, Measure: dup(p.Measure)}
}

// Elites returns copies of all stored points.
func (a *ParetoArchive) Elites() []Elite {
	es := make([]Elite, len(a.points))
	for i := range a.points {
		es[i] = a.copyPoint(i)
	}
	return es
}

// Sample draws n stored points uniformly with replacement.
func (a *ParetoArchive) Sample(rng *rand.Rand, n int) ([]Elite, error) {
	if a.Empty() {
		return nil, errors.Wrap(ErrEmptyArchive, "sample")
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "sample size %d", n)
	}
	es := make([]Elite, n)
	for i := range es {
		es[i] = a.copyPoint(rng.Intn(len(a.points)))
	}
	return es, nil
}

// Coverage returns 1 when the archive is nonempty, 0 otherwise.
func (a *ParetoArchive) Coverage() float64 {
	if a.Empty() {
		return 0
	}
	return 1
}

// ObjMax returns the maximum stored objective, -Inf when empty.
func (a *ParetoArchive) ObjMax() float64 {
	max := math.Inf(-1)
	for i := range a.points {
		if a.points[i].Objective > max {
			max = a.points[i].Objective
		}
	}
	return max
}

// ObjMean returns the mean stored objective, NaN when empty.
func (a *ParetoArchive) ObjMean() float64 {
	if a.Empty() {
		return math.NaN()
	}
	objs := make([]float64, len(a.points))
	for i := range a.points {
		objs[i] = a.points[i].Objective
	}
	return stat.Mean(objs, nil)
}

// QDScore returns the sum of stored objectives minus the running
// minimum objective ever offered to Add.
func (a *ParetoArchive) QDScore() float64 {
	score := 0.0
	for i := range a.points {
		score += a.points[i].Objective - a.qdOffset
	}
	return score
}

// NormQDScore returns QDScore divided by the stored point count, or 0
// when empty.
func (a *ParetoArchive) NormQDScore() float64 {
	if a.Empty() {
		return 0
	}
	return a.QDScore() / float64(len(a.points))
}
