package qdopt

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GridArchive tessellates measure space into a uniform hyper-rectangular
// grid with a fixed number of bins per measure axis. Each cell holds at
// most one incumbent; a candidate replaces the incumbent only when its
// objective exceeds the cell threshold, which follows the incumbent
// objective through an exponential moving average with coefficient
// LearningRate and never drops below ThresholdMin.
type GridArchive struct {
	solutionDim  int
	dims         []int
	lower, upper []float64
	boundaries   [][]float64
	learningRate float64
	thresholdMin float64
	cells        int

	occupied   []bool
	occupiedIx []int
	solutions  *mat.Dense // cell incumbents, one row per cell
	objectives []float64
	measures   *mat.Dense
	thresholds []float64

	eliteSol  *mat.Dense // best-ever entries, one row per cell
	eliteObj  []float64
	eliteMeas *mat.Dense

	qdOffset float64
}

var _ Archive = (*GridArchive)(nil)

// GridOption configures optional GridArchive parameters.
type GridOption func(*GridArchive)

// WithLearningRate sets the threshold EMA coefficient. The default of 1
// makes thresholds track accepted objectives exactly.
func WithLearningRate(alpha float64) GridOption {
	return func(a *GridArchive) { a.learningRate = alpha }
}

// WithThresholdMin sets the floor on cell thresholds. The default is
// -Inf. An empty cell accepts any objective whatever the floor; the
// floor only bounds the thresholds that later candidates must beat.
func WithThresholdMin(min float64) GridOption {
	return func(a *GridArchive) { a.thresholdMin = min }
}

// NewGridArchive builds a grid archive for solutions of length
// solutionDim over a measure space tessellated with cellsPerMeasure[i]
// uniform bins across measureRanges[i]. The outermost bins extend to
// +-Inf, so every measure maps to some cell.
func NewGridArchive(solutionDim int, cellsPerMeasure []int, measureRanges [][2]float64, opts ...GridOption) (*GridArchive, error) {
	if solutionDim <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "solution dimension %d", solutionDim)
	}
	if len(cellsPerMeasure) == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "no measure dimensions")
	}
	if len(measureRanges) != len(cellsPerMeasure) {
		return nil, errors.Wrapf(ErrInvalidArgument, "%d measure ranges for %d measure dimensions",
			len(measureRanges), len(cellsPerMeasure))
	}
	a := &GridArchive{
		solutionDim:  solutionDim,
		dims:         make([]int, len(cellsPerMeasure)),
		lower:        make([]float64, len(cellsPerMeasure)),
		upper:        make([]float64, len(cellsPerMeasure)),
		boundaries:   make([][]float64, len(cellsPerMeasure)),
		learningRate: 1,
		thresholdMin: math.Inf(-1),
		cells:        1,
	}
	copy(a.dims, cellsPerMeasure)
	for i, k := range a.dims {
		lo, hi := measureRanges[i][0], measureRanges[i][1]
		if k <= 0 {
			return nil, errors.Wrapf(ErrInvalidArgument, "cellsPerMeasure[%d] = %d", i, k)
		}
		if !(lo < hi) {
			return nil, errors.Wrapf(ErrInvalidArgument, "measureRanges[%d] = (%v, %v)", i, lo, hi)
		}
		a.lower[i], a.upper[i] = lo, hi
		a.cells *= k
		// The k-1 interior edges of k uniform bins on (lo, hi).
		edges := make([]float64, k-1)
		for j := range edges {
			edges[j] = lo + (hi-lo)*float64(j+1)/float64(k)
		}
		a.boundaries[i] = edges
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.learningRate < 0 || a.learningRate > 1 || math.IsNaN(a.learningRate) {
		return nil, errors.Wrapf(ErrInvalidArgument, "learning rate %v", a.learningRate)
	}

	a.occupied = make([]bool, a.cells)
	a.solutions = mat.NewDense(a.cells, solutionDim, nil)
	a.objectives = make([]float64, a.cells)
	a.measures = mat.NewDense(a.cells, len(a.dims), nil)
	a.thresholds = make([]float64, a.cells)
	a.eliteSol = mat.NewDense(a.cells, solutionDim, nil)
	a.eliteObj = make([]float64, a.cells)
	a.eliteMeas = mat.NewDense(a.cells, len(a.dims), nil)
	a.Clear()
	return a, nil
}

// SolutionDim returns the solution vector length.
func (a *GridArchive) SolutionDim() int { return a.solutionDim }

// MeasureDim returns the measure vector length.
func (a *GridArchive) MeasureDim() int { return len(a.dims) }

// Cells returns the total cell count of the grid.
func (a *GridArchive) Cells() int { return a.cells }

// Len returns the number of occupied cells.
func (a *GridArchive) Len() int { return len(a.occupiedIx) }

// Empty reports whether no cell is occupied.
func (a *GridArchive) Empty() bool { return len(a.occupiedIx) == 0 }

// LearningRate returns the threshold EMA coefficient.
func (a *GridArchive) LearningRate() float64 { return a.learningRate }

// ThresholdMin returns the floor on cell thresholds.
func (a *GridArchive) ThresholdMin() float64 { return a.thresholdMin }

// Index maps a measure to its cell index. Bins along each axis are
// located with a binary search over the interior edges; the first and
// last bins are half-open toward +-Inf. Indices are 0-based and fold
// row-major with the first measure axis varying fastest.
func (a *GridArchive) Index(measure []float64) (int, error) {
	if len(measure) != len(a.dims) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "measure length %d, want %d", len(measure), len(a.dims))
	}
	return a.indexOf(measure), nil
}

func (a *GridArchive) indexOf(measure []float64) int {
	idx, stride := 0, 1
	for i, m := range measure {
		idx += sort.SearchFloat64s(a.boundaries[i], m) * stride
		stride *= a.dims[i]
	}
	return idx
}

// Threshold returns the acceptance threshold of the cell that measure
// maps to.
func (a *GridArchive) Threshold(measure []float64) (float64, error) {
	if len(measure) != len(a.dims) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "measure length %d, want %d", len(measure), len(a.dims))
	}
	return a.thresholds[a.indexOf(measure)], nil
}

// Add offers a candidate to the archive. An unoccupied cell accepts
// unconditionally and its threshold is raised to the accepted objective
// (floored at ThresholdMin); an occupied cell accepts only objectives
// above its current threshold.
func (a *GridArchive) Add(solution []float64, objective float64, measure []float64) (AddResult, error) {
	if len(solution) != a.solutionDim {
		return AddResult{}, errors.Wrapf(ErrDimensionMismatch, "solution length %d, want %d", len(solution), a.solutionDim)
	}
	if len(measure) != len(a.dims) {
		return AddResult{}, errors.Wrapf(ErrDimensionMismatch, "measure length %d, want %d", len(measure), len(a.dims))
	}
	if objective < a.qdOffset {
		a.qdOffset = objective
	}
	c := a.indexOf(measure)
	if !a.occupied[c] {
		a.occupied[c] = true
		a.occupiedIx = append(a.occupiedIx, c)
		a.solutions.SetRow(c, solution)
		a.objectives[c] = objective
		a.measures.SetRow(c, measure)
		a.thresholds[c] = math.Max(a.thresholdMin, objective)
		a.eliteSol.SetRow(c, solution)
		a.eliteObj[c] = objective
		a.eliteMeas.SetRow(c, measure)
		return AddResult{StatusNew, objective}, nil
	}
	if objective > a.thresholds[c] {
		// Improvement is measured against the incumbent, not the threshold.
		improvement := objective - a.objectives[c]
		a.solutions.SetRow(c, solution)
		a.objectives[c] = objective
		a.measures.SetRow(c, measure)
		alpha := a.learningRate
		a.thresholds[c] = math.Max(a.thresholdMin, (1-alpha)*a.thresholds[c]+alpha*objective)
		if objective > a.eliteObj[c] {
			a.eliteSol.SetRow(c, solution)
			a.eliteObj[c] = objective
			a.eliteMeas.SetRow(c, measure)
		}
		return AddResult{StatusImprove, improvement}, nil
	}
	return AddResult{StatusNotAdded, objective - a.thresholds[c]}, nil
}

// Clear resets occupancy, objectives, thresholds, elites, and the QD
// score offset.
func (a *GridArchive) Clear() {
	for i := range a.occupied {
		a.occupied[i] = false
		a.objectives[i] = math.Inf(-1)
		a.thresholds[i] = a.thresholdMin
		a.eliteObj[i] = math.Inf(-1)
	}
	a.occupiedIx = a.occupiedIx[:0]
	a.qdOffset = 0
}

func (a *GridArchive) incumbent(c int) Elite {
	return Elite{
		Cell:      c,
		Solution:  dup(a.solutions.RawRowView(c)),
		Objective: a.objectives[c],
		Measure:   dup(a.measures.RawRowView(c)),
	}
}

func (a *GridArchive) bestEver(c int) Elite {
	return Elite{
		Cell:      c,
		Solution:  dup(a.eliteSol.RawRowView(c)),
		Objective: a.eliteObj[c],
		Measure:   dup(a.eliteMeas.RawRowView(c)),
	}
}

// Get returns the current incumbent of the cell that measure maps to.
// It panics if the measure has the wrong length.
func (a *GridArchive) Get(measure []float64) (Elite, bool) {
	c := a.mustIndex(measure)
	if !a.occupied[c] {
		return Elite{}, false
	}
	return a.incumbent(c), true
}

// GetElite returns the best entry ever accepted into the cell that
// measure maps to. It panics if the measure has the wrong length.
func (a *GridArchive) GetElite(measure []float64) (Elite, bool) {
	c := a.mustIndex(measure)
	if !a.occupied[c] {
		return Elite{}, false
	}
	return a.bestEver(c), true
}

func (a *GridArchive) mustIndex(measure []float64) int {
	if len(measure) != len(a.dims) {
		panic("qdopt: measure length mismatch")
	}
	return a.indexOf(measure)
}

// Elites returns the best-ever entries of all occupied cells, in the
// order the cells were first occupied.
func (a *GridArchive) Elites() []Elite {
	es := make([]Elite, 0, len(a.occupiedIx))
	for _, c := range a.occupiedIx {
		es = append(es, a.bestEver(c))
	}
	return es
}

// Sample draws n incumbents uniformly with replacement from the
// occupied cells.
func (a *GridArchive) Sample(rng *rand.Rand, n int) ([]Elite, error) {
	if a.Empty() {
		return nil, errors.Wrap(ErrEmptyArchive, "sample")
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "sample size %d", n)
	}
	es := make([]Elite, n)
	for i := range es {
		es[i] = a.incumbent(a.occupiedIx[rng.Intn(len(a.occupiedIx))])
	}
	return es, nil
}

// Coverage returns the fraction of occupied cells.
func (a *GridArchive) Coverage() float64 {
	return float64(len(a.occupiedIx)) / float64(a.cells)
}

// ObjMax returns the maximum incumbent objective, -Inf when empty.
func (a *GridArchive) ObjMax() float64 {
	max := math.Inf(-1)
	for _, c := range a.occupiedIx {
		if a.objectives[c] > max {
			max = a.objectives[c]
		}
	}
	return max
}

// ObjMean returns the mean incumbent objective, NaN when empty.
func (a *GridArchive) ObjMean() float64 {
	if a.Empty() {
		return math.NaN()
	}
	objs := make([]float64, 0, len(a.occupiedIx))
	for _, c := range a.occupiedIx {
		objs = append(objs, a.objectives[c])
	}
	return stat.Mean(objs, nil)
}

// QDScore returns the sum over occupied cells of the incumbent
// objective minus the running minimum objective ever offered to Add.
// The offset keeps the score non-negative for pessimistic objectives.
func (a *GridArchive) QDScore() float64 {
	score := 0.0
	for _, c := range a.occupiedIx {
		score += a.objectives[c] - a.qdOffset
	}
	return score
}

// NormQDScore returns QDScore divided by the total cell count.
func (a *GridArchive) NormQDScore() float64 {
	return a.QDScore() / float64(a.cells)
}
