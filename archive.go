package qdopt

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// Status reports how an archive handled a candidate passed to Add.
type Status int

const (
	// StatusNotAdded means the candidate did not beat the acceptance
	// bar of its cell (or was dominated, for a Pareto archive).
	StatusNotAdded Status = iota
	// StatusNew means the candidate occupied a previously empty cell.
	StatusNew
	// StatusImprove means the candidate replaced an incumbent.
	StatusImprove
)

func (s Status) String() string {
	switch s {
	case StatusNotAdded:
		return "NotAdded"
	case StatusNew:
		return "New"
	case StatusImprove:
		return "Improve"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Added reports whether the candidate was stored.
func (s Status) Added() bool { return s != StatusNotAdded }

// AddResult is the outcome of an Add call. On a grid archive Value
// depends on the status: the candidate objective for StatusNew, the
// improvement over the replaced incumbent for StatusImprove, and the
// (non-positive) shortfall objective-threshold for StatusNotAdded. A
// Pareto archive reports the candidate objective for every status. A
// StatusNotAdded result is a normal outcome, not an error.
type AddResult struct {
	Status Status
	Value  float64
}

// Elite is a stored archive entry: the solution recorded for cell Cell
// together with its objective value and measure.
type Elite struct {
	Cell      int
	Solution  []float64
	Objective float64
	Measure   []float64
}

// Archive stores at most one incumbent per region of measure space and
// exposes the QD summary statistics over its occupied cells.
//
// Archives are not safe for concurrent mutation. The schedulers in this
// package serialize all Add calls on the goroutine driving Run.
type Archive interface {
	// Add offers a candidate to the archive and reports how it was
	// handled. The objective of every candidate, accepted or not, is
	// folded into the QD score offset.
	Add(solution []float64, objective float64, measure []float64) (AddResult, error)
	// Clear empties the archive and resets all bookkeeping.
	Clear()
	// Get returns the current incumbent of the cell that measure maps
	// to, and whether that cell is occupied.
	Get(measure []float64) (Elite, bool)
	// GetElite returns the best entry ever accepted into the cell that
	// measure maps to, which may be better than the current incumbent
	// when the archive runs with a learning rate below 1.
	GetElite(measure []float64) (Elite, bool)
	// Elites returns the best-ever entries of all occupied cells.
	Elites() []Elite
	// Sample draws n incumbents uniformly with replacement from the
	// occupied cells using rng. It fails with ErrEmptyArchive when the
	// archive is empty.
	Sample(rng *rand.Rand, n int) ([]Elite, error)

	// Len is the number of occupied cells.
	Len() int
	// Empty reports whether no cell is occupied.
	Empty() bool
	// SolutionDim is the length of stored solution vectors.
	SolutionDim() int
	// MeasureDim is the length of measure vectors.
	MeasureDim() int
	// Cells is the total cell count of the tessellation.
	Cells() int

	// Coverage is Len()/Cells().
	Coverage() float64
	// ObjMax is the maximum incumbent objective, -Inf when empty.
	ObjMax() float64
	// ObjMean is the mean incumbent objective, NaN when empty.
	ObjMean() float64
	// QDScore is the sum over occupied cells of objective minus the
	// running minimum objective ever offered to Add.
	QDScore() float64
	// NormQDScore is QDScore()/Cells().
	NormQDScore() float64
}
