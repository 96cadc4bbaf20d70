package qdopt

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianEmitter perturbs archive incumbents with axis-aligned Gaussian
// noise. Parents are drawn uniformly from the archive once it is
// nonempty; before that every parent is x0.
type GaussianEmitter struct {
	archive Archive
	x0      []float64
	sigma   []float64
	lower   []float64
	upper   []float64

	rng  *rand.Rand
	norm distuv.Normal
}

var _ Emitter = (*GaussianEmitter)(nil)

// NewGaussianEmitter builds a Gaussian emitter over archive. x0 and
// sigma may be length 1 (broadcast across the solution dimension) or
// full length; sigma must be non-negative. If src is nil the generator
// is time-seeded.
func NewGaussianEmitter(archive Archive, x0, sigma []float64, bounds []Bound, src rand.Source) (*GaussianEmitter, error) {
	if archive == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil archive")
	}
	dim := archive.SolutionDim()
	x0v, err := broadcast(x0, dim, "x0")
	if err != nil {
		return nil, err
	}
	sigmav, err := broadcast(sigma, dim, "sigma")
	if err != nil {
		return nil, err
	}
	for i, s := range sigmav {
		if s < 0 {
			return nil, errors.Wrapf(ErrInvalidArgument, "sigma[%d] = %v", i, s)
		}
	}
	lower, upper, err := expandBounds(bounds, dim)
	if err != nil {
		return nil, err
	}
	rng := newRand(src)
	return &GaussianEmitter{
		archive: archive,
		x0:      x0v,
		sigma:   sigmav,
		lower:   lower,
		upper:   upper,
		rng:     rng,
		norm:    distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}, nil
}

// Archive returns the archive this emitter inserts into.
func (e *GaussianEmitter) Archive() Archive { return e.archive }

// Ask returns n candidates: parent + sigma-scaled unit normal noise,
// clamped to the bounds.
func (e *GaussianEmitter) Ask(n int) *mat.Dense {
	dim := len(e.x0)
	parents := sampleParents(e.archive, e.rng, n, e.x0)
	xs := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		row := xs.RawRowView(i)
		for j := range row {
			row[j] = parents[i][j] + e.sigma[j]*e.norm.Rand()
		}
		clampRow(row, e.lower, e.upper)
	}
	return xs
}

// Tell inserts every evaluated candidate into the archive.
func (e *GaussianEmitter) Tell(solutions *mat.Dense, objectives []float64, measures *mat.Dense) error {
	return tellArchive(e.archive, solutions, objectives, measures)
}
