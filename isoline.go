package qdopt

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// IsoLineEmitter implements the Iso+LineDD operator of Vassiliades and
// Mouret: isotropic Gaussian noise around one parent plus a scaled
// random step along the difference toward a second parent. The
// directional component biases offspring along the correlation
// structure the archive has already discovered.
type IsoLineEmitter struct {
	archive   Archive
	x0        []float64
	sigmaIso  float64
	sigmaLine float64
	lower     []float64
	upper     []float64

	rng  *rand.Rand
	norm distuv.Normal
}

var _ Emitter = (*IsoLineEmitter)(nil)

// NewIsoLineEmitter builds an Iso+LineDD emitter over archive with
// isotropic scale sigmaIso and directional scale sigmaLine. If src is
// nil the generator is time-seeded.
func NewIsoLineEmitter(archive Archive, x0 []float64, sigmaIso, sigmaLine float64, bounds []Bound, src rand.Source) (*IsoLineEmitter, error) {
	if archive == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil archive")
	}
	if sigmaIso < 0 || sigmaLine < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "sigmaIso = %v, sigmaLine = %v", sigmaIso, sigmaLine)
	}
	dim := archive.SolutionDim()
	x0v, err := broadcast(x0, dim, "x0")
	if err != nil {
		return nil, err
	}
	lower, upper, err := expandBounds(bounds, dim)
	if err != nil {
		return nil, err
	}
	rng := newRand(src)
	return &IsoLineEmitter{
		archive:   archive,
		x0:        x0v,
		sigmaIso:  sigmaIso,
		sigmaLine: sigmaLine,
		lower:     lower,
		upper:     upper,
		rng:       rng,
		norm:      distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}, nil
}

// Archive returns the archive this emitter inserts into.
func (e *IsoLineEmitter) Archive() Archive { return e.archive }

// Ask returns n candidates. Each offspring uses two parents x1, x2
// drawn independently with replacement (both x0 while the archive is
// empty): x1 + sigmaIso*z + sigmaLine*(x2-x1)*u with z ~ N(0, I) and
// scalar u ~ N(0, 1), clamped to the bounds.
func (e *IsoLineEmitter) Ask(n int) *mat.Dense {
	dim := len(e.x0)
	x1s := sampleParents(e.archive, e.rng, n, e.x0)
	x2s := sampleParents(e.archive, e.rng, n, e.x0)
	xs := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		row := xs.RawRowView(i)
		for j := range row {
			row[j] = x1s[i][j] + e.sigmaIso*e.norm.Rand()
		}
		u := e.norm.Rand()
		for j := range row {
			row[j] += e.sigmaLine * (x2s[i][j] - x1s[i][j]) * u
		}
		clampRow(row, e.lower, e.upper)
	}
	return xs
}

// Tell inserts every evaluated candidate into the archive.
func (e *IsoLineEmitter) Tell(solutions *mat.Dense, objectives []float64, measures *mat.Dense) error {
	return tellArchive(e.archive, solutions, objectives, measures)
}
