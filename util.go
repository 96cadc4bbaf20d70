package qdopt

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

// resize takes x and returns a slice of length dim. It returns a resliced x
// if cap(x) >= dim, and a new slice otherwise.
func resize(x []float64, dim int) []float64 {
	if dim > cap(x) {
		return make([]float64, dim)
	}
	return x[:dim]
}

// broadcast expands v to length dim: a length-1 slice is repeated, a
// length-dim slice is copied. Anything else is an argument error.
func broadcast(v []float64, dim int, name string) ([]float64, error) {
	out := make([]float64, dim)
	switch len(v) {
	case 1:
		for i := range out {
			out[i] = v[0]
		}
	case dim:
		copy(out, v)
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "%s has length %d, want 1 or %d", name, len(v), dim)
	}
	return out, nil
}

func clampF(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// clampRow clamps x componentwise to [lower, upper] in place.
func clampRow(x, lower, upper []float64) {
	for i := range x {
		x[i] = clampF(x[i], lower[i], upper[i])
	}
}

// newRand returns a generator for src, or a time-seeded one when src is nil.
func newRand(src rand.Source) *rand.Rand {
	if src == nil {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	return rand.New(src)
}

func dup(x []float64) []float64 {
	r := make([]float64, len(x))
	copy(r, x)
	return r
}
