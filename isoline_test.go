package qdopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestIsoLineEmitter_InvalidConstruction(t *testing.T) {
	a := newTestGrid(t)
	_, err := NewIsoLineEmitter(nil, []float64{0.5}, 0.01, 0.2, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewIsoLineEmitter(a, []float64{0.5}, -0.01, 0.2, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewIsoLineEmitter(a, []float64{0.5}, 0.01, -0.2, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// With both scales at zero the operator degenerates to copying x1, so
// an empty archive yields x0 exactly.
func TestIsoLineEmitter_DegenerateScales(t *testing.T) {
	a := newTestGrid(t)
	e, err := NewIsoLineEmitter(a, []float64{0.25, 0.75}, 0, 0, nil, rand.NewSource(1))
	require.NoError(t, err)
	xs := e.Ask(4)
	for i := 0; i < 4; i++ {
		assert.Equal(t, []float64{0.25, 0.75}, xs.RawRowView(i))
	}
}

// With only the line scale active, offspring stay on the line through
// the two parents.
func TestIsoLineEmitter_LineComponent(t *testing.T) {
	a := newTestGrid(t)
	_, err := a.Add([]float64{0, 0}, 1.0, []float64{0.1, 0.1})
	require.NoError(t, err)
	_, err = a.Add([]float64{1, 1}, 2.0, []float64{0.9, 0.9})
	require.NoError(t, err)

	e, err := NewIsoLineEmitter(a, []float64{0.5, 0.5}, 0, 0.2, nil, rand.NewSource(7))
	require.NoError(t, err)
	xs := e.Ask(50)
	n, _ := xs.Dims()
	for i := 0; i < n; i++ {
		row := xs.RawRowView(i)
		// Both parents lie on the x=y diagonal, so every offspring must.
		assert.InDelta(t, row[0], row[1], 1e-12)
	}
}

func TestIsoLineEmitter_BoundsRespect(t *testing.T) {
	a := newTestGrid(t)
	e, err := NewIsoLineEmitter(a, []float64{0.5}, 5, 5, []Bound{{0, 1}}, rand.NewSource(11))
	require.NoError(t, err)
	xs := e.Ask(200)
	n, d := xs.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			v := xs.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}
