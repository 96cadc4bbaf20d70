package qdopt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func newTestGrid(t *testing.T, opts ...GridOption) *GridArchive {
	t.Helper()
	a, err := NewGridArchive(2, []int{10, 10}, [][2]float64{{0, 1}, {0, 1}}, opts...)
	require.NoError(t, err)
	return a
}

func TestGridArchive_InvalidConstruction(t *testing.T) {
	_, err := NewGridArchive(0, []int{10}, [][2]float64{{0, 1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewGridArchive(2, []int{10, 0}, [][2]float64{{0, 1}, {0, 1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Inverted range.
	_, err = NewGridArchive(2, []int{10, 10}, [][2]float64{{1, 0}, {0, 1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Range/dims length mismatch.
	_, err = NewGridArchive(2, []int{10, 10}, [][2]float64{{0, 1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewGridArchive(2, []int{10, 10}, [][2]float64{{0, 1}, {0, 1}}, WithLearningRate(1.5))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// The reference mapping of scenario S1, shifted to 0-based indices.
func TestGridArchive_Index(t *testing.T) {
	a := newTestGrid(t)

	for _, tc := range []struct {
		measure []float64
		want    int
	}{
		{[]float64{0.05, 0.05}, 0},
		{[]float64{0.95, 0.95}, 99},
		{[]float64{0.25, 0.55}, 52},
		// The outer bins are half-open toward +-Inf.
		{[]float64{-3, -3}, 0},
		{[]float64{7, 7}, 99},
	} {
		got, err := a.Index(tc.measure)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "measure %v", tc.measure)
	}

	_, err := a.Index([]float64{0.5})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

// Scenario S2: add/retrieve with the default learning rate of 1.
func TestGridArchive_AddRetrieve(t *testing.T) {
	a := newTestGrid(t)

	res, err := a.Add([]float64{0.5, 0.5}, 1.0, []float64{0.3, 0.3})
	require.NoError(t, err)
	assert.Equal(t, AddResult{StatusNew, 1.0}, res)

	el, ok := a.Get([]float64{0.3, 0.3})
	require.True(t, ok)
	assert.Equal(t, 1.0, el.Objective)
	assert.Equal(t, []float64{0.5, 0.5}, el.Solution)

	res, err = a.Add([]float64{0.7, 0.7}, 2.0, []float64{0.3, 0.3})
	require.NoError(t, err)
	// Improvement is measured against the incumbent.
	assert.Equal(t, AddResult{StatusImprove, 1.0}, res)

	res, err = a.Add([]float64{0.1, 0.1}, 0.5, []float64{0.3, 0.3})
	require.NoError(t, err)
	assert.Equal(t, StatusNotAdded, res.Status)
	assert.InDelta(t, 0.5-2.0, res.Value, 1e-12)

	assert.Equal(t, 1, a.Len())
	assert.False(t, a.Empty())
}

func TestGridArchive_DimensionMismatch(t *testing.T) {
	a := newTestGrid(t)
	_, err := a.Add([]float64{0.5}, 1.0, []float64{0.3, 0.3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = a.Add([]float64{0.5, 0.5}, 1.0, []float64{0.3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

// With learning rate 1 the threshold tracks the maximum accepted
// objective exactly.
func TestGridArchive_ThresholdMonotone(t *testing.T) {
	a := newTestGrid(t)
	meas := []float64{0.3, 0.3}
	best := math.Inf(-1)
	for _, obj := range []float64{1, 3, 2, 5, 4, 5} {
		res, err := a.Add([]float64{0, 0}, obj, meas)
		require.NoError(t, err)
		if res.Status.Added() && obj > best {
			best = obj
		}
		tau, err := a.Threshold(meas)
		require.NoError(t, err)
		assert.Equal(t, best, tau)
	}
}

func TestGridArchive_ThresholdBlend(t *testing.T) {
	a := newTestGrid(t, WithLearningRate(0.5), WithThresholdMin(0))
	meas := []float64{0.3, 0.3}

	// New cell: threshold jumps to the accepted objective.
	_, err := a.Add([]float64{0, 0}, 1.0, meas)
	require.NoError(t, err)
	tau, err := a.Threshold(meas)
	require.NoError(t, err)
	assert.Equal(t, 1.0, tau)

	// Improvement: tau <- (1-alpha)*tau + alpha*obj.
	_, err = a.Add([]float64{0, 0}, 2.0, meas)
	require.NoError(t, err)
	tau, err = a.Threshold(meas)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, tau, 1e-12)

	// Candidates below the blended threshold are rejected even though
	// they beat ThresholdMin.
	res, err := a.Add([]float64{0, 0}, 1.2, meas)
	require.NoError(t, err)
	assert.Equal(t, StatusNotAdded, res.Status)

	// Thresholds never drop below ThresholdMin.
	unocc := []float64{0.9, 0.9}
	tau, err = a.Threshold(unocc)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tau)
}

// With a learning rate below 1 the current incumbent can be worse than
// the best entry ever accepted; GetElite must keep the best.
func TestGridArchive_ElitePermanence(t *testing.T) {
	a := newTestGrid(t, WithLearningRate(0.1), WithThresholdMin(0))
	meas := []float64{0.3, 0.3}

	_, err := a.Add([]float64{1, 1}, 10.0, meas)
	require.NoError(t, err)
	// tau = 10. Accepting 11 lifts the incumbent to 11 but only nudges
	// the threshold to 0.9*10 + 0.1*11 = 10.1.
	_, err = a.Add([]float64{2, 2}, 11.0, meas)
	require.NoError(t, err)
	// 10.5 beats the threshold yet is worse than the incumbent: it
	// replaces the occupant while the elite record keeps 11.
	res, err := a.Add([]float64{3, 3}, 10.5, meas)
	require.NoError(t, err)
	assert.Equal(t, StatusImprove, res.Status)
	assert.InDelta(t, 10.5-11.0, res.Value, 1e-12)

	cur, ok := a.Get(meas)
	require.True(t, ok)
	assert.Equal(t, 10.5, cur.Objective)
	assert.Equal(t, []float64{3, 3}, cur.Solution)

	el, ok := a.GetElite(meas)
	require.True(t, ok)
	assert.Equal(t, 11.0, el.Objective)
	assert.Equal(t, []float64{2, 2}, el.Solution)
}

func TestGridArchive_Stats(t *testing.T) {
	a := newTestGrid(t)
	assert.Equal(t, 100, a.Cells())
	assert.Equal(t, 0.0, a.Coverage())
	assert.True(t, math.IsInf(a.ObjMax(), -1))
	assert.True(t, math.IsNaN(a.ObjMean()))
	assert.Equal(t, 0.0, a.QDScore())

	_, err := a.Add([]float64{0, 0}, 2.0, []float64{0.05, 0.05})
	require.NoError(t, err)
	_, err = a.Add([]float64{0, 0}, 4.0, []float64{0.95, 0.95})
	require.NoError(t, err)
	// A rejected negative objective still drags the offset down.
	_, err = a.Add([]float64{0, 0}, -1.0, []float64{0.05, 0.05})
	require.NoError(t, err)

	assert.Equal(t, 2, a.Len())
	assert.InDelta(t, 0.02, a.Coverage(), 1e-12)
	assert.Equal(t, 4.0, a.ObjMax())
	assert.InDelta(t, 3.0, a.ObjMean(), 1e-12)
	// qd_score = (2 - (-1)) + (4 - (-1)).
	assert.InDelta(t, 8.0, a.QDScore(), 1e-12)
	assert.InDelta(t, 0.08, a.NormQDScore(), 1e-12)
}

func TestGridArchive_QDScoreIdentity(t *testing.T) {
	a := newTestGrid(t)
	rng := rand.New(rand.NewSource(7))
	minSeen := 0.0
	for i := 0; i < 500; i++ {
		obj := rng.NormFloat64() * 3
		if obj < minSeen {
			minSeen = obj
		}
		_, err := a.Add([]float64{rng.Float64(), rng.Float64()}, obj, []float64{rng.Float64(), rng.Float64()})
		require.NoError(t, err)
	}
	sum := 0.0
	for _, c := range a.occupiedIx {
		sum += a.objectives[c] - a.qdOffset
	}
	assert.InDelta(t, sum, a.QDScore(), 1e-9)
	assert.Equal(t, minSeen, a.qdOffset)
	assert.GreaterOrEqual(t, a.Coverage(), 0.0)
	assert.LessOrEqual(t, a.Coverage(), 1.0)
	assert.Equal(t, a.Len(), len(a.Elites()))
}

func TestGridArchive_Clear(t *testing.T) {
	a := newTestGrid(t)
	_, err := a.Add([]float64{0, 0}, -2.0, []float64{0.5, 0.5})
	require.NoError(t, err)
	a.Clear()
	assert.True(t, a.Empty())
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0.0, a.qdOffset)
	_, ok := a.Get([]float64{0.5, 0.5})
	assert.False(t, ok)
}

// Scenario S6: sampling an empty archive fails.
func TestGridArchive_SampleEmpty(t *testing.T) {
	a := newTestGrid(t)
	_, err := a.Sample(rand.New(rand.NewSource(1)), 1)
	assert.ErrorIs(t, err, ErrEmptyArchive)
}

func TestGridArchive_Sample(t *testing.T) {
	a := newTestGrid(t)
	_, err := a.Add([]float64{1, 2}, 1.0, []float64{0.1, 0.1})
	require.NoError(t, err)
	_, err = a.Add([]float64{3, 4}, 2.0, []float64{0.9, 0.9})
	require.NoError(t, err)

	es, err := a.Sample(rand.New(rand.NewSource(1)), 32)
	require.NoError(t, err)
	require.Len(t, es, 32)
	for _, e := range es {
		assert.Contains(t, []float64{1.0, 2.0}, e.Objective)
	}
}
