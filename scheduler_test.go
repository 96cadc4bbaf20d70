package qdopt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// sumObjective is the S3 landscape: objective sum(x) with the solution
// itself as the measure.
func sumObjective(x []float64) Evaluation {
	return Evaluation{Objective: floats.Sum(x), Measure: dup(x)}
}

func newS3Stack(t *testing.T, seed uint64) (*GridArchive, *RoundRobinScheduler) {
	t.Helper()
	a := newTestGrid(t)
	e, err := NewGaussianEmitter(a, []float64{0.5, 0.5}, []float64{0.1}, []Bound{{0, 1}}, rand.NewSource(seed))
	require.NoError(t, err)
	s, err := NewRoundRobinScheduler([]Emitter{e}, WithBatchSize(10))
	require.NoError(t, err)
	return a, s
}

func TestRoundRobinScheduler_InvalidConstruction(t *testing.T) {
	_, err := NewRoundRobinScheduler(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	a := newTestGrid(t)
	e, err := NewGaussianEmitter(a, []float64{0.5}, []float64{0.1}, nil, rand.NewSource(1))
	require.NoError(t, err)

	_, err = NewRoundRobinScheduler([]Emitter{e}, WithBatchSize(0))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewRoundRobinScheduler([]Emitter{e}, WithStatsFrequency(0))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Emitters over archives with different dimensions cannot share a
	// scheduler.
	b, err := NewGridArchive(3, []int{4}, [][2]float64{{0, 1}})
	require.NoError(t, err)
	e2, err := NewGaussianEmitter(b, []float64{0.5}, []float64{0.1}, nil, rand.NewSource(1))
	require.NoError(t, err)
	_, err = NewRoundRobinScheduler([]Emitter{e, e2})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// Scenario S3: coverage grows under a round-robin schedule.
func TestRoundRobinScheduler_CoverageGrows(t *testing.T) {
	a, s := newS3Stack(t, 123)
	require.NoError(t, s.Run(sumObjective, 1000))
	assert.Greater(t, a.Coverage(), 0.0)
	assert.Greater(t, a.Len(), 0)
	assert.Equal(t, 1000, s.TotalEvaluations())
}

// Scenario S5: a malformed callback fails before any real evaluation.
func TestRoundRobinScheduler_InvalidObjective(t *testing.T) {
	_, s := newS3Stack(t, 1)
	calls := 0
	bad := func(x []float64) Evaluation {
		calls++
		return Evaluation{Objective: 0, Measure: []float64{1, 2, 3}}
	}
	err := s.Run(bad, 100)
	assert.ErrorIs(t, err, ErrInvalidObjective)
	// Only the startup probe ran.
	assert.Equal(t, 1, calls)

	err = s.Run(nil, 100)
	assert.ErrorIs(t, err, ErrInvalidObjective)
}

func TestRoundRobinScheduler_ObjectivePanicAborts(t *testing.T) {
	_, s := newS3Stack(t, 1)
	calls := 0
	exploding := func(x []float64) Evaluation {
		calls++
		if calls > 5 {
			panic("boom")
		}
		return Evaluation{Objective: 0, Measure: []float64{0.5, 0.5}}
	}
	err := s.Run(exploding, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

// Invariant: identical seeds and a deterministic objective produce
// identical archives.
func TestRoundRobinScheduler_Reproducible(t *testing.T) {
	a1, s1 := newS3Stack(t, 99)
	a2, s2 := newS3Stack(t, 99)
	require.NoError(t, s1.Run(sumObjective, 500))
	require.NoError(t, s2.Run(sumObjective, 500))
	assert.Equal(t, a1.Elites(), a2.Elites())
	assert.Equal(t, a1.QDScore(), a2.QDScore())
}

// Parallel evaluation must not change the result: RNG consumption and
// archive mutation stay on the orchestrator goroutine.
func TestRoundRobinScheduler_ParallelMatchesSequential(t *testing.T) {
	a1 := newTestGrid(t)
	e1, err := NewGaussianEmitter(a1, []float64{0.5, 0.5}, []float64{0.1}, []Bound{{0, 1}}, rand.NewSource(7))
	require.NoError(t, err)
	s1, err := NewRoundRobinScheduler([]Emitter{e1}, WithBatchSize(16))
	require.NoError(t, err)

	a2 := newTestGrid(t)
	e2, err := NewGaussianEmitter(a2, []float64{0.5, 0.5}, []float64{0.1}, []Bound{{0, 1}}, rand.NewSource(7))
	require.NoError(t, err)
	s2, err := NewRoundRobinScheduler([]Emitter{e2}, WithBatchSize(16), WithParallel(true))
	require.NoError(t, err)

	require.NoError(t, s1.Run(sumObjective, 320))
	require.NoError(t, s2.Run(sumObjective, 320))
	assert.Equal(t, a1.Elites(), a2.Elites())
}

// Emitters sharing one archive are legal; tell calls serialize on the
// run goroutine.
func TestRoundRobinScheduler_SharedArchive(t *testing.T) {
	a := newTestGrid(t)
	e1, err := NewGaussianEmitter(a, []float64{0.5, 0.5}, []float64{0.1}, []Bound{{0, 1}}, rand.NewSource(1))
	require.NoError(t, err)
	e2, err := NewIsoLineEmitter(a, []float64{0.5, 0.5}, 0.05, 0.2, []Bound{{0, 1}}, rand.NewSource(2))
	require.NoError(t, err)
	s, err := NewRoundRobinScheduler([]Emitter{e1, e2}, WithBatchSize(10))
	require.NoError(t, err)
	require.NoError(t, s.Run(sumObjective, 400))
	assert.Greater(t, a.Len(), 0)
	// Both emitters reference the same archive, so reports aggregate
	// a single archive.
	assert.Len(t, s.reportArchives, 1)
}

func ExampleRoundRobinScheduler() {
	archive, err := NewGridArchive(2, []int{10, 10}, [][2]float64{{0, 1}, {0, 1}})
	if err != nil {
		panic(err)
	}
	emitter, err := NewGaussianEmitter(archive, []float64{0.5, 0.5}, []float64{0.1},
		[]Bound{{0, 1}}, rand.NewSource(42))
	if err != nil {
		panic(err)
	}
	scheduler, err := NewRoundRobinScheduler([]Emitter{emitter}, WithBatchSize(10))
	if err != nil {
		panic(err)
	}
	objective := func(x []float64) Evaluation {
		return Evaluation{Objective: floats.Sum(x), Measure: x}
	}
	if err := scheduler.Run(objective, 1000); err != nil {
		panic(err)
	}
	fmt.Println(archive.Coverage() > 0, archive.Len() > 0)
	// Output:
	// true true
}
