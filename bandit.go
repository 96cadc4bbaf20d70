package qdopt

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// BanditStrategy selects how the bandit scheduler allocates batches
// across its emitter pool.
type BanditStrategy int

const (
	// UCB1 scores emitters by mean reward plus a zeta-scaled
	// exploration bonus sqrt(2 ln(total pulls)/pulls). Unpulled
	// emitters are selected first, uniformly at random. The default
	// and documented primary variant.
	UCB1 BanditStrategy = iota
	// ThompsonSampling keeps a Welford running mean and variance of
	// per-batch mean rewards and scores each emitter with a Gaussian
	// posterior sample.
	ThompsonSampling
)

// BanditScheduler treats emitter selection as a multi-armed bandit:
// each batch it activates numActive emitters chosen by the configured
// strategy, splits the batch between them, and folds the observed
// objectives back into the per-emitter statistics.
type BanditScheduler struct {
	schedulerCore

	numActive int
	strategy  BanditStrategy

	// UCB1 state.
	pulls   []int
	rewards []float64

	// Thompson state (Welford on per-batch mean reward).
	counts []int
	means  []float64
	m2s    []float64

	rng  *rand.Rand
	norm distuv.Normal
}

// NewBanditScheduler builds a bandit scheduler activating numActive of
// the emitters per batch (0 < numActive <= len(emitters)). If src is
// nil the selection RNG is time-seeded.
func NewBanditScheduler(emitters []Emitter, numActive int, strategy BanditStrategy, src rand.Source, opts ...SchedulerOption) (*BanditScheduler, error) {
	core, err := newSchedulerCore(emitters, opts)
	if err != nil {
		return nil, err
	}
	if numActive <= 0 || numActive > len(emitters) {
		return nil, errors.Wrapf(ErrInvalidArgument, "numActive %d with %d emitters", numActive, len(emitters))
	}
	rng := newRand(src)
	return &BanditScheduler{
		schedulerCore: core,
		numActive:     numActive,
		strategy:      strategy,
		pulls:         make([]int, len(emitters)),
		rewards:       make([]float64, len(emitters)),
		counts:        make([]int, len(emitters)),
		means:         make([]float64, len(emitters)),
		m2s:           make([]float64, len(emitters)),
		rng:           rng,
		norm:          distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}, nil
}

// selectEmitters returns the indices active this batch.
func (s *BanditScheduler) selectEmitters() []int {
	switch s.strategy {
	case ThompsonSampling:
		return s.topScores(s.thompsonScores())
	default:
		var unused []int
		for i, n := range s.pulls {
			if n == 0 {
				unused = append(unused, i)
			}
		}
		if len(unused) > 0 {
			s.rng.Shuffle(len(unused), func(i, j int) {
				unused[i], unused[j] = unused[j], unused[i]
			})
			if len(unused) > s.numActive {
				unused = unused[:s.numActive]
			}
			return unused
		}
		total := 0
		for _, n := range s.pulls {
			total += n
		}
		scores := make([]float64, len(s.emitters))
		for i := range scores {
			ne := float64(s.pulls[i])
			scores[i] = s.rewards[i]/ne + s.zeta*math.Sqrt(2*math.Log(float64(total))/ne)
		}
		return s.topScores(scores)
	}
}

func (s *BanditScheduler) thompsonScores() []float64 {
	scores := make([]float64, len(s.emitters))
	for i := range scores {
		if s.counts[i] == 0 {
			// Force one pull of every arm before sampling takes over.
			scores[i] = math.Inf(1)
			continue
		}
		v := s.m2s[i] / float64(s.counts[i])
		scores[i] = s.means[i] + s.norm.Rand()*math.Sqrt(v)
	}
	return scores
}

// topScores returns the numActive highest-scoring emitter indices,
// earlier index winning ties.
func (s *BanditScheduler) topScores(scores []float64) []int {
	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(i, j int) bool {
		return scores[idxs[i]] > scores[idxs[j]]
	})
	return idxs[:s.numActive]
}

// updateStats folds an emitter's observed objectives into its selection
// statistics.
func (s *BanditScheduler) updateStats(e int, objectives []float64) {
	switch s.strategy {
	case ThompsonSampling:
		x := stat.Mean(objectives, nil)
		s.counts[e]++
		delta := x - s.means[e]
		s.means[e] += delta / float64(s.counts[e])
		s.m2s[e] += delta * (x - s.means[e])
	default:
		s.rewards[e] += floats.Sum(objectives)
		s.pulls[e] += len(objectives)
	}
}

// Run drives batches as in the round-robin scheduler, but each batch is
// split across the numActive emitters chosen by the bandit strategy:
// every active emitter is asked for ceil(batchSize/numActive)
// candidates, truncated so the batch total never exceeds batchSize; all
// slices are evaluated together and told back to their emitters.
func (s *BanditScheduler) Run(f Objective, nEvaluations int) error {
	if nEvaluations <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "evaluation budget %d", nEvaluations)
	}
	if err := s.validateObjective(f); err != nil {
		return err
	}
	nBatches := (nEvaluations + s.batchSize - 1) / s.batchSize
	for b := 0; b < nBatches; b++ {
		active := s.selectEmitters()
		quota := (s.batchSize + len(active) - 1) / len(active)

		type slice struct {
			emitter int
			xs      *mat.Dense
			start   int
		}
		slices := make([]slice, 0, len(active))
		remaining := s.batchSize
		total := 0
		for _, e := range active {
			if remaining <= 0 {
				break
			}
			q := quota
			if q > remaining {
				q = remaining
			}
			slices = append(slices, slice{emitter: e, xs: s.emitters[e].Ask(q), start: total})
			remaining -= q
			total += q
		}

		xs := mat.NewDense(total, s.solutionDim, nil)
		for _, sl := range slices {
			rows, _ := sl.xs.Dims()
			for i := 0; i < rows; i++ {
				xs.SetRow(sl.start+i, sl.xs.RawRowView(i))
			}
		}
		objectives, measures, err := s.evaluate(f, xs)
		if err != nil {
			return err
		}
		for _, sl := range slices {
			rows, _ := sl.xs.Dims()
			objs := objectives[sl.start : sl.start+rows]
			meas := measures.Slice(sl.start, sl.start+rows, 0, s.measureDim).(*mat.Dense)
			if err := s.emitters[sl.emitter].Tell(sl.xs, objs, meas); err != nil {
				return err
			}
			s.updateStats(sl.emitter, objs)
		}
		s.batch++
		s.totalEvals += total
		s.report()
	}
	return nil
}
