package qdopt

import (
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Evaluation is the record an objective callback returns: a scalar
// objective (higher is better) and the measure vector describing the
// solution's behavior.
type Evaluation struct {
	Objective float64
	Measure   []float64
}

// Objective is the user's black-box function. It must be deterministic
// as a function of its input and any RNG it owns; the engine passes no
// hidden state. When evaluated in parallel, any side effects must be
// thread-safe.
type Objective func(x []float64) Evaluation

// schedulerOptions holds the configuration shared by both schedulers.
type schedulerOptions struct {
	batchSize      int
	statsFrequency int
	mode           ReportMode
	reportArchives []Archive
	parallel       bool
	logger         *zap.Logger
	zeta           float64
}

// SchedulerOption configures a scheduler.
type SchedulerOption func(*schedulerOptions)

// WithBatchSize sets the number of evaluations per batch. The default
// is the available CPU count.
func WithBatchSize(n int) SchedulerOption {
	return func(o *schedulerOptions) { o.batchSize = n }
}

// WithStatsFrequency emits a progress report every k batches. The
// default is every batch.
func WithStatsFrequency(k int) SchedulerOption {
	return func(o *schedulerOptions) { o.statsFrequency = k }
}

// WithReportMode sets the report verbosity.
func WithReportMode(m ReportMode) SchedulerOption {
	return func(o *schedulerOptions) { o.mode = m }
}

// WithReportArchives overrides the archives aggregated into progress
// reports. The default is the distinct archives across the emitters.
func WithReportArchives(archives []Archive) SchedulerOption {
	return func(o *schedulerOptions) { o.reportArchives = archives }
}

// WithParallel evaluates batch candidates concurrently across the
// hardware threads. Emitter RNGs and archives are only touched from
// the goroutine driving Run, so results are identical to sequential
// evaluation for a deterministic objective.
func WithParallel(parallel bool) SchedulerOption {
	return func(o *schedulerOptions) { o.parallel = parallel }
}

// WithLogger sets the sink for progress reports. A nil logger (the
// default) disables reporting.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(o *schedulerOptions) { o.logger = logger }
}

// WithExplorationFactor sets the UCB1 exploration coefficient zeta.
// Only the bandit scheduler reads it; the default is 0.05.
func WithExplorationFactor(zeta float64) SchedulerOption {
	return func(o *schedulerOptions) { o.zeta = zeta }
}

// schedulerCore carries the batch loop state shared by the round-robin
// and bandit schedulers.
type schedulerCore struct {
	emitters []Emitter
	schedulerOptions

	solutionDim int
	measureDim  int
	totalEvals  int
	batch       int
}

func newSchedulerCore(emitters []Emitter, opts []SchedulerOption) (schedulerCore, error) {
	c := schedulerCore{
		emitters: emitters,
		schedulerOptions: schedulerOptions{
			batchSize:      runtime.GOMAXPROCS(0),
			statsFrequency: 1,
			zeta:           0.05,
		},
	}
	if len(emitters) == 0 {
		return c, errors.Wrap(ErrInvalidArgument, "no emitters")
	}
	for _, opt := range opts {
		opt(&c.schedulerOptions)
	}
	if c.batchSize <= 0 {
		return c, errors.Wrapf(ErrInvalidArgument, "batch size %d", c.batchSize)
	}
	if c.statsFrequency <= 0 {
		return c, errors.Wrapf(ErrInvalidArgument, "stats frequency %d", c.statsFrequency)
	}
	c.solutionDim = emitters[0].Archive().SolutionDim()
	c.measureDim = emitters[0].Archive().MeasureDim()
	for i, e := range emitters {
		if e.Archive().SolutionDim() != c.solutionDim || e.Archive().MeasureDim() != c.measureDim {
			return c, errors.Wrapf(ErrInvalidArgument, "emitter %d has dimensions (%d, %d), want (%d, %d)",
				i, e.Archive().SolutionDim(), e.Archive().MeasureDim(), c.solutionDim, c.measureDim)
		}
	}
	if c.reportArchives == nil {
		c.reportArchives = distinctArchives(emitters)
	}
	return c, nil
}

// distinctArchives collects the unique archives referenced by emitters,
// preserving first-seen order.
func distinctArchives(emitters []Emitter) []Archive {
	var out []Archive
	for _, e := range emitters {
		a := e.Archive()
		seen := false
		for _, b := range out {
			if a == b {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, a)
		}
	}
	return out
}

// validateObjective probes f on a zero vector before the first batch
// and checks the returned record against the archive dimensions.
func (c *schedulerCore) validateObjective(f Objective) (err error) {
	if f == nil {
		return errors.Wrap(ErrInvalidObjective, "nil objective")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrInvalidObjective, "objective panicked on probe: %v", r)
		}
	}()
	ev := f(make([]float64, c.solutionDim))
	if len(ev.Measure) != c.measureDim {
		return errors.Wrapf(ErrInvalidObjective, "measure length %d, want %d", len(ev.Measure), c.measureDim)
	}
	return nil
}

// evaluate maps f over the rows of xs, sequentially or in parallel.
// Each worker gets its own copy of the row so the callback cannot
// corrupt the batch.
func (c *schedulerCore) evaluate(f Objective, xs *mat.Dense) ([]float64, *mat.Dense, error) {
	n, _ := xs.Dims()
	objectives := make([]float64, n)
	measures := mat.NewDense(n, c.measureDim, nil)
	eval := func(i int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("qdopt: objective panicked: %v", r)
			}
		}()
		ev := f(dup(xs.RawRowView(i)))
		if len(ev.Measure) != c.measureDim {
			return errors.Wrapf(ErrInvalidObjective, "measure length %d, want %d", len(ev.Measure), c.measureDim)
		}
		objectives[i] = ev.Objective
		measures.SetRow(i, ev.Measure)
		return nil
	}
	if !c.parallel {
		for i := 0; i < n; i++ {
			if err := eval(i); err != nil {
				return nil, nil, err
			}
		}
		return objectives, measures, nil
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return eval(i) })
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return objectives, measures, nil
}

// report emits a progress record when a logger is configured and the
// batch index hits the stats frequency.
func (c *schedulerCore) report() {
	if c.logger == nil || c.batch%c.statsFrequency != 0 {
		return
	}
	NewReport(c.reportArchives, c.totalEvals, c.batch).Log(c.logger, c.mode)
}

// TotalEvaluations returns the number of objective evaluations consumed
// by completed batches.
func (c *schedulerCore) TotalEvaluations() int { return c.totalEvals }

// RoundRobinScheduler cycles through its emitters, giving each the full
// batch in turn.
type RoundRobinScheduler struct {
	schedulerCore
}

// NewRoundRobinScheduler builds a round-robin scheduler over emitters.
// All emitters must agree on solution and measure dimensions.
func NewRoundRobinScheduler(emitters []Emitter, opts ...SchedulerOption) (*RoundRobinScheduler, error) {
	core, err := newSchedulerCore(emitters, opts)
	if err != nil {
		return nil, err
	}
	return &RoundRobinScheduler{schedulerCore: core}, nil
}

// Run drives ceil(nEvaluations/batchSize) batches through the user
// objective. Within each batch: ask the active emitter, evaluate every
// candidate, tell the results back, then report. Archive mutation only
// happens on the calling goroutine.
func (s *RoundRobinScheduler) Run(f Objective, nEvaluations int) error {
	if nEvaluations <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "evaluation budget %d", nEvaluations)
	}
	if err := s.validateObjective(f); err != nil {
		return err
	}
	nBatches := (nEvaluations + s.batchSize - 1) / s.batchSize
	for b := 0; b < nBatches; b++ {
		emitter := s.emitters[b%len(s.emitters)]
		xs := emitter.Ask(s.batchSize)
		objectives, measures, err := s.evaluate(f, xs)
		if err != nil {
			return err
		}
		if err := emitter.Tell(xs, objectives, measures); err != nil {
			return err
		}
		s.batch++
		s.totalEvals += s.batchSize
		s.report()
	}
	return nil
}
