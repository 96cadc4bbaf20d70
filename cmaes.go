package qdopt

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RankingPolicy selects the key used to order a batch before the CMA-ES
// parent selection. All policies produce descending orderings. The
// two-stage and improvement policies offer every candidate to the
// archive while ranking; the plain objective and random-direction
// policies rank without touching it (the archive is still populated by
// the insertion sweep at the end of Tell).
type RankingPolicy int

const (
	// RankTwoStageImprovement orders by (added to archive, archive
	// improvement value). The default.
	RankTwoStageImprovement RankingPolicy = iota
	// RankImprovement orders by the archive improvement value alone.
	RankImprovement
	// RankObjective orders by raw objective.
	RankObjective
	// RankTwoStageObjective orders by (added to archive, objective).
	RankTwoStageObjective
	// RankRandomDirection orders by the projection of the measure onto
	// a fixed unit random direction in measure space, drawn lazily and
	// dropped on restart.
	RankRandomDirection
	// RankTwoStageRandomDirection orders by (added, projection).
	RankTwoStageRandomDirection
)

// twoStage reports whether the policy ranks added candidates ahead of
// rejected ones.
func (p RankingPolicy) twoStage() bool {
	switch p {
	case RankTwoStageImprovement, RankTwoStageObjective, RankTwoStageRandomDirection:
		return true
	}
	return false
}

// addsDuringRanking reports whether the policy needs archive feedback
// to compute its key.
func (p RankingPolicy) addsDuringRanking() bool {
	switch p {
	case RankObjective, RankRandomDirection:
		return false
	}
	return true
}

// SelectionRule picks the parents from the ranked batch.
type SelectionRule int

const (
	// SelectMu keeps the first mu ranked candidates.
	SelectMu SelectionRule = iota
	// SelectFilter walks the ranked candidates and drops any whose
	// solution vector is componentwise weakly dominated by an earlier
	// kept one; survivors are then truncated to mu.
	SelectFilter
)

// CMAConfig carries the optional CMA-ES emitter parameters. The zero
// value selects two-stage improvement ranking, mu selection, and a
// 50-generation restart rule.
type CMAConfig struct {
	Ranking   RankingPolicy
	Selection SelectionRule
	// RestartRule is the number of generations without an archive
	// insertion after which the strategy restarts from x0. Zero means
	// the default of 50; a negative value disables restarts.
	RestartRule int
}

const defaultRestartRule = 50

// CMAEmitter adapts a full-covariance CMA-ES sampling distribution.
// Candidates are drawn from N(m, sigma^2 C) through the
// eigendecomposition C = B diag(d^2) B^T, ranked with archive feedback,
// and the mean, step size, covariance and evolution paths follow the
// standard update equations (https://arxiv.org/pdf/1604.00772.pdf).
type CMAEmitter struct {
	archive Archive
	x0      []float64
	sigma0  float64
	lower   []float64
	upper   []float64

	ranking     RankingPolicy
	selection   SelectionRule
	restartRule int

	// Fixed parameters derived from the dimension.
	dim                 int
	lambda, mu          int
	weights             []float64
	muEff               float64
	cc, c1, cmu, cs, ds float64
	chiN                float64

	// Adaptive state.
	mean      []float64
	sigma     float64
	cov       *mat.SymDense
	b         *mat.Dense
	d         []float64
	pc, ps    []float64
	gen       int
	lastImp   int
	direction []float64

	rng  *rand.Rand
	norm distuv.Normal
}

var _ Emitter = (*CMAEmitter)(nil)

// NewCMAEmitter builds a CMA-ES emitter over archive with initial mean
// x0 (length 1 broadcasts) and initial step size sigma0 > 0. If src is
// nil the generator is time-seeded.
func NewCMAEmitter(archive Archive, x0 []float64, sigma0 float64, bounds []Bound, cfg CMAConfig, src rand.Source) (*CMAEmitter, error) {
	if archive == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil archive")
	}
	if sigma0 <= 0 || math.IsNaN(sigma0) {
		return nil, errors.Wrapf(ErrInvalidArgument, "sigma0 = %v", sigma0)
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
	restart := cfg.RestartRule
	if restart == 0 {
		restart = defaultRestartRule
	}
	rng := newRand(src)
	e := &CMAEmitter{
		archive:     archive,
		x0:          x0v,
		sigma0:      sigma0,
		lower:       lower,
		upper:       upper,
		ranking:     cfg.Ranking,
		selection:   cfg.Selection,
		restartRule: restart,
		dim:         dim,
		rng:         rng,
		norm:        distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}
	e.initParams()
	e.reset()
	return e, nil
}

// initParams sets the fixed algorithm parameters.
// Parameter values are from https://arxiv.org/pdf/1604.00772.pdf .
func (e *CMAEmitter) initParams() {
	n := float64(e.dim)
	e.lambda = 4 + int(3*math.Log(n)) // Note the implicit floor.
	e.mu = e.lambda / 2
	e.weights = make([]float64, e.mu)
	for i := range e.weights {
		e.weights[i] = math.Log(float64(e.lambda+1)/2) - math.Log(float64(i)+1)
	}
	floats.Scale(1/floats.Sum(e.weights), e.weights)
	e.muEff = 0
	for _, w := range e.weights {
		e.muEff += w * w
	}
	e.muEff = 1 / e.muEff

	e.cc = 4 / (n + 4)
	e.c1 = 2 / ((n+1.3)*(n+1.3) + e.muEff)
	e.cmu = math.Min(1-e.c1, 2*(e.muEff-2+1/e.muEff)/((n+2)*(n+2)+e.muEff))
	e.cs = (e.muEff + 2) / (n + e.muEff + 5)
	e.ds = 1 + 2*math.Max(0, math.Sqrt((e.muEff-1)/(n+1))-1) + e.cs
	// E[||N(0,I)||], see https://en.wikipedia.org/wiki/CMA-ES .
	e.chiN = math.Sqrt(n) * (1 - 1.0/(4*n) + 1/(21*n*n))
}

// reset restores the sampling distribution to its initial state. Called
// at construction and on restart.
func (e *CMAEmitter) reset() {
	e.mean = resize(e.mean, e.dim)
	copy(e.mean, e.x0)
	e.sigma = e.sigma0
	e.cov = mat.NewSymDense(e.dim, nil)
	e.b = mat.NewDense(e.dim, e.dim, nil)
	e.d = resize(e.d, e.dim)
	for i := 0; i < e.dim; i++ {
		e.cov.SetSym(i, i, 1)
		e.b.Set(i, i, 1)
		e.d[i] = 1
	}
	e.pc = resize(e.pc, e.dim)
	e.ps = resize(e.ps, e.dim)
	for i := range e.pc {
		e.pc[i] = 0
		e.ps[i] = 0
	}
	e.direction = nil
	e.lastImp = e.gen
}

// Archive returns the archive this emitter inserts into.
func (e *CMAEmitter) Archive() Archive { return e.archive }

// Lambda returns the natural population size 4 + floor(3 ln D).
func (e *CMAEmitter) Lambda() int { return e.lambda }

// Generation returns the number of completed Tell calls since the last
// construction (restarts do not reset it).
func (e *CMAEmitter) Generation() int { return e.gen }

// Ask returns n candidates m + sigma*B*(d.*z), z ~ N(0, I), clamped to
// the bounds.
func (e *CMAEmitter) Ask(n int) *mat.Dense {
	xs := mat.NewDense(n, e.dim, nil)
	z := make([]float64, e.dim)
	zv := mat.NewVecDense(e.dim, z)
	var y mat.VecDense
	for i := 0; i < n; i++ {
		for j := range z {
			z[j] = e.d[j] * e.norm.Rand()
		}
		y.MulVec(e.b, zv)
		row := xs.RawRowView(i)
		for j := range row {
			row[j] = e.mean[j] + e.sigma*y.AtVec(j)
		}
		clampRow(row, e.lower, e.upper)
	}
	return xs
}

type rankEntry struct {
	idx   int
	added bool
	value float64
}

// unitDirection lazily draws the fixed random direction for the
// random-direction ranking policies.
func (e *CMAEmitter) unitDirection(measureDim int) []float64 {
	if e.direction != nil {
		return e.direction
	}
	dir := make([]float64, measureDim)
	for i := range dir {
		dir[i] = e.norm.Rand()
	}
	norm := floats.Norm(dir, 2)
	if norm > 0 {
		floats.Scale(1/norm, dir)
	}
	e.direction = dir
	return dir
}

// rank orders the batch descending under the configured policy and
// reports whether any ranking-time insertion was accepted.
func (e *CMAEmitter) rank(solutions *mat.Dense, objectives []float64, measures *mat.Dense) ([]rankEntry, bool, error) {
	n := len(objectives)
	entries := make([]rankEntry, n)
	improved := false
	for i := 0; i < n; i++ {
		entries[i].idx = i
		if e.ranking.addsDuringRanking() {
			res, err := e.archive.Add(solutions.RawRowView(i), objectives[i], measures.RawRowView(i))
			if err != nil {
				return nil, false, err
			}
			entries[i].added = res.Status.Added()
			improved = improved || entries[i].added
			if e.ranking == RankImprovement || e.ranking == RankTwoStageImprovement {
				entries[i].value = res.Value
			}
		}
		switch e.ranking {
		case RankObjective, RankTwoStageObjective:
			entries[i].value = objectives[i]
		case RankRandomDirection, RankTwoStageRandomDirection:
			dir := e.unitDirection(e.archive.MeasureDim())
			entries[i].value = floats.Dot(measures.RawRowView(i), dir)
		}
	}
	twoStage := e.ranking.twoStage()
	sort.SliceStable(entries, func(i, j int) bool {
		if twoStage && entries[i].added != entries[j].added {
			return entries[i].added
		}
		return entries[i].value > entries[j].value
	})
	return entries, improved, nil
}

// weaklyDominates reports a >= b componentwise. Used by SelectFilter;
// equality counts as domination so the earlier-ranked duplicate wins.
func weaklyDominates(a, b []float64) bool {
	for i := range a {
		if a[i] < b[i] {
			return false
		}
	}
	return true
}

// selectParents applies the selection rule and returns the parent
// indices into the batch, at most mu of them.
func (e *CMAEmitter) selectParents(entries []rankEntry, solutions *mat.Dense) []int {
	switch e.selection {
	case SelectFilter:
		var kept []int
		for _, en := range entries {
			cand := solutions.RawRowView(en.idx)
			dominated := false
			for _, k := range kept {
				if weaklyDominates(solutions.RawRowView(k), cand) {
					dominated = true
					break
				}
			}
			if !dominated {
				kept = append(kept, en.idx)
			}
		}
		if len(kept) > e.mu {
			kept = kept[:e.mu]
		}
		return kept
	default:
		m := e.mu
		if m > len(entries) {
			m = len(entries)
		}
		idxs := make([]int, m)
		for i := 0; i < m; i++ {
			idxs[i] = entries[i].idx
		}
		return idxs
	}
}

// parentWeights returns the recombination weights for k parents,
// renormalized when fewer than mu survive selection.
func (e *CMAEmitter) parentWeights(k int) []float64 {
	if k == e.mu {
		return e.weights
	}
	w := make([]float64, k)
	copy(w, e.weights[:k])
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// invSqrtCovVec computes B diag(1/d) B^T v, the product of C^{-1/2}
// with v. Axes whose eigenvalue was clamped to zero contribute nothing.
func (e *CMAEmitter) invSqrtCovVec(dst, v []float64) {
	t := make([]float64, e.dim)
	tv := mat.NewVecDense(e.dim, t)
	tv.MulVec(e.b.T(), mat.NewVecDense(e.dim, v))
	for i := range t {
		if e.d[i] > 0 {
			t[i] /= e.d[i]
		} else {
			t[i] = 0
		}
	}
	mat.NewVecDense(e.dim, dst).MulVec(e.b, tv)
}

// Tell ranks the evaluated batch, recombines the parents, updates the
// evolution paths, covariance and step size, refreshes the
// eigendecomposition, and finally offers every candidate to the archive
// to drive the restart rule.
func (e *CMAEmitter) Tell(solutions *mat.Dense, objectives []float64, measures *mat.Dense) error {
	n, dcols := solutions.Dims()
	if dcols != e.dim {
		return errors.Wrapf(ErrDimensionMismatch, "solution dimension %d, want %d", dcols, e.dim)
	}
	mn, md := measures.Dims()
	if mn != n || len(objectives) != n {
		return errors.Wrapf(ErrDimensionMismatch, "batch of %d solutions with %d objectives and %d measures",
			n, len(objectives), mn)
	}
	if md != e.archive.MeasureDim() {
		return errors.Wrapf(ErrDimensionMismatch, "measure dimension %d, want %d", md, e.archive.MeasureDim())
	}
	if n == 0 {
		return nil
	}
	e.gen++

	entries, improved, err := e.rank(solutions, objectives, measures)
	if err != nil {
		return err
	}
	parents := e.selectParents(entries, solutions)
	weights := e.parentWeights(len(parents))

	meanOld := dup(e.mean)

	// m_{t+1} = sum_i w_i x_i
	for i := range e.mean {
		e.mean[i] = 0
	}
	for i, w := range weights {
		floats.AddScaled(e.mean, w, solutions.RawRowView(parents[i]))
	}
	y := make([]float64, e.dim)
	floats.SubTo(y, e.mean, meanOld)
	floats.Scale(1/e.sigma, y)

	// p_{s,t+1} = (1-c_s) p_s + sqrt(c_s(2-c_s) mueff) C^{-1/2} y
	floats.Scale(1-e.cs, e.ps)
	csy := make([]float64, e.dim)
	e.invSqrtCovVec(csy, y)
	floats.AddScaled(e.ps, math.Sqrt(e.cs*(2-e.cs)*e.muEff), csy)

	// Heaviside gate on the rank-one path.
	denom := math.Sqrt(1 - math.Pow(1-e.cs, 2*float64(e.gen)))
	hsig := 0.0
	if floats.Norm(e.ps, 2)/denom < (1.4+2/(float64(e.dim)+1))*e.chiN {
		hsig = 1
	}

	// p_{c,t+1} = (1-c_c) p_c + h_sig sqrt(c_c(2-c_c) mueff) y
	floats.Scale(1-e.cc, e.pc)
	floats.AddScaled(e.pc, hsig*math.Sqrt(e.cc*(2-e.cc)*e.muEff), y)

	// C <- discount*C + c1 p_c p_c^T + cmu sum_i w_i y_i y_i^T
	discount := 1 - e.c1 - e.cmu + (1-hsig)*e.c1
	for i := 0; i < e.dim; i++ {
		for j := i; j < e.dim; j++ {
			e.cov.SetSym(i, j, discount*e.cov.At(i, j))
		}
	}
	e.cov.SymRankOne(e.cov, e.c1, mat.NewVecDense(e.dim, e.pc))
	dev := make([]float64, e.dim)
	devVec := mat.NewVecDense(e.dim, dev)
	for i, w := range weights {
		floats.SubTo(dev, solutions.RawRowView(parents[i]), meanOld)
		floats.Scale(1/e.sigma, dev)
		e.cov.SymRankOne(e.cov, e.cmu*w, devVec)
	}

	// sigma_{t+1} = sigma_t exp(c_s/d_s (||p_s||/chiN - 1))
	e.sigma *= math.Exp(e.cs / e.ds * (floats.Norm(e.ps, 2)/e.chiN - 1))

	degenerate := !e.refreshEigen()

	// Insertion sweep: every candidate is offered to the archive once
	// more so the restart rule sees the full batch regardless of the
	// ranking policy.
	for i := 0; i < n; i++ {
		res, err := e.archive.Add(solutions.RawRowView(i), objectives[i], measures.RawRowView(i))
		if err != nil {
			return err
		}
		improved = improved || res.Status.Added()
	}

	if improved {
		e.lastImp = e.gen
	}
	if degenerate || (e.restartRule >= 0 && e.gen-e.lastImp >= e.restartRule) {
		e.reset()
	}
	return nil
}

// refreshEigen recomputes C = B diag(d^2) B^T, clamping negative
// eigenvalues to zero. It reports false when the factorization fails.
func (e *CMAEmitter) refreshEigen() bool {
	var es mat.EigenSym
	if !es.Factorize(e.cov, true) {
		return false
	}
	vals := es.Values(nil)
	for i, v := range vals {
		if v < 0 {
			v = 0
		}
		e.d[i] = math.Sqrt(v)
	}
	es.VectorsTo(e.b)
	return true
}
