// Package qdopt implements a quality-diversity (QD) optimization engine.
//
// QD algorithms search for a collection of high-performing, behaviorally
// diverse solutions rather than a single optimum. The user supplies a
// black-box objective that, given a candidate solution vector, returns a
// scalar objective value (higher is better) together with a low-dimensional
// measure vector describing how the solution behaves. The engine keeps an
// archive partitioned over measure space, generates candidates through
// emitters, and drives evaluation batches through a scheduler until the
// evaluation budget is exhausted.
//
// The package provides grid and Pareto archives, Gaussian, Iso+LineDD and
// CMA-ES emitters, and round-robin and multi-armed-bandit schedulers. See
// the MAP-Elites literature for the archive model and
// https://arxiv.org/pdf/1604.00772.pdf for the CMA-ES parameterization.
package qdopt
