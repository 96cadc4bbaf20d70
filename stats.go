package qdopt

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// ReportMode selects how much of a progress report is emitted.
type ReportMode int

const (
	// ReportCompact logs batch, evaluation count, best objective,
	// coverage and total QD score.
	ReportCompact ReportMode = iota
	// ReportVerbose additionally logs mean objective, normalized QD
	// score and cell occupancy totals.
	ReportVerbose
)

// Report aggregates archive metrics at a batch boundary.
type Report struct {
	Batch             int
	TotalEvaluations  int
	BestObjective     float64
	Coverage          float64
	TotalQDScore      float64
	MeanObjective     float64
	NormalizedQDScore float64
	TotalCells        int
	FilledCells       int
}

// NewReport computes the metrics of §stats over archives: the best
// ObjMax, mean coverage, summed QD score, mean of per-archive means,
// mean normalized QD score, and summed cell/occupancy counts.
func NewReport(archives []Archive, totalEvaluations, batch int) Report {
	r := Report{Batch: batch, TotalEvaluations: totalEvaluations}
	coverages := make([]float64, 0, len(archives))
	objMeans := make([]float64, 0, len(archives))
	normScores := make([]float64, 0, len(archives))
	first := true
	for _, a := range archives {
		if first || a.ObjMax() > r.BestObjective {
			r.BestObjective = a.ObjMax()
			first = false
		}
		coverages = append(coverages, a.Coverage())
		objMeans = append(objMeans, a.ObjMean())
		normScores = append(normScores, a.NormQDScore())
		r.TotalQDScore += a.QDScore()
		r.TotalCells += a.Cells()
		r.FilledCells += a.Len()
	}
	r.Coverage = stat.Mean(coverages, nil)
	r.MeanObjective = stat.Mean(objMeans, nil)
	r.NormalizedQDScore = stat.Mean(normScores, nil)
	return r
}

// Log emits the report as a structured INFO record. Verbose mode adds
// the extended fields.
func (r Report) Log(logger *zap.Logger, mode ReportMode) {
	fields := []zap.Field{
		zap.Int("batch", r.Batch),
		zap.Int("total_evaluations", r.TotalEvaluations),
		zap.Float64("best_objective", r.BestObjective),
		zap.Float64("coverage", r.Coverage),
		zap.Float64("total_qd_score", r.TotalQDScore),
	}
	if mode == ReportVerbose {
		fields = append(fields,
			zap.Float64("mean_objective", r.MeanObjective),
			zap.Float64("normalized_qd_score", r.NormalizedQDScore),
			zap.Int("total_cells", r.TotalCells),
			zap.Int("filled_cells", r.FilledCells),
		)
	}
	logger.Info("progress", fields...)
}
