package metric

import (
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

// LoadSummary describes how evenly the current open load is spread across
// the support pool.
type LoadSummary struct {
	Mean   float64 // Mean of the per-account load ratios
	StdDev float64 // Standard deviation of the load ratios
	Min    float64 // Lowest load ratio in the pool
	Max    float64 // Highest load ratio in the pool
	Median float64 // Median load ratio
}

// Summarize computes distribution statistics over per-account load ratios
// (open count divided by weight). An empty input yields a zero summary.
func Summarize(ratios []float64) LoadSummary {
	if len(ratios) == 0 {
		return LoadSummary{}
	}

	sorted := make([]float64, len(ratios))
	copy(sorted, ratios)
	sort.Float64s(sorted)

	mean, stdDev := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		stdDev = 0
	}

	return LoadSummary{
		Mean:   mean,
		StdDev: stdDev,
		Min:    lo.Min(sorted),
		Max:    lo.Max(sorted),
		Median: stat.Quantile(0.5, stat.LinInterp, sorted, nil),
	}
}
