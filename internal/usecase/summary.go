package usecase

import "context"

// RunSummary represents aggregated processing insights.
type RunSummary struct {
	TotalRuns           int64   `json:"total_runs"`
	CompletedRuns       int64   `json:"completed_runs"`
	FailedRuns          int64   `json:"failed_runs"`
	CompletionRate      float64 `json:"completion_rate"`
	AverageOverallScore float64 `json:"average_overall_score"`
	AverageElapsedMs    float64 `json:"average_elapsed_ms"`
}

// GetRunSummary aggregates run outcomes from persisted records.
func (uc *RunUseCase) GetRunSummary(ctx context.Context) (*RunSummary, error) {
	aggregation, err := uc.repo.AggregateSummary(ctx)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		TotalRuns:           aggregation.TotalCount,
		CompletedRuns:       aggregation.CompletedCount,
		FailedRuns:          aggregation.FailedCount,
		AverageOverallScore: aggregation.AverageOverallScore,
		AverageElapsedMs:    aggregation.AverageElapsedMs,
	}

	if aggregation.TotalCount > 0 {
		summary.CompletionRate = float64(aggregation.CompletedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
