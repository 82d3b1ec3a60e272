package usecase

import (
	"context"
	"errors"
)

// ErrHistoryDisabled is returned when no database is configured.
var ErrHistoryDisabled = errors.New("analysis history is disabled")

// HistorySummary represents aggregated analysis insights across sessions.
type HistorySummary struct {
	Batches           int64   `json:"batches"`
	TotalItems        int64   `json:"total_items"`
	Healthy           int64   `json:"healthy"`
	Diseased          int64   `json:"diseased"`
	Failed            int64   `json:"failed"`
	HealthyRate       float64 `json:"healthy_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

// GetHistorySummary aggregates analysis outcomes from persisted logs.
func (uc *AnalysisUseCase) GetHistorySummary(ctx context.Context) (*HistorySummary, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}

	aggregation, err := uc.repo.Aggregate(ctx)
	if err != nil {
		return nil, err
	}

	summary := &HistorySummary{
		Batches:           aggregation.BatchCount,
		TotalItems:        aggregation.TotalCount,
		Healthy:           aggregation.HealthyCount,
		Diseased:          aggregation.DiseasedCount,
		Failed:            aggregation.FailedCount,
		AverageConfidence: aggregation.AverageConfidence,
	}

	if classified := aggregation.HealthyCount + aggregation.DiseasedCount; classified > 0 {
		summary.HealthyRate = float64(aggregation.HealthyCount) / float64(classified)
	}

	return summary, nil
}
