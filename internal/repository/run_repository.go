package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run statuses. Pending and Processing are transient; Completed and Failed
// are terminal and a terminal record is never written again.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrTerminalConflict is returned when a terminal update targets a run that
// is not in the Processing state, which would violate terminal immutability.
var ErrTerminalConflict = errors.New("run is not in a state that allows a terminal transition")

// IsTerminal reports whether the status ends the run lifecycle.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// AllowedTransition validates a status change against the run lifecycle.
func AllowedTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// ProcessingRun is a persisted pipeline invocation.
type ProcessingRun struct {
	ID            uint   `gorm:"primaryKey"`
	RunID         string `gorm:"column:run_id;uniqueIndex;size:64"`
	SourceRef     string `gorm:"column:source_ref;size:512"`
	CaseID        string `gorm:"column:case_id;size:64"`
	SampleID      string `gorm:"column:sample_id;size:64"`
	PromptVersion string `gorm:"column:prompt_version;size:64"`
	Seed          int64  `gorm:"column:seed"`
	Status        string `gorm:"column:status;size:16;index"`

	ProcessedKey string `gorm:"column:processed_key;size:255"`
	ProcessedURL string `gorm:"column:processed_url;size:512"`

	TextureUniformity   float64 `gorm:"column:texture_uniformity"`
	EdgePreservation    float64 `gorm:"column:edge_preservation"`
	ContrastRatio       float64 `gorm:"column:contrast_ratio"`
	RidgeClarity        float64 `gorm:"column:ridge_clarity"`
	BackgroundCleanness float64 `gorm:"column:background_cleanness"`
	OverallScore        float64 `gorm:"column:overall_score"`

	OracleReport string `gorm:"column:oracle_report;type:text"`
	ErrorDetail  string `gorm:"column:error_detail;type:text"`

	ElapsedMs   int64      `gorm:"column:elapsed_ms"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

// TableName overrides the default table name.
func (ProcessingRun) TableName() string {
	return "processing_runs"
}

// RunSummary aggregates persisted runs for the summary endpoint.
type RunSummary struct {
	TotalCount          int64
	CompletedCount      int64
	FailedCount         int64
	AverageOverallScore float64
	AverageElapsedMs    float64
}

// RunRepository provides persistence APIs for processing runs.
type RunRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRunRepository creates a new repository instance.
func NewRunRepository(db *gorm.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger.Named("run_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *RunRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ProcessingRun{})
}

// Create persists a new run record.
func (r *RunRepository) Create(ctx context.Context, run *ProcessingRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// UpdateTerminal writes the one and only terminal transition for a run. The
// WHERE clause pins the prior state to Processing so a record that already
// reached Completed or Failed can never be written again, and concurrent runs
// only ever contend on their own row.
func (r *RunRepository) UpdateTerminal(ctx context.Context, run *ProcessingRun) error {
	if !AllowedTransition(StatusProcessing, run.Status) {
		return fmt.Errorf("%w: transition to %q", ErrTerminalConflict, run.Status)
	}
	tx := r.db.WithContext(ctx).Model(&ProcessingRun{}).
		Where("run_id = ? AND status = ?", run.RunID, StatusProcessing).
		Updates(map[string]interface{}{
			"status":               run.Status,
			"processed_key":        run.ProcessedKey,
			"processed_url":        run.ProcessedURL,
			"texture_uniformity":   run.TextureUniformity,
			"edge_preservation":    run.EdgePreservation,
			"contrast_ratio":       run.ContrastRatio,
			"ridge_clarity":        run.RidgeClarity,
			"background_cleanness": run.BackgroundCleanness,
			"overall_score":        run.OverallScore,
			"oracle_report":        run.OracleReport,
			"error_detail":         run.ErrorDetail,
			"elapsed_ms":           run.ElapsedMs,
			"completed_at":         run.CompletedAt,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrTerminalConflict
	}
	return nil
}

// FindByRunID retrieves a run record.
func (r *RunRepository) FindByRunID(ctx context.Context, runID string) (*ProcessingRun, error) {
	var run ProcessingRun
	if err := r.db.WithContext(ctx).First(&run, "run_id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns a page of runs, newest first, optionally filtered by status.
func (r *RunRepository) List(ctx context.Context, limit, offset int, status string) ([]*ProcessingRun, int64, error) {
	q := r.db.WithContext(ctx).Model(&ProcessingRun{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []*ProcessingRun
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// DeleteByRunID removes a run record.
func (r *RunRepository) DeleteByRunID(ctx context.Context, runID string) error {
	tx := r.db.WithContext(ctx).Delete(&ProcessingRun{}, "run_id = ?", runID)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AggregateSummary computes run counts and averages across all records.
func (r *RunRepository) AggregateSummary(ctx context.Context) (*RunSummary, error) {
	var summary RunSummary
	err := r.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total_count,
		       COUNT(*) FILTER (WHERE status = @completed) AS completed_count,
		       COUNT(*) FILTER (WHERE status = @failed) AS failed_count,
		       COALESCE(AVG(overall_score) FILTER (WHERE status = @completed), 0) AS average_overall_score,
		       COALESCE(AVG(elapsed_ms) FILTER (WHERE status IN (@completed, @failed)), 0) AS average_elapsed_ms
		FROM processing_runs`,
		map[string]interface{}{"completed": StatusCompleted, "failed": StatusFailed},
	).Row().Scan(
		&summary.TotalCount,
		&summary.CompletedCount,
		&summary.FailedCount,
		&summary.AverageOverallScore,
		&summary.AverageElapsedMs,
	)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}
