package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ridgelab/internal/logging"
	"github.com/example/ridgelab/internal/notifier"
	"github.com/example/ridgelab/internal/oracle"
	"github.com/example/ridgelab/internal/pipeline"
	"github.com/example/ridgelab/internal/repository"
	"github.com/example/ridgelab/internal/storage"
)

// synthesisVersion tags run records with the synthesis configuration that
// produced them.
const synthesisVersion = "granulation-v1"

// RunRepository defines the persistence operations needed by the use case.
type RunRepository interface {
	Create(ctx context.Context, run *repository.ProcessingRun) error
	UpdateTerminal(ctx context.Context, run *repository.ProcessingRun) error
	FindByRunID(ctx context.Context, runID string) (*repository.ProcessingRun, error)
	List(ctx context.Context, limit, offset int, status string) ([]*repository.ProcessingRun, int64, error)
	DeleteByRunID(ctx context.Context, runID string) error
	AggregateSummary(ctx context.Context) (*repository.RunSummary, error)
}

// RunUseCase orchestrates one processing run end to end: it owns the run
// record for the duration of the invocation and is the only writer to it.
type RunUseCase struct {
	repo           RunRepository
	cache          Cache
	blobs          storage.BlobStore
	oracle         oracle.Client
	notifier       notifier.Notifier
	logger         *zap.Logger
	metrics        *RunMetrics
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	oracleTimeout  time.Duration
	notifyTimeout  time.Duration
}

// SubmitParams carries one submission. Frame is the decoded source image;
// decoding failures upstream arrive here as a nil or malformed frame and fail
// the run with an invalid-image error.
type SubmitParams struct {
	Frame      *pipeline.Frame
	SourceRef  string
	CaseID     string
	SampleID   string
	Seed       *int64
	WithOracle bool
	WithNotify bool
}

type cachedRun struct {
	RunID               string     `json:"run_id"`
	Status              string     `json:"status"`
	SourceRef           string     `json:"source_ref"`
	CaseID              string     `json:"case_id"`
	SampleID            string     `json:"sample_id"`
	PromptVersion       string     `json:"prompt_version"`
	Seed                int64      `json:"seed"`
	ProcessedKey        string     `json:"processed_key"`
	ProcessedURL        string     `json:"processed_url"`
	TextureUniformity   float64    `json:"texture_uniformity"`
	EdgePreservation    float64    `json:"edge_preservation"`
	ContrastRatio       float64    `json:"contrast_ratio"`
	RidgeClarity        float64    `json:"ridge_clarity"`
	BackgroundCleanness float64    `json:"background_cleanness"`
	OverallScore        float64    `json:"overall_score"`
	OracleReport        string     `json:"oracle_report"`
	ErrorDetail         string     `json:"error_detail"`
	ElapsedMs           int64      `json:"elapsed_ms"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at"`
}

func (c *cachedRun) toRecord() *repository.ProcessingRun {
	return &repository.ProcessingRun{
		RunID:               c.RunID,
		Status:              c.Status,
		SourceRef:           c.SourceRef,
		CaseID:              c.CaseID,
		SampleID:            c.SampleID,
		PromptVersion:       c.PromptVersion,
		Seed:                c.Seed,
		ProcessedKey:        c.ProcessedKey,
		ProcessedURL:        c.ProcessedURL,
		TextureUniformity:   c.TextureUniformity,
		EdgePreservation:    c.EdgePreservation,
		ContrastRatio:       c.ContrastRatio,
		RidgeClarity:        c.RidgeClarity,
		BackgroundCleanness: c.BackgroundCleanness,
		OverallScore:        c.OverallScore,
		OracleReport:        c.OracleReport,
		ErrorDetail:         c.ErrorDetail,
		ElapsedMs:           c.ElapsedMs,
		CreatedAt:           c.CreatedAt,
		CompletedAt:         c.CompletedAt,
	}
}

// NewRunUseCase constructs a new use case instance. The oracle and notifier
// may be nil when the corresponding collaborator is not configured; runs then
// behave as if the per-run flag was off.
func NewRunUseCase(repo RunRepository, cache Cache, blobs storage.BlobStore, oracleClient oracle.Client, notify notifier.Notifier, metrics *RunMetrics, logger *zap.Logger) *RunUseCase {
	return &RunUseCase{
		repo:           repo,
		cache:          cache,
		blobs:          blobs,
		oracle:         oracleClient,
		notifier:       notify,
		logger:         logger.Named("run_usecase"),
		metrics:        metrics,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		oracleTimeout:  30 * time.Second,
		notifyTimeout:  10 * time.Second,
	}
}

// Submit executes one full processing run and always returns a run in a
// terminal state. A failed stage yields Status Failed with the error recorded
// on the run, not an error return; the error return is reserved for the case
// where not even an in-memory outcome could be produced.
func (uc *RunUseCase) Submit(ctx context.Context, params SubmitParams) (*repository.ProcessingRun, error) {
	runID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit_run", runID)
	started := time.Now().UTC()

	seed := deriveSeed(runID)
	if params.Seed != nil {
		seed = *params.Seed
	}

	run := &repository.ProcessingRun{
		RunID:         runID,
		SourceRef:     params.SourceRef,
		CaseID:        params.CaseID,
		SampleID:      params.SampleID,
		PromptVersion: synthesisVersion,
		Seed:          seed,
		Status:        repository.StatusProcessing,
		CreatedAt:     started,
	}
	uc.metrics.Started.Inc()

	storeAlive := true
	if err := uc.repo.Create(ctx, run); err != nil {
		// StoreUnavailable: keep going so the caller still gets the
		// in-memory outcome, but the run will not be queryable later.
		storeAlive = false
		opLogger.Error("failed to persist run record", zap.Error(logging.NewOperationError("usecase.create_run", runID, err)))
	}
	uc.cacheSnapshot(ctx, run, opLogger)

	processed, metrics, stageErr := uc.executePipeline(params.Frame, seed)
	if stageErr != nil {
		return uc.failRun(run, started, stageErr, storeAlive, opLogger), nil
	}

	encoded, err := processed.EncodePNG()
	if err != nil {
		return uc.failRun(run, started, fmt.Errorf("encode processed image: %w", err), storeAlive, opLogger), nil
	}
	blobKey := fmt.Sprintf("runs/%s/processed.png", runID)
	ref, err := uc.blobs.Put(ctx, blobKey, encoded, "image/png")
	if err != nil {
		return uc.failRun(run, started, fmt.Errorf("persist processed image: %w", err), storeAlive, opLogger), nil
	}

	run.ProcessedKey = ref.Key
	run.ProcessedURL = ref.URL
	run.TextureUniformity = metrics.TextureUniformity
	run.EdgePreservation = metrics.EdgePreservation
	run.ContrastRatio = metrics.ContrastRatio
	run.RidgeClarity = metrics.RidgeClarity
	run.BackgroundCleanness = metrics.BackgroundCleanness
	run.OverallScore = metrics.OverallScore

	elapsed := time.Since(started)
	if params.WithOracle && uc.oracle != nil {
		outcome := uc.assessProcessed(run.SourceRef, ref.URL, elapsed.Milliseconds(), runID)
		switch outcome.Status {
		case oracle.OutcomeOK:
			if serialized, err := json.Marshal(outcome.Report); err == nil {
				run.OracleReport = string(serialized)
			} else {
				opLogger.Warn("failed to serialize oracle report", zap.Error(err))
			}
		default:
			// Degraded to an empty report; the run still completes.
			opLogger.Warn("oracle assessment unavailable",
				zap.String("outcome", string(outcome.Status)),
				zap.String("reason", outcome.Reason))
		}
	}

	run.Status = repository.StatusCompleted
	run.ElapsedMs = time.Since(started).Milliseconds()
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt

	// Terminal persistence runs on a detached context: a caller disconnect
	// must never leave the run stranded in Processing.
	persistCtx, persistCancel := detachedContext()
	defer persistCancel()
	if storeAlive {
		if err := uc.repo.UpdateTerminal(persistCtx, run); err != nil {
			opLogger.Error("failed to persist terminal state", zap.Error(logging.NewOperationError("usecase.complete_run", runID, err)))
		}
	}
	uc.cacheSnapshot(persistCtx, run, opLogger)
	uc.metrics.Completed.Inc()
	uc.metrics.Duration.Observe(time.Since(started).Seconds())

	if params.WithNotify && uc.notifier != nil {
		uc.notifyCompletion(run)
	}
	return run, nil
}

// executePipeline drives the four stages strictly in order. Each stage
// consumes the full output of the previous one.
func (uc *RunUseCase) executePipeline(frame *pipeline.Frame, seed int64) (*pipeline.Frame, pipeline.Metrics, error) {
	classes, err := pipeline.Classify(frame)
	if err != nil {
		return nil, pipeline.Metrics{}, err
	}
	rng := rand.New(rand.NewSource(seed))
	synthesized, err := pipeline.Synthesize(frame, classes, rng)
	if err != nil {
		return nil, pipeline.Metrics{}, err
	}
	sharpened, err := pipeline.Sharpen(synthesized)
	if err != nil {
		return nil, pipeline.Metrics{}, err
	}
	metrics, err := pipeline.Score(frame, sharpened)
	if err != nil {
		return nil, pipeline.Metrics{}, err
	}
	return sharpened, metrics, nil
}

func (uc *RunUseCase) failRun(run *repository.ProcessingRun, started time.Time, cause error, storeAlive bool, opLogger *zap.Logger) *repository.ProcessingRun {
	run.Status = repository.StatusFailed
	run.ErrorDetail = cause.Error()
	run.ElapsedMs = time.Since(started).Milliseconds()
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt

	opLogger.Error("run failed", zap.Error(cause), zap.Int64("elapsed_ms", run.ElapsedMs))

	persistCtx, persistCancel := detachedContext()
	defer persistCancel()
	if storeAlive {
		if err := uc.repo.UpdateTerminal(persistCtx, run); err != nil {
			opLogger.Error("failed to persist failure state", zap.Error(logging.NewOperationError("usecase.fail_run", run.RunID, err)))
		}
	}
	uc.cacheSnapshot(persistCtx, run, opLogger)
	uc.metrics.Failed.Inc()
	uc.metrics.Duration.Observe(time.Since(started).Seconds())
	return run
}

// assessProcessed runs the oracle call under its own bounded deadline,
// detached from the request context: a caller disconnect must not strand the
// run, so the terminal write never depends on the caller staying connected.
func (uc *RunUseCase) assessProcessed(originalRef, processedRef string, elapsedMs int64, runID string) oracle.Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), uc.oracleTimeout)
	defer cancel()

	report, err := uc.oracle.Assess(ctx, originalRef, processedRef, elapsedMs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return oracle.Outcome{Status: oracle.OutcomeTimedOut, Reason: "assessment deadline exceeded"}
		}
		return oracle.Outcome{Status: oracle.OutcomeFailed, Reason: err.Error()}
	}
	return oracle.Outcome{Status: oracle.OutcomeOK, Report: report}
}

// notifyCompletion delivers the completion notice off the critical path.
func (uc *RunUseCase) notifyCompletion(run *repository.ProcessingRun) {
	runID := run.RunID
	title := "Processing run completed"
	content := fmt.Sprintf("run %s finished with overall score %.2f (%s)", runID, run.OverallScore, run.ProcessedURL)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), uc.notifyTimeout)
		defer cancel()
		delivered, err := uc.notifier.Notify(ctx, title, content)
		opLogger := logging.WithOperation(uc.logger, "usecase.notify_completion", runID)
		if err != nil {
			opLogger.Warn("notification failed", zap.Error(err))
			return
		}
		if !delivered {
			opLogger.Warn("notification not delivered")
		}
	}()
}

// GetRun retrieves a run snapshot from cache or falls back to persistence.
func (uc *RunUseCase) GetRun(ctx context.Context, runID string) (*repository.ProcessingRun, error) {
	cacheKey := runCacheKey(runID)
	if cached, err := uc.withRedisGet(ctx, runID, "cache.get.run", cacheKey); err == nil {
		var snapshot cachedRun
		if err := json.Unmarshal([]byte(cached), &snapshot); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_run", runID).Warn("failed to decode cached run", zap.Error(err))
		} else if snapshot.RunID == runID {
			return snapshot.toRecord(), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_run", runID).Warn("failed to read cache", zap.Error(err))
	}
	return uc.repo.FindByRunID(ctx, runID)
}

// ListRuns returns a page of runs with an optional status filter.
func (uc *RunUseCase) ListRuns(ctx context.Context, limit, offset int, status string) ([]*repository.ProcessingRun, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if status != "" && status != repository.StatusPending && status != repository.StatusProcessing &&
		status != repository.StatusCompleted && status != repository.StatusFailed {
		return nil, 0, fmt.Errorf("unknown status filter %q", status)
	}
	return uc.repo.List(ctx, limit, offset, status)
}

// DeleteRun removes a run record and its cached snapshot.
func (uc *RunUseCase) DeleteRun(ctx context.Context, runID string) error {
	if err := uc.repo.DeleteByRunID(ctx, runID); err != nil {
		return err
	}
	if err := uc.cache.Del(ctx, runCacheKey(runID)); err != nil {
		logging.WithOperation(uc.logger, "usecase.delete_run", runID).Warn("failed to drop cached run", zap.Error(err))
	}
	return nil
}

func (uc *RunUseCase) cacheSnapshot(ctx context.Context, run *repository.ProcessingRun, opLogger *zap.Logger) {
	snapshot := cachedRun{
		RunID:               run.RunID,
		Status:              run.Status,
		SourceRef:           run.SourceRef,
		CaseID:              run.CaseID,
		SampleID:            run.SampleID,
		PromptVersion:       run.PromptVersion,
		Seed:                run.Seed,
		ProcessedKey:        run.ProcessedKey,
		ProcessedURL:        run.ProcessedURL,
		TextureUniformity:   run.TextureUniformity,
		EdgePreservation:    run.EdgePreservation,
		ContrastRatio:       run.ContrastRatio,
		RidgeClarity:        run.RidgeClarity,
		BackgroundCleanness: run.BackgroundCleanness,
		OverallScore:        run.OverallScore,
		OracleReport:        run.OracleReport,
		ErrorDetail:         run.ErrorDetail,
		ElapsedMs:           run.ElapsedMs,
		CreatedAt:           run.CreatedAt,
		CompletedAt:         run.CompletedAt,
	}
	serialized, err := json.Marshal(snapshot)
	if err != nil {
		opLogger.Warn("failed to serialize run snapshot", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, run.RunID, "cache.set.run", func() error {
		return uc.cache.Set(ctx, runCacheKey(run.RunID), string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Warn("failed to cache run snapshot", zap.Error(err))
	}
}

// detachedContext bounds persistence work that must outlive the request.
func detachedContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func runCacheKey(runID string) string {
	return fmt.Sprintf("run:%s", runID)
}

// deriveSeed folds the run id into a stable noise seed so a resubmission with
// an explicit seed can reproduce the exact output.
func deriveSeed(runID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return int64(h.Sum64())
}

func (uc *RunUseCase) withRedisRetry(ctx context.Context, runID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, runID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, runID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, runID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, runID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, runID, err)
}

func (uc *RunUseCase) withRedisGet(ctx context.Context, runID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, runID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
