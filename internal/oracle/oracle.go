// Package oracle consumes the external qualitative assessment service. The
// service is treated as an opaque, fallible collaborator: a failed or slow
// assessment degrades to an empty report and never fails the run.
package oracle

import "context"

// Report is the structured opinion returned by the assessment service.
type Report struct {
	Assessment      string   `json:"assessment"`
	Recommendations []string `json:"recommendations"`
	Notes           string   `json:"notes"`
	Confidence      float64  `json:"confidence"`
}

// Client exposes the subset of the assessment service used by the run flow.
type Client interface {
	Assess(ctx context.Context, originalRef, processedRef string, elapsedMs int64) (*Report, error)
}

// OutcomeStatus tells how an assessment attempt ended.
type OutcomeStatus string

const (
	OutcomeOK       OutcomeStatus = "ok"
	OutcomeTimedOut OutcomeStatus = "timed_out"
	OutcomeFailed   OutcomeStatus = "failed"
)

// Outcome is the joined result of a bounded assessment attempt. Report is nil
// unless Status is OutcomeOK.
type Outcome struct {
	Status OutcomeStatus
	Report *Report
	Reason string
}
