// Package taskerr declares the sentinel errors and the retryable/fatal
// error wrapper shared by ModulePipeline and PlanPipeline, generalizing
// relay/internal/brain/orchestrator.go's EngagementError.Retryable split
// onto a domain with two distinct pipelines instead of one.
package taskerr

import "errors"

// Sentinel errors checked with errors.Is at call sites that need to
// distinguish why a task stage gave up.
var (
	ErrRetrieveTimeout     = errors.New("retrieve stage timed out")
	ErrReviewExhausted     = errors.New("review retries exhausted")
	ErrAnalyzerUnavailable = errors.New("graph analyzer unavailable")
)

// TaskError carries whether the caller should requeue the task or treat
// it as a terminal failure, the same split EngagementError makes in
// relay/internal/brain/orchestrator.go.
type TaskError struct {
	Err       error
	Retryable bool
}

func (e *TaskError) Error() string {
	return e.Err.Error()
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a transient failure a caller may requeue.
func NewRetryable(err error) *TaskError {
	return &TaskError{Err: err, Retryable: true}
}

// NewFatal wraps err as a terminal failure no retry would fix.
func NewFatal(err error) *TaskError {
	return &TaskError{Err: err, Retryable: false}
}
