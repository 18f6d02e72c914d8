// Package stage defines the per-stage result type used across the analysis
// pipeline. A stage either yields a value or a structured Failure; it never
// lets an error escape except for the fatal-to-asset class.
package stage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/gwlsn/vidproof/internal/logger"
)

// Stage names used in reports and logs.
const (
	Probe      = "probe"
	Sampling   = "sampling"
	Features   = "features"
	GOP        = "gop"
	Metadata   = "metadata"
	Evidence   = "evidence"
	PRNU       = "prnu"
	Verdict    = "verdict"
	Fusion     = "fusion"
	ReportSave = "report"
)

// Sentinel errors
var (
	// ErrAssetUnreadable means the video cannot be opened or decoded at all.
	// This is the only error class that aborts an analysis.
	ErrAssetUnreadable = errors.New("asset unreadable")
	ErrProbeTimeout    = errors.New("probe timed out")
	ErrProbeFailed     = errors.New("probe failed")
	ErrDegenerateInput = errors.New("degenerate input")
	ErrPanic           = errors.New("stage panicked")
)

// Reason classifies a stage failure.
type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonProbe      Reason = "probe_failed"
	ReasonDegenerate Reason = "degenerate_input"
	ReasonPanic      Reason = "panic"
	ReasonCancelled  Reason = "cancelled"
	ReasonError      Reason = "error"
)

// Failure is the error variant of a stage result.
type Failure struct {
	Stage   string `json:"stage"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`

	err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Stage, f.Reason, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.err
}

// Fail converts err into a Failure for the named stage.
func Fail(name string, err error) *Failure {
	return &Failure{
		Stage:   name,
		Reason:  classify(err),
		Message: err.Error(),
		err:     err,
	}
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, ErrProbeTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, ErrProbeFailed):
		return ReasonProbe
	case errors.Is(err, ErrDegenerateInput):
		return ReasonDegenerate
	case errors.Is(err, ErrPanic):
		return ReasonPanic
	default:
		return ReasonError
	}
}

// Result is the tagged outcome of one stage: exactly one of Value or Err is
// meaningful.
type Result[T any] struct {
	Value T
	Err   *Failure
}

// OK wraps a successful value.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Err wraps a failure for the named stage.
func Err[T any](name string, err error) Result[T] {
	return Result[T]{Err: Fail(name, err)}
}

// Ok reports whether the stage succeeded.
func (r Result[T]) Ok() bool {
	return r.Err == nil
}

// Get returns the value and the failure as an error.
func (r Result[T]) Get() (T, error) {
	if r.Err != nil {
		return r.Value, r.Err
	}
	return r.Value, nil
}

// Run executes fn as the named stage. Returned errors and panics become a
// Failure; nothing escapes.
func Run[T any](name string, fn func() (T, error)) (res Result[T]) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Stage panicked", "stage", name, "panic", p, "stack", string(debug.Stack()))
			res = Result[T]{Err: Fail(name, fmt.Errorf("%w: %v", ErrPanic, p))}
		}
	}()

	v, err := fn()
	if err != nil {
		logger.Warn("Stage failed", "stage", name, "error", err)
		return Result[T]{Value: v, Err: Fail(name, err)}
	}
	return OK(v)
}

// Unreadable wraps err as fatal-to-asset.
func Unreadable(err error) error {
	if err == nil {
		return ErrAssetUnreadable
	}
	if errors.Is(err, ErrAssetUnreadable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAssetUnreadable, err)
}
