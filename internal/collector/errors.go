package collector

import (
	"errors"
	"fmt"
	"time"

	apperrors "github.com/johnayoung/go-kline-archiver/internal/errors"
)

// CollectionError represents an error that aborted a fetch phase.
// It records the stage that failed and the symbol and interval being processed.
type CollectionError struct {
	Stage     string // "fetch", "write", "publish"
	Symbol    string
	Interval  string
	Period    string // empty for write and publish
	Err       error
	Timestamp time.Time
}

// Error implements the error interface for CollectionError.
func (e *CollectionError) Error() string {
	if e.Period != "" {
		return fmt.Sprintf("collection error [%s] for %s %s %s: %v", e.Stage, e.Symbol, e.Interval, e.Period, e.Err)
	}
	return fmt.Sprintf("collection error [%s] for %s %s: %v", e.Stage, e.Symbol, e.Interval, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *CollectionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether running the phase again could succeed.
func (e *CollectionError) IsRetryable() bool {
	return apperrors.IsRetryable(e.Err)
}

// NewCollectionError creates a new CollectionError stamped with the current time.
func NewCollectionError(stage, symbol, interval, period string, err error) *CollectionError {
	return &CollectionError{
		Stage:     stage,
		Symbol:    symbol,
		Interval:  interval,
		Period:    period,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// GetErrorStage returns the stage of a CollectionError in err's chain, or "unknown".
func GetErrorStage(err error) string {
	var ce *CollectionError
	if errors.As(err, &ce) {
		return ce.Stage
	}
	return "unknown"
}
