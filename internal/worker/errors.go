package worker

import (
	"errors"

	"github.com/hibiken/asynq"
)

// permanentError marks a failure that retrying cannot fix. It unwraps to
// asynq.SkipRetry so the server archives the task immediately instead of
// burning the remaining retry budget, while Error() keeps the original
// message for the job record.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{e.err, asynq.SkipRetry} }

// NonRetryable wraps err as a permanent failure. Use it for malformed
// payloads, validation failures, missing referenced records and 4xx-class
// collaborator responses.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsNonRetryable reports whether err was marked permanent.
func IsNonRetryable(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
