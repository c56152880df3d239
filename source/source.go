package source

import (
	"context"
	"errors"

	"pumppulse/models"
)

// Adapter owns exactly one upstream connection. Run connects,
// subscribes with the adapter's fixed filter, and forwards every
// upstream message verbatim to out until the transport fails or ctx is
// cancelled. ready is invoked once the subscription is live. An adapter
// never restarts itself; that is the supervisor's job.
type Adapter interface {
	ID() models.SourceID
	Run(ctx context.Context, ready func(), out chan<- models.RawMessage) error
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks an error as non-retryable (bad credentials, bad filter).
// Supervisors stop instead of backing off when they see one.
func Fatal(err error) error {
	return &fatalError{err: err}
}

func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// emit forwards one raw message, preserving per-adapter ordering.
func emit(ctx context.Context, out chan<- models.RawMessage, msg models.RawMessage) error {
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
