// Package saga records the compensating action of every completed step of
// a multi-store operation and, on failure, runs them in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrUnwindIncomplete is returned when at least one compensation kept
// failing after all retries. State may be inconsistent.
var ErrUnwindIncomplete = errors.New("saga: unwind incomplete")

// Compensation undoes one completed step.
type Compensation func(ctx context.Context) error

type step struct {
	name       string
	compensate Compensation
}

// Saga is not safe for concurrent use; one saga belongs to one attempt.
type Saga struct {
	steps       []step
	maxAttempts uint
	initial     time.Duration
}

// New creates a saga whose compensations are each tried up to
// maxAttempts times with exponential backoff starting at initial.
func New(maxAttempts uint, initial time.Duration) *Saga {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	if initial <= 0 {
		initial = 50 * time.Millisecond
	}
	return &Saga{maxAttempts: maxAttempts, initial: initial}
}

// Record registers the compensation for a step that just completed.
func (s *Saga) Record(name string, compensate Compensation) {
	s.steps = append(s.steps, step{name: name, compensate: compensate})
}

// Len returns the number of recorded steps.
func (s *Saga) Len() int { return len(s.steps) }

// Unwind runs the recorded compensations last-first. A compensation that
// exhausts its retries does not stop the rest; every failure is reported
// in the returned error, which wraps ErrUnwindIncomplete.
//
// Unwinding is detached from ctx cancellation so that a caller giving up
// cannot abandon a rollback half way; ctx values are kept.
func (s *Saga) Unwind(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var failed []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		st := s.steps[i]
		if err := s.run(ctx, st); err != nil {
			slog.Error("compensation failed",
				"step", st.name,
				"error", err,
				"integrity_risk", true,
			)
			failed = append(failed, fmt.Errorf("%s: %w", st.name, err))
			continue
		}
		slog.Debug("compensation applied", "step", st.name)
	}
	s.steps = nil

	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", ErrUnwindIncomplete, errors.Join(failed...))
	}
	return nil
}

func (s *Saga) run(ctx context.Context, st step) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	b.MaxInterval = 20 * s.initial

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := st.compensate(ctx)
		if err != nil {
			slog.Warn("compensation attempt failed",
				"step", st.name,
				"attempt", attempt,
				"error", err,
			)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.maxAttempts),
	)
	return err
}
