// Package util provides small helpers shared across the agent.
package util

import (
	"errors"
	"fmt"
)

// Releaser runs cleanup steps in order, keeps going after a failed step
// and reports every failure at the end.
type Releaser struct {
	errs []error
}

// Do runs fn and records its error, if any, under step.
func (r *Releaser) Do(step string, fn func() error) {
	if err := fn(); err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", step, err))
	}
}

// Failed returns how many steps failed so far.
func (r *Releaser) Failed() int {
	return len(r.errs)
}

// Err joins the recorded failures, or returns nil when every step
// succeeded.
func (r *Releaser) Err() error {
	return errors.Join(r.errs...)
}
