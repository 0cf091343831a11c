// Package trigger abstracts the host scheduling primitive. The engine
// installs at most a handful of named triggers: one recurring dispatcher
// trigger and, transiently, a one-off kickoff trigger. Recurring cadence
// finer than one hour is not assumed available.
package trigger

import (
	"context"
	"errors"
	"time"
)

// ErrTriggerExists indicates a trigger with the same name is installed.
var ErrTriggerExists = errors.New("trigger already exists")

// Handler is invoked when a trigger fires.
type Handler func(ctx context.Context)

// Service manages named triggers.
type Service interface {
	// List returns the names of all installed triggers.
	List(ctx context.Context) ([]string, error)

	// CreateRecurring installs a trigger firing every interval.
	CreateRecurring(ctx context.Context, name string, every time.Duration, h Handler) error

	// CreateOneOff installs a trigger firing once after the delay. The
	// trigger removes itself after firing.
	CreateOneOff(ctx context.Context, name string, after time.Duration, h Handler) error

	// Delete removes the named trigger. Deleting an absent trigger is
	// not an error.
	Delete(ctx context.Context, name string) error
}
