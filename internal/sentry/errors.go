package sentry

import (
	"errors"
	"fmt"
)

// ErrFatal marks failures that leave the node unable to sense or log. The
// only recovery is a process restart.
var ErrFatal = errors.New("sentry: fatal")

// ErrMissingDependency is returned by New when a required dependency is nil.
var ErrMissingDependency = errors.New("sentry: missing dependency")

func fatal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFatal, op, err)
}
