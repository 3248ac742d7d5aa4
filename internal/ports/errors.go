package ports

import "errors"

// ErrTransient marks failures that are safe to retry on a later cycle
// (rate limits, timeouts, unreachable upstreams). The orchestrator skips
// the affected source for the current run only.
var ErrTransient = errors.New("transient failure")

// ErrFatal marks configuration or credential failures (bad token,
// unreadable state). These abort the whole run and are surfaced to the
// operator; retrying them would only repeat the same error.
var ErrFatal = errors.New("fatal failure")

// IsTransient reports whether err is wrapped as transient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsFatal reports whether err is wrapped as fatal.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }
