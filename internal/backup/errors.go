package backup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidContext is returned by Execute when the context is missing
// required configuration. Never retried.
var ErrInvalidContext = errors.New("backup: invalid context")

// PartialError reports a run in which some target databases failed while
// at least one succeeded. Under the best-effort policy the run as a
// whole still completed; the CLI maps this to its own exit code.
type PartialError struct {
	Failed []DatabaseResult
}

func (e *PartialError) Error() string {
	names := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		names[i] = r.Database
	}
	return fmt.Sprintf("backup: %d database(s) failed: %s", len(e.Failed), strings.Join(names, ", "))
}

// FatalError wraps an infrastructure failure (adapter construction,
// storage construction, enumeration) that aborts the whole attempt
// regardless of policy.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("backup: %s: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
