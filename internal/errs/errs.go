// Package errs defines the typed error kinds shared across the pipeline.
// Components check these with errors.Is/errors.As rather than
// string-matching, mirroring the sentinel-error style of
// internal/store/redis's CircuitBreaker (ErrCircuitOpen).
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for health-status and propagation decisions.
type Kind string

const (
	KindAuthRequired       Kind = "auth_required"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindTransient          Kind = "transient"
	KindContract           Kind = "contract"
	KindLogic              Kind = "logic"
	KindCorrupt            Kind = "corrupt"
)

// Error wraps an underlying cause with a Kind for dispatch by callers.
type Error struct {
	Kind   Kind
	Op     string // component/operation that raised it, e.g. "store.put_tick"
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errs.BackendUnavailable) style matching via
// a sentinel Kind-only *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a typed error.
func New(kind Kind, op, reason string, cause error) error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: cause}
}

// Sentinels for errors.Is comparisons against a bare kind, e.g.
// errors.Is(err, errs.AuthRequired).
var (
	AuthRequired       = &Error{Kind: KindAuthRequired}
	BackendUnavailable = &Error{Kind: KindBackendUnavailable}
	Transient          = &Error{Kind: KindTransient}
	Contract           = &Error{Kind: KindContract}
	Logic              = &Error{Kind: KindLogic}
	Corrupt            = &Error{Kind: KindCorrupt}
)

// OfKind reports whether err carries the given Kind anywhere in its chain.
func OfKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

// ErrNotFound is returned by Store reads when no record exists. It is
// distinct from Corrupt: a decode failure is demoted to NotFound after a
// logged warning, never surfaced as a crash.
var ErrNotFound = errors.New("not found")
