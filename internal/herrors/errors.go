// Package herrors defines the structured error kinds shared across the
// console core, so every component returns a result distinguishing
// success from a fixed set of failure categories instead of opaque
// fmt.Errorf strings.
package herrors

import (
	"errors"
	"fmt"
)

// Kind categorizes a core failure. Callers should switch on Kind, not
// on error string content.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindComm
	KindPlugin
	KindParam
	KindState
	KindHardware
	KindAbort
	KindNotSupported
	KindCalibration
	KindJournal
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindComm:
		return "Comm"
	case KindPlugin:
		return "Plugin"
	case KindParam:
		return "Param"
	case KindState:
		return "State"
	case KindHardware:
		return "Hardware"
	case KindAbort:
		return "Abort"
	case KindNotSupported:
		return "NotSupported"
	case KindCalibration:
		return "Calibration"
	case KindJournal:
		return "Journal"
	default:
		return "Unknown"
	}
}

// Error is the structured error carried across every public operation
// boundary in the core. Op names the failing operation (e.g.
// "generator.StartExposure") for log correlation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error for op/kind, wrapping err (which may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err is not a
// *Error (or wraps one).
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindUnknown
}
