// Package par3 implements the Parchive v3 container format and the
// create/verify/repair engine on top of the erasure codecs in pkg/ecc.
package par3

import "errors"

// Kind classifies engine failures and terminal verify/repair outcomes.
// RepairPossible, RepairNotPossible and RepairFailed are outcomes rather
// than transport errors; they still travel as error values so the CLI can
// map every result to its exit code in one place.
type Kind int

const (
	KindOK Kind = iota
	KindLogic
	KindInvalidCommand
	KindFileIO
	KindMemory
	KindRepairPossible
	KindRepairNotPossible
	KindRepairFailed
)

// ExitCode returns the process exit code for a kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindOK:
		return 0
	case KindLogic:
		return 1
	case KindInvalidCommand:
		return 2
	case KindFileIO:
		return 3
	case KindMemory:
		return 4
	case KindRepairPossible:
		return 5
	case KindRepairNotPossible:
		return 6
	case KindRepairFailed:
		return 7
	}
	return 1
}

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindLogic:
		return "logic error"
	case KindInvalidCommand:
		return "invalid command"
	case KindFileIO:
		return "file i/o error"
	case KindMemory:
		return "out of memory"
	case KindRepairPossible:
		return "repair is possible"
	case KindRepairNotPossible:
		return "repair is not possible"
	case KindRepairFailed:
		return "repair failed"
	}
	return "unknown"
}

// Error carries a kind together with a wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err yields a bare-kind error.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindLogic
// for unclassified errors and KindOK for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindLogic
}

// Sentinel conditions surfaced by the packet reader and the engine.
var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrMissingPacket   = errors.New("mandatory packet missing")
	ErrBadSetID        = errors.New("packet belongs to a different set")
	ErrParityCheck     = errors.New("region parity self-check failed after decode")
)
