package swap

import (
	"fmt"
	"strings"
)

// Kind classifies an orchestration failure
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request"
	KindRPCFailure         Kind = "rpc_failure"
	KindNoQuoteAvailable   Kind = "no_quote_available"
	KindApprovalIncomplete Kind = "approval_incomplete"
	KindExecutionReverted  Kind = "execution_reverted"
	KindBusy               Kind = "busy"
	KindUnsupported        Kind = "unsupported"
	KindCancelled          Kind = "cancelled"
)

// Error is returned by Execute for every unsuccessful orchestration. Reason
// is meant for people; Err keeps the underlying cause.
type Error struct {
	Kind   Kind
	State  State
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.State != "" {
		fmt.Fprintf(&b, " in %s", e.State)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrBusy) works
// regardless of state or reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrRPCFailure         = &Error{Kind: KindRPCFailure}
	ErrNoQuoteAvailable   = &Error{Kind: KindNoQuoteAvailable}
	ErrApprovalIncomplete = &Error{Kind: KindApprovalIncomplete}
	ErrExecutionReverted  = &Error{Kind: KindExecutionReverted}
	ErrBusy               = &Error{Kind: KindBusy}
	ErrUnsupported        = &Error{Kind: KindUnsupported}
	ErrCancelled          = &Error{Kind: KindCancelled}
)

func fail(kind Kind, state State, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, State: state, Reason: fmt.Sprintf(format, args...), Err: err}
}
