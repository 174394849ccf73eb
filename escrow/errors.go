package escrow

import (
	"errors"
	"fmt"
)

// Reason is the stable machine-readable classification attached to every
// normalized ledger failure. Raw ledger result codes never leak past the
// adapter; they are preserved on the error for logging only.
type Reason string

const (
	// ReasonCreateFailed covers any non-success outcome of a creation
	// submission.
	ReasonCreateFailed Reason = "escrow_create_failed"
	// ReasonNotFound means the conditional payment no longer exists on the
	// ledger, typically because it was already finished or cancelled.
	ReasonNotFound Reason = "escrow_not_found"
	// ReasonDeadlineNotReached means the ledger's time gate rejected the
	// operation.
	ReasonDeadlineNotReached Reason = "deadline_not_reached"
	// ReasonTimeout means no definitive answer arrived within the caller's
	// budget. The underlying transaction may still have landed.
	ReasonTimeout Reason = "ledger_timeout"
	// ReasonUnavailable means the node could not be reached after retries.
	ReasonUnavailable Reason = "ledger_unavailable"
	// ReasonRejected covers every other ledger-reported failure.
	ReasonRejected Reason = "ledger_rejected"
)

// Sentinels for errors.Is matching against normalized ledger errors.
var (
	ErrCreateFailed       = errors.New("escrow: create failed")
	ErrNotFound           = errors.New("escrow: not found on ledger")
	ErrDeadlineNotReached = errors.New("escrow: deadline not reached")
	ErrTimeout            = errors.New("escrow: ledger timeout")
	ErrUnavailable        = errors.New("escrow: ledger unavailable")
	ErrRejected           = errors.New("escrow: ledger rejected operation")
)

var reasonSentinels = map[Reason]error{
	ReasonCreateFailed:       ErrCreateFailed,
	ReasonNotFound:           ErrNotFound,
	ReasonDeadlineNotReached: ErrDeadlineNotReached,
	ReasonTimeout:            ErrTimeout,
	ReasonUnavailable:        ErrUnavailable,
	ReasonRejected:           ErrRejected,
}

// Error is the adapter's normalized wrapper around a ledger failure.
type Error struct {
	Op     string
	Reason Reason
	// Code is the raw ledger result code when one was reported.
	Code string
	err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("escrow %s: %s", e.Op, e.Reason)
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.err }

// Is reports a match against the sentinel corresponding to the reason.
func (e *Error) Is(target error) bool {
	sentinel, ok := reasonSentinels[e.Reason]
	return ok && target == sentinel
}

// ReasonOf extracts the normalized reason from an error chain, or empty when
// the error did not originate from the adapter.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func newError(op string, reason Reason, code string, err error) *Error {
	return &Error{Op: op, Reason: reason, Code: code, err: err}
}
