// Package failure classifies rejected market operations.
//
// Every rejection carries a fixed human-readable reason. Sentinels are
// compared with errors.Is.
package failure

import "errors"

type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindTemporal
	KindState
	KindEconomic
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindTemporal:
		return "temporal"
	case KindState:
		return "state"
	case KindEconomic:
		return "economic"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is a rejection with a fixed reason.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func Authorization(reason string) *Error { return &Error{Kind: KindAuthorization, Reason: reason} }
func Temporal(reason string) *Error      { return &Error{Kind: KindTemporal, Reason: reason} }
func State(reason string) *Error         { return &Error{Kind: KindState, Reason: reason} }
func Economic(reason string) *Error      { return &Error{Kind: KindEconomic, Reason: reason} }
func Invalid(reason string) *Error       { return &Error{Kind: KindInvalid, Reason: reason} }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Reason returns the fixed reason of the first *Error in err's chain, or the
// plain error text.
func Reason(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return err.Error()
}

type committed struct {
	err error
}

func (c *committed) Error() string { return c.err.Error() }
func (c *committed) Unwrap() error { return c.err }

// Committed wraps a rejection whose state changes must still be kept, such as
// discarding an event that was started too late.
func Committed(err error) error {
	return &committed{err: err}
}

// IsCommitted reports whether err was produced by Committed.
func IsCommitted(err error) bool {
	var c *committed
	return errors.As(err, &c)
}
