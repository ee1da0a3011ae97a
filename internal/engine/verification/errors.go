package verification

import "fmt"

type Kind string

const (
	KindConfiguration Kind = "CONFIGURATION"
	KindFormat        Kind = "FORMAT"
	KindInvalid       Kind = "INVALID"
	KindNotFound      Kind = "NOT_FOUND"
	KindTransient     Kind = "TRANSIENT_PROVIDER"
	KindDuplicate     Kind = "DUPLICATE_REFERENCE"
	KindIntentClosed  Kind = "INTENT_CLOSED"
)

// Error is an expected verification outcome the caller must act on.
// Compare with errors.Is against the sentinel values below.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	// ErrConfiguration means the merchant has no ACTIVE receiver for the provider.
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrFormat        = &Error{Kind: KindFormat}
	ErrInvalid       = &Error{Kind: KindInvalid}
	ErrNotFound      = &Error{Kind: KindNotFound}
	// ErrTransient means the provider could not answer. Nothing was recorded
	// and the same request may be retried.
	ErrTransient = &Error{Kind: KindTransient}
	// ErrDuplicate means the reference was consumed by another verification.
	ErrDuplicate    = &Error{Kind: KindDuplicate}
	ErrIntentClosed = &Error{Kind: KindIntentClosed}
)

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}
