package upstream

import "errors"

// Kind classifies upstream failures per the error taxonomy: business errors
// carry a provider/backend code and are never retried; transport errors are
// generic and retryable only by the user re-entering the flow; unauthorized
// errors direct the user back to the login entry point.
type Kind int

const (
	// KindTransport covers network failures and non-2xx responses without a
	// structured envelope.
	KindTransport Kind = iota
	// KindBusiness covers envelope-level rejections (success=false).
	KindBusiness
	// KindUnauthorized covers expired or missing sessions.
	KindUnauthorized
)

// Error is the uniform error returned by Client calls.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.wrapped != nil {
		return e.wrapped.Error()
	}
	return "upstream error"
}

// Unwrap exposes the underlying transport error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.wrapped
}

// AsError extracts an *Error from err when present.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsBusiness reports whether err is an envelope-level rejection.
func IsBusiness(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind == KindBusiness
}

// IsUnauthorized reports whether err indicates an expired or missing session.
func IsUnauthorized(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind == KindUnauthorized
}

// CodeOf returns the business code attached to err, if any.
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
