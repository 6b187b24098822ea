package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failure for the UI layer.
type Kind string

const (
	KindInvalidCredentials   Kind = "InvalidCredentials"
	KindProviderUnavailable  Kind = "ProviderUnavailable"
	KindTokenNotFound        Kind = "TokenNotFound"
	KindFormNotFound         Kind = "FormNotFound"
	KindTimeout              Kind = "Timeout"
	KindSessionExpired       Kind = "SessionExpired"
	KindLogoutPartialFailure Kind = "LogoutPartialFailure"
	KindLoginInProgress      Kind = "LoginInProgress"
	KindCanceled             Kind = "Canceled"
	KindInternal             Kind = "Internal"
)

// Error is the normalized {kind, message} shape handed to callers.
// Cause is kept for errors.Is/As but never rendered.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels, one per kind.
var (
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials, Message: "invalid email or password"}
	ErrProviderUnavailable  = &Error{Kind: KindProviderUnavailable, Message: "unable to connect"}
	ErrTokenNotFound        = &Error{Kind: KindTokenNotFound, Message: "no session token was issued"}
	ErrFormNotFound         = &Error{Kind: KindFormNotFound, Message: "login form not found"}
	ErrTimeout              = &Error{Kind: KindTimeout, Message: "request timed out"}
	ErrSessionExpired       = &Error{Kind: KindSessionExpired, Message: "session expired"}
	ErrLogoutPartialFailure = &Error{Kind: KindLogoutPartialFailure, Message: "signed out locally, server logout failed"}
	ErrLoginInProgress      = &Error{Kind: KindLoginInProgress, Message: "a login attempt is already in progress"}
	ErrCanceled             = &Error{Kind: KindCanceled, Message: "login cancelled"}
)

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind carrying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Normalize converts any error into an *Error. Transport and context
// failures are classified; anything unknown becomes KindInternal with a
// generic message so raw error text never reaches the UI.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, ErrTimeout.Message, err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindCanceled, ErrCanceled.Message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, ErrTimeout.Message, err)
		}
		return Wrap(KindProviderUnavailable, ErrProviderUnavailable.Message, err)
	}
	return Wrap(KindInternal, "something went wrong, please try again", err)
}

// KindOf returns the kind of err after normalization.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Normalize(err).Kind
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
