package service

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable class of an issuance failure.
type Kind string

const (
	KindClientNotFound   Kind = "client_not_found"
	KindClientInvalid    Kind = "client_invalid"
	KindInvalidPrincipal Kind = "invalid_principal"
	KindSigningError     Kind = "signing_error"
	KindTokenCollision   Kind = "token_collision"
	KindIssuanceFailed   Kind = "issuance_failed"
	KindInvalidGrant     Kind = "invalid_grant"
)

// Error carries a Kind and a human-readable message. Two Errors match under
// errors.Is when their kinds are equal, so the sentinels below can be used
// as targets.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

var (
	ErrClientNotFound   = &Error{Kind: KindClientNotFound}
	ErrClientInvalid    = &Error{Kind: KindClientInvalid}
	ErrInvalidPrincipal = &Error{Kind: KindInvalidPrincipal}
	ErrSigning          = &Error{Kind: KindSigningError}
	ErrTokenCollision   = &Error{Kind: KindTokenCollision}
	ErrIssuanceFailed   = &Error{Kind: KindIssuanceFailed}
	ErrInvalidGrant     = &Error{Kind: KindInvalidGrant}
)

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	} else {
		msg = string(e.Kind) + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the outermost *Error in err's chain.
// Unclassified errors report KindIssuanceFailed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIssuanceFailed
}

// ErrorResponse is the external shape of a failure.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// ResponseFor renders err without leaking wrapped internals.
func ResponseFor(err error) ErrorResponse {
	var e *Error
	if errors.As(err, &e) {
		return ErrorResponse{Error: string(e.Kind), Description: e.Message}
	}
	return ErrorResponse{Error: string(KindIssuanceFailed), Description: "internal error"}
}
