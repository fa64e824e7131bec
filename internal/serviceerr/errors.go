// Package serviceerr defines the error taxonomy of the login portal.
// Operation failures carry a Code so callers can decide how to present
// them without parsing message strings.
package serviceerr

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeUnknown             Code = "unknown"
	CodeConfiguration       Code = "configuration"
	CodeUserCancelled       Code = "user_cancelled"
	CodeNetwork             Code = "network"
	CodeServerRejected      Code = "server_rejected"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeStateExpired        Code = "state_expired"
	CodeFingerprintMismatch Code = "fingerprint_mismatch"
	CodeInvalidToken        Code = "invalid_token"
)

// Error is a tagged operation failure. The Description is the
// human-readable text shown to the user; it is display-only and is
// never parsed.
type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// Is matches two tagged errors by code, so errors.Is works against the
// predefined values regardless of description.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Err == e.Err
}

// HTTPStatus maps the code to the status used when the failure is
// rendered over HTTP.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeUserCancelled, CodeServerRejected, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeNotFound, CodeStateExpired:
		return http.StatusNotFound
	case CodeFingerprintMismatch:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the code from anywhere in the error chain. Untagged
// errors come back as CodeUnknown.
func CodeOf(err error) Code {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Err
	}

	return CodeUnknown
}

// Predefined errors for the common failure points of the sign-in and
// sign-out flows.
var (
	ErrUnknown             = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrNotFound            = &Error{Err: CodeNotFound, Description: "not found"}
	ErrConflict            = &Error{Err: CodeConflict, Description: "already exists"}
	ErrStateExpired        = &Error{Err: CodeStateExpired, Description: "sign-in state expired"}
	ErrFingerprintMismatch = &Error{Err: CodeFingerprintMismatch, Description: "fingerprint mismatch"}
	ErrUserCancelled       = &Error{Err: CodeUserCancelled, Description: "the sign-in flow was cancelled"}
	ErrMissingIDToken      = &Error{Err: CodeInvalidToken, Description: "the provider did not return an identity token"}
	ErrInvalidAtHash       = &Error{Err: CodeInvalidToken, Description: "access token hash does not match the identity token"}
)
