// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible identifier of a failure.
type Code string

// Client errors. Never retried automatically.
const (
	CodeInvalidPayload Code = "invalid_payload"
	CodeRoomIDRequired Code = "room_id_required"
	CodeInvalidSource  Code = "invalid_source"
)

// Authorization errors.
const (
	CodeUnauthorized   Code = "unauthorized"
	CodeAuthRequired   Code = "auth_required"
	CodeForbidden      Code = "forbidden"
	CodeViewerMismatch Code = "viewer_mismatch"
)

// Contention errors. Always safe to retry with backoff.
const (
	CodeRateLimited     Code = "rate_limited"
	CodeLockUnavailable Code = "lock_unavailable"
)

// State errors. Terminal for the attempt; the client must re-sync first.
const (
	CodeInvalidStatus    Code = "invalid_status"
	CodeRejoinNotPending Code = "rejoin_not_pending"
	CodeRoomInProgress   Code = "room_in_progress"
)

// Not-found and invite errors.
const (
	CodeRoomNotFound       Code = "room_not_found"
	CodeSessionNotFound    Code = "session_not_found"
	CodePlayerNotFound     Code = "player_not_found"
	CodeInviteNotFound     Code = "invite_not_found"
	CodeInviteRoomMismatch Code = "invite_room_mismatch"
	CodeInviteExpired      Code = "invite_expired"
	CodeInviteLimitReached Code = "invite_limit_reached"
)

// CodeInternal is surfaced for anything unexpected.
const CodeInternal Code = "internal"

// Error carries a Code plus optional detail and cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, apperr.New(CodeForbidden, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds an error with a code and an optional formatted message.
func New(code Code, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Msg: msg}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the Code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Retryable reports whether the client may safely retry with backoff.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeRateLimited, CodeLockUnavailable:
		return true
	}
	return false
}

// HTTPStatus maps a code onto the response status used by the command endpoints.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidPayload, CodeRoomIDRequired, CodeInvalidSource:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeForbidden, CodeViewerMismatch:
		return http.StatusForbidden
	case CodeRoomNotFound, CodeSessionNotFound, CodePlayerNotFound, CodeInviteNotFound:
		return http.StatusNotFound
	case CodeRejoinNotPending, CodeInvalidStatus, CodeRoomInProgress,
		CodeInviteRoomMismatch, CodeInviteExpired, CodeInviteLimitReached:
		return http.StatusConflict
	case CodeRateLimited, CodeLockUnavailable:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
