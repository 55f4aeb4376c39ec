package domain

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidRoomKey         = errors.New("invalid room key")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrAccessDenied           = errors.New("access denied")
	ErrConflictingOwner       = errors.New("call already claimed by another identity")
	ErrTransientNetwork       = errors.New("transient network failure")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrCallNotFound           = errors.New("call not found")
	ErrRateLimited            = errors.New("too many connect attempts")
)

// Code is the stable reason code sent to clients.
type Code string

const (
	CodeInvalidRoomKey         Code = "invalid_room_key"
	CodeAuthenticationFailed   Code = "authentication_failed"
	CodeAccessDenied           Code = "access_denied"
	CodeConflictingOwner       Code = "conflicting_owner"
	CodeTransientNetwork       Code = "transient_network_failure"
	CodePersistenceUnavailable Code = "persistence_unavailable"
	CodeRateLimited            Code = "rate_limited"
)

// Error couples a reason code with the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func NewError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

var sentinels = map[Code]error{
	CodeInvalidRoomKey:         ErrInvalidRoomKey,
	CodeAuthenticationFailed:   ErrAuthenticationFailed,
	CodeAccessDenied:           ErrAccessDenied,
	CodeConflictingOwner:       ErrConflictingOwner,
	CodeTransientNetwork:       ErrTransientNetwork,
	CodePersistenceUnavailable: ErrPersistenceUnavailable,
	CodeRateLimited:            ErrRateLimited,
}

// Is lets errors.Is match a coded error against its sentinel even when the
// cause is some other error.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

// CodeOf extracts the reason code, falling back to the sentinel chain.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	for code, s := range sentinels {
		if errors.Is(err, s) {
			return code, true
		}
	}
	return "", false
}

// Terminal reports whether a connect-time failure must not be retried.
func Terminal(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case CodeInvalidRoomKey, CodeAuthenticationFailed, CodeAccessDenied, CodeConflictingOwner:
		return true
	}
	return false
}

// HTTPStatus maps a reason code onto the connect-time response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidRoomKey:
		return http.StatusBadRequest
	case CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeConflictingOwner:
		return http.StatusConflict
	case CodePersistenceUnavailable, CodeTransientNetwork:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// CodeFromStatus is the client side inverse of HTTPStatus.
func CodeFromStatus(status int) (Code, bool) {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidRoomKey, true
	case http.StatusUnauthorized:
		return CodeAuthenticationFailed, true
	case http.StatusForbidden:
		return CodeAccessDenied, true
	case http.StatusConflict:
		return CodeConflictingOwner, true
	}
	return "", false
}
