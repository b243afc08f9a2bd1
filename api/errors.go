package api

import (
	"errors"

	"github.com/MrEthical07/goSession/gateway"
)

var (
	// ErrAuthExpired means the session was torn down; the user must log in again.
	ErrAuthExpired = errors.New("session expired")
	// ErrValidation is a 4xx rejection other than session expiry.
	ErrValidation = errors.New("request rejected")
	// ErrServer is a 5xx answer.
	ErrServer = errors.New("server error")
	// ErrNetwork covers transport failures and undecodable responses.
	ErrNetwork = errors.New("network error")
)

// Error is a failed management-API call.
type Error struct {
	Kind    gateway.Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuthExpired:
		return e.Kind == gateway.KindAuthExpired
	case ErrValidation:
		return e.Kind == gateway.KindValidation
	case ErrServer:
		return e.Kind == gateway.KindServer
	case ErrNetwork:
		return e.Kind == gateway.KindNetwork
	}
	return false
}

func errorFrom(r gateway.Result) error {
	if r.Success {
		return nil
	}
	kind := r.Kind
	if r.AuthError {
		kind = gateway.KindAuthExpired
	}
	return &Error{Kind: kind, Status: r.Status, Message: r.Error}
}
