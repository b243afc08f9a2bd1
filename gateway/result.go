package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SessionExpiredMessage is the Error of every AuthExpired result.
const SessionExpiredMessage = "Session expired. Please login again."

// Kind classifies a failed Result.
type Kind uint8

const (
	KindNone Kind = iota
	// KindNetwork covers transport errors, timeouts and undecodable bodies.
	KindNetwork
	// KindValidation is a non-2xx, non-5xx answer other than session expiry.
	KindValidation
	// KindAuthExpired means the session was torn down.
	KindAuthExpired
	// KindServer is a 5xx answer.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindAuthExpired:
		return "auth_expired"
	case KindServer:
		return "server"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Result is the outcome of one logical request, including any retry.
type Result struct {
	Success bool
	// Data is body.data when present and non-null, else the whole body.
	Data      json.RawMessage
	Error     string
	AuthError bool
	Status    int
	Kind      Kind
}

// ErrEmptyData is returned by Decode when a successful result carried no body.
var ErrEmptyData = errors.New("response carried no data")

// Decode unmarshals Data into v.
func (r Result) Decode(v interface{}) error {
	if !r.Success {
		return errors.New(r.Error)
	}
	if len(r.Data) == 0 {
		return ErrEmptyData
	}
	return json.Unmarshal(r.Data, v)
}

func networkResult(err error) Result {
	return Result{Error: err.Error(), Kind: KindNetwork}
}

func expiredResult(status int) Result {
	return Result{Error: SessionExpiredMessage, AuthError: true, Status: status, Kind: KindAuthExpired}
}
