package engine

import (
	"errors"

	"github.com/dokzlo13/wemod/internal/transport"
)

// FailureClass groups transport failures for logging.
type FailureClass string

const (
	FailureTimeout     FailureClass = "timeout"
	FailureUnreachable FailureClass = "unreachable"
	FailureNoService   FailureClass = "no_service"
	FailureOther       FailureClass = "other"
)

// Classify maps an error returned by a transport client to its class.
func Classify(err error) FailureClass {
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return FailureTimeout
	case errors.Is(err, transport.ErrUnreachable):
		return FailureUnreachable
	case errors.Is(err, transport.ErrNoService):
		return FailureNoService
	default:
		return FailureOther
	}
}

// Expected reports whether the class is routine network noise that does not
// deserve the full error text in logs.
func (c FailureClass) Expected() bool {
	return c != FailureOther
}
