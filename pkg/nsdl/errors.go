package nsdl

import (
	"errors"

	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/log"
)

// Engine errors.
var (
	ErrNoTransport   = errors.New("transport is required")
	ErrInvalidState  = errors.New("invalid state for operation")
	ErrNotBootstrap  = errors.New("security instance is not a bootstrap instance")
	ErrIsBootstrap   = errors.New("security instance is a bootstrap instance")
	ErrStopped       = errors.New("engine stopped")
	ErrResponseCode  = errors.New("server responded with error")
	ErrExchangeReset = errors.New("exchange reset by peer")
)

// ErrorKind classifies errors surfaced to the observer.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindAlreadyExists
	KindNotFound
	KindInvalidParameters
	KindInvalidState
	KindTimeout
	KindNetworkError
	KindNotAllowed
	KindNotAcceptable
)

// String returns the error kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	case KindInvalidParameters:
		return "invalid_parameters"
	case KindInvalidState:
		return "invalid_state"
	case KindTimeout:
		return "timeout"
	case KindNetworkError:
		return "network_error"
	case KindNotAllowed:
		return "not_allowed"
	case KindNotAcceptable:
		return "not_acceptable"
	default:
		return "unknown"
	}
}

// logErrorEvent shapes an error for the protocol logger.
func logErrorEvent(err error, kind ErrorKind) log.Event {
	return log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerEngine,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: err.Error(), Kind: kind.String()},
	}
}

// kindFromCode maps a CoAP response code onto an observer error kind.
func kindFromCode(code codes.Code) ErrorKind {
	switch code {
	case codes.BadRequest, codes.BadOption:
		return KindInvalidParameters
	case codes.Unauthorized, codes.Forbidden, codes.MethodNotAllowed:
		return KindNotAllowed
	case codes.NotFound:
		return KindNotFound
	case codes.NotAcceptable, codes.UnsupportedMediaType:
		return KindNotAcceptable
	case coap.CodeConflict:
		return KindAlreadyExists
	default:
		return KindUnknown
	}
}
