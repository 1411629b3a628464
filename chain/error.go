package chain

import (
	"errors"

	"github.com/abesuite/abec/abejson"
)

// Error types to simplify the reporting of specific categories of
// errors returned by the chain server.
type (
	// InvalidAddressError describes an address the chain server refused
	// to look up.  It corresponds to abejson.ErrRPCInvalidAddressOrKey.
	InvalidAddressError struct {
		error
	}

	// InvalidParameterError describes a request the chain server refused
	// because of a bad parameter.  It corresponds to
	// abejson.ErrRPCInvalidParameter.
	InvalidParameterError struct {
		error
	}
)

// Errors variables that are defined once here to avoid duplication below.
var (
	// ErrClientShutdown is returned for requests made after, or pending
	// during, Stop.
	ErrClientShutdown = errors.New("the client has been shutdown")

	// ErrClientNotConnected is returned for requests made before Start.
	ErrClientNotConnected = errors.New("the client is not connected")

	// ErrClientAlreadyStarted is returned by a second call to Start.
	ErrClientAlreadyStarted = errors.New("the client was already started")
)

// convertRPCError maps the error object of a response to the typed errors of
// this package.
func convertRPCError(rpcErr *abejson.RPCError) error {
	switch rpcErr.Code {
	case abejson.ErrRPCInvalidAddressOrKey:
		return InvalidAddressError{*rpcErr}
	case abejson.ErrRPCInvalidParameter:
		return InvalidParameterError{*rpcErr}
	default:
		return *rpcErr
	}
}
