// File: protocol/errors.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error taxonomy of the protocol engine. Errors are returned as values from
// decode, assembly and routing; the connection converts them into a close
// handshake and never lets them escape the connection boundary.

package protocol

import (
	"errors"
	"fmt"

	"github.com/momentics/wsengine/api"
)

var (
	ErrMessageOverflow       = errors.New("message cannot accept additional frames")
	ErrMessageIncomplete     = errors.New("message is not complete")
	ErrControlPayloadTooLong = fmt.Errorf("control frame payload cannot exceed %d bytes", MaxControlPayloadLen)
	ErrConnClosed            = errors.New("connection is closing")
)

// ProtocolError is a malformed or RFC-violating input from the peer.
type ProtocolError struct {
	Code   CloseCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket protocol error %d: %s", e.Code, e.Reason)
}

func protocolErrorf(code CloseCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ConfigError reports invalid arguments passed to a public constructor or
// an invalid configuration value. It never involves the network.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CloseCodeOf maps an error onto the close code reported for it.
func CloseCodeOf(err error) CloseCode {
	if err == nil {
		return CloseNormalClosure
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	var te *TransportError
	if errors.As(err, &te) {
		return CloseAbnormalClosure
	}
	return CloseInternalServerErr
}

// ToAPIError converts protocol errors into the library-wide *api.Error.
// Errors that already are *api.Error are returned unchanged.
func ToAPIError(err error) *api.Error {
	if err == nil {
		return nil
	}
	var ae *api.Error
	if errors.As(err, &ae) {
		return ae
	}
	var (
		pe *ProtocolError
		ce *ConfigError
		te *TransportError
		he *HandshakeError
	)
	switch {
	case errors.As(err, &pe):
		return api.NewError(api.ErrCodeProtocol, pe.Reason).WithContext("close_code", int(pe.Code)).Wrap(err)
	case errors.As(err, &ce):
		return api.NewError(api.ErrCodeInvalidArgument, ce.Error()).WithContext("field", ce.Field).Wrap(err)
	case errors.As(err, &te):
		return api.NewError(api.ErrCodeTransport, te.Op).Wrap(err)
	case errors.As(err, &he):
		return api.NewError(api.ErrCodeHandshake, he.Reason).WithContext("status", he.StatusCode).Wrap(err)
	default:
		return api.NewError(api.ErrCodeInternal, "internal error").Wrap(err)
	}
}
