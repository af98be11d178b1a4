// File: protocol/constants.go
// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants: opcodes, bit masks, size limits and
// close status codes (RFC 6455 sections 5.2, 5.5 and 7.4).

package protocol

import (
	"fmt"
	"math"
)

// Opcode is the 4-bit frame type carried in the first header byte.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// Valid reports whether op is one of the six opcodes defined by RFC 6455.
func (op Opcode) Valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

// IsControl reports whether op belongs to the control range (0x8-0xF).
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(0x%X)", byte(op))
	}
}

// Header bit layout.
const (
	finBit     = 0x80
	rsvBits    = 0x70
	opcodeBits = 0x0F
	maskBit    = 0x80
	len7Bits   = 0x7F

	len16Marker = 126
	len64Marker = 127
)

// Frame and message limits.
const (
	MaxControlPayloadLen = 125
	MaxFrameHeaderLen    = 14 // 2 + 8 extended length + 4 mask key

	// DefaultMaxFramePayload leaves frame size effectively unbounded; the
	// message limit still applies to data frames.
	DefaultMaxFramePayload uint64 = math.MaxInt64

	// RecommendedMaxFramePayload is the production bound used by the server.
	RecommendedMaxFramePayload uint64 = 512 << 10

	DefaultMaxMessageSize = 32 << 20 // 33554432 bytes

	maxCloseReasonLen = MaxControlPayloadLen - 2
)

// CloseCode is the 16-bit status code carried in Close frames.
type CloseCode uint16

const (
	CloseNormalClosure      CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseNoStatusRcvd       CloseCode = 1005
	CloseAbnormalClosure    CloseCode = 1006
	CloseInvalidPayloadData CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseMissingExtension   CloseCode = 1010
	CloseInternalServerErr  CloseCode = 1011
	CloseTLSHandshake       CloseCode = 1015
)

// ValidCloseCode reports whether code may legally appear in a Close frame
// received from a peer (RFC 6455 section 7.4).
func ValidCloseCode(code CloseCode) bool {
	switch {
	case code < 1000 || code > 5000:
		return false
	case code == 1004, code == CloseNoStatusRcvd, code == CloseAbnormalClosure:
		return false
	case code > 1011 && code < 3000:
		// 1012-1015 are outside the set defined by RFC 6455 (1015 is local only),
		// 1016-2999 is reserved for future protocol revisions.
		return false
	default:
		return true
	}
}
