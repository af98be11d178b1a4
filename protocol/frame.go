// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frame is the single wire-level WebSocket unit shared by the encoder and
// the incremental decoder. Frames built by hand go through the setters,
// which validate opcode and control-frame limits and report *ConfigError.

package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Frame represents a WebSocket frame. Payload is always unmasked
// application data; masking is applied by the encoder.
type Frame struct {
	Fin     bool    // FIN bit
	Opcode  Opcode  // Operation code
	Masked  bool    // MASK bit
	MaskKey [4]byte // valid when Masked
	Payload []byte
}

// NewFrame builds a final frame with the given opcode and payload.
func NewFrame(op Opcode, payload []byte) (*Frame, error) {
	f := &Frame{Fin: true}
	if err := f.SetOpcode(op); err != nil {
		return nil, err
	}
	if err := f.SetPayload(payload); err != nil {
		return nil, err
	}
	return f, nil
}

// SetOpcode changes the frame type.
func (f *Frame) SetOpcode(op Opcode) error {
	if !op.Valid() {
		return &ConfigError{Field: "opcode", Reason: fmt.Sprintf("0x%X is not defined by RFC 6455", byte(op))}
	}
	if op.IsControl() && len(f.Payload) > MaxControlPayloadLen {
		return &ConfigError{Field: "opcode", Reason: "control frame payload exceeds 125 bytes"}
	}
	f.Opcode = op
	return nil
}

// SetPayload replaces the payload.
func (f *Frame) SetPayload(p []byte) error {
	if f.Opcode.IsControl() && len(p) > MaxControlPayloadLen {
		return &ConfigError{Field: "payload", Reason: ErrControlPayloadTooLong.Error()}
	}
	f.Payload = p
	return nil
}

// SetMasked toggles masking. Enabling it generates a new random key.
func (f *Frame) SetMasked(masked bool) error {
	if !masked {
		f.Masked = false
		f.MaskKey = [4]byte{}
		return nil
	}
	key, err := NewMaskKey()
	if err != nil {
		return fmt.Errorf("generate mask key: %w", err)
	}
	f.Masked = true
	f.MaskKey = key
	return nil
}

// PayloadLength returns the number of payload bytes.
func (f *Frame) PayloadLength() uint64 {
	return uint64(len(f.Payload))
}

// IsControl reports whether the frame is a Close, Ping or Pong frame.
func (f *Frame) IsControl() bool {
	return f.Opcode.IsControl()
}

// NewCloseFrame builds an unmasked Close frame. The reason is cut at a
// rune boundary so the payload stays within 125 bytes and valid UTF-8.
func NewCloseFrame(code CloseCode, reason string) *Frame {
	if len(reason) > maxCloseReasonLen {
		cut := maxCloseReasonLen
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	payload := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	payload = append(payload, reason...)
	return &Frame{Fin: true, Opcode: OpClose, Payload: payload}
}

// ParseClosePayload validates the optional body of a received Close frame.
// An empty body yields CloseNoStatusRcvd.
func ParseClosePayload(p []byte) (CloseCode, string, error) {
	switch len(p) {
	case 0:
		return CloseNoStatusRcvd, "", nil
	case 1:
		return 0, "", protocolErrorf(CloseProtocolError, "invalid close payload")
	}
	code := CloseCode(binary.BigEndian.Uint16(p))
	if !ValidCloseCode(code) {
		return 0, "", protocolErrorf(CloseProtocolError, "invalid close code %d", code)
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", protocolErrorf(CloseInvalidPayloadData, "close reason is not valid UTF-8")
	}
	return code, string(reason), nil
}
