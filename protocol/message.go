// File: protocol/message.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message is the application-level unit: one or more data frames folded
// together by the Assembler, or a payload built programmatically for sending.

package protocol

import (
	"fmt"
	"unicode/utf8"
)

// Format is the message data type, fixed by the opcode of its first frame.
type Format byte

const (
	FormatText   = Format(OpText)
	FormatBinary = Format(OpBinary)
)

func (f Format) valid() bool {
	return f == FormatText || f == FormatBinary
}

func (f Format) String() string {
	return Opcode(f).String()
}

// Message holds a (possibly still incomplete) application message.
type Message struct {
	format   Format
	payload  []byte
	complete bool
}

// NewMessage builds a complete message for sending. Such a message cannot
// accept frames.
func NewMessage(format Format, payload []byte) (*Message, error) {
	if !format.valid() {
		return nil, &ConfigError{Field: "format", Reason: fmt.Sprintf("%s is not a message format", format)}
	}
	return &Message{format: format, payload: payload, complete: true}, nil
}

// NewTextMessage builds a complete text message.
func NewTextMessage(s string) *Message {
	return &Message{format: FormatText, payload: []byte(s), complete: true}
}

// NewBinaryMessage builds a complete binary message.
func NewBinaryMessage(p []byte) *Message {
	return &Message{format: FormatBinary, payload: p, complete: true}
}

func (m *Message) Format() Format { return m.format }
func (m *Message) Payload() []byte { return m.payload }
func (m *Message) Len() int { return len(m.payload) }
func (m *Message) IsComplete() bool { return m.complete }
func (m *Message) IsText() bool { return m.format == FormatText }
func (m *Message) IsBinary() bool { return m.format == FormatBinary }

// SetPayload replaces the payload of a completed message.
func (m *Message) SetPayload(p []byte) error {
	if !m.complete {
		return ErrMessageIncomplete
	}
	m.payload = p
	return nil
}

// SetFormat changes the format of a completed message.
func (m *Message) SetFormat(format Format) error {
	if !m.complete {
		return ErrMessageIncomplete
	}
	if !format.valid() {
		return &ConfigError{Field: "format", Reason: fmt.Sprintf("%s is not a message format", format)}
	}
	m.format = format
	return nil
}

// Frames splits the message into unmasked frames of at most fragmentSize
// payload bytes. fragmentSize <= 0 yields a single frame.
func (m *Message) Frames(fragmentSize int) []*Frame {
	if fragmentSize <= 0 || len(m.payload) <= fragmentSize {
		return []*Frame{{Fin: true, Opcode: Opcode(m.format), Payload: m.payload}}
	}
	frames := make([]*Frame, 0, (len(m.payload)+fragmentSize-1)/fragmentSize)
	op := Opcode(m.format)
	for off := 0; off < len(m.payload); off += fragmentSize {
		end := min(off+fragmentSize, len(m.payload))
		frames = append(frames, &Frame{
			Fin:     end == len(m.payload),
			Opcode:  op,
			Payload: m.payload[off:end],
		})
		op = OpContinuation
	}
	return frames
}

// Assembler folds data frames into messages, enforcing fragmentation order,
// the message size limit and UTF-8 validity of text messages.
type Assembler struct {
	MaxMessageSize int // 0 means DefaultMaxMessageSize
}

// Add folds f into msg and returns the updated message. A nil msg starts a
// new message. The returned message is complete once a FIN frame is added.
func (a Assembler) Add(msg *Message, f *Frame) (*Message, error) {
	if msg == nil {
		switch f.Opcode {
		case OpText, OpBinary:
			msg = &Message{format: Format(f.Opcode)}
		case OpContinuation:
			return nil, protocolErrorf(CloseProtocolError, "first frame of a message cannot be a continuation frame")
		default:
			return nil, protocolErrorf(CloseProtocolError, "%s frame cannot start a message", f.Opcode)
		}
	} else {
		if msg.complete {
			return msg, ErrMessageOverflow
		}
		if f.Opcode != OpContinuation {
			return msg, protocolErrorf(CloseProtocolError, "only continuation frames are allowed, got %s", f.Opcode)
		}
	}

	limit := a.MaxMessageSize
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	if len(msg.payload)+len(f.Payload) > limit {
		return msg, protocolErrorf(CloseMessageTooBig, "message exceeds maximum size of %d bytes", limit)
	}
	msg.payload = append(msg.payload, f.Payload...)

	if f.Fin {
		msg.complete = true
		if msg.format == FormatText && !utf8.Valid(msg.payload) {
			return msg, protocolErrorf(CloseInvalidPayloadData, "data type inconsistent: text message is not valid UTF-8")
		}
	}
	return msg, nil
}
