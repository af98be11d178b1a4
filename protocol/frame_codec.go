// File: protocol/frame_codec.go
// Package protocol implements the frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The decoder is resumable at field granularity: a header field is consumed
// only once all of its bytes are available, payload bytes are consumed as
// they arrive. The caller owns the input buffer and advances it by the
// returned byte count.

package protocol

import (
	"encoding/binary"
)

// payloadPrealloc caps the capacity reserved up front for a declared payload,
// so a forged length cannot force a large allocation before bytes arrive.
const payloadPrealloc = 64 << 10

type decodeStage uint8

const (
	stageHeader decodeStage = iota
	stageExtLength
	stageMaskKey
	stagePayload
)

// Decoder incrementally decodes frames. The zero value is ready to use and
// applies DefaultMaxFramePayload.
type Decoder struct {
	// MaxPayload bounds the declared payload length of a single frame.
	MaxPayload uint64

	dataLimit   uint64
	dataLimited bool

	frame     *Frame
	stage     decodeStage
	len7      byte
	remaining uint64
}

// NewDecoder returns a decoder enforcing maxPayload (0 means default).
func NewDecoder(maxPayload uint64) *Decoder {
	return &Decoder{MaxPayload: maxPayload}
}

// LimitData bounds the declared length of data frames to n in addition to
// MaxPayload, until changed again. Control frames are not affected.
func (d *Decoder) LimitData(n uint64) {
	d.dataLimit, d.dataLimited = n, true
}

// InProgress returns the frame under construction, or nil.
func (d *Decoder) InProgress() *Frame {
	return d.frame
}

// Reset drops any partially decoded frame.
func (d *Decoder) Reset() {
	d.frame = nil
	d.stage = stageHeader
	d.len7 = 0
	d.remaining = 0
}

// Decode consumes bytes from the front of buf. It returns the completed
// frame, or nil when more bytes are needed, together with the number of
// bytes consumed. Errors are *ProtocolError; the decoder is reset on error.
func (d *Decoder) Decode(buf []byte) (*Frame, int, error) {
	f, n, err := d.decode(buf)
	if err != nil {
		d.Reset()
		return nil, n, err
	}
	return f, n, nil
}

func (d *Decoder) decode(buf []byte) (*Frame, int, error) {
	if d.frame == nil {
		d.frame = &Frame{}
		d.stage = stageHeader
	}
	f := d.frame
	n := 0

	for {
		switch d.stage {
		case stageHeader:
			if len(buf)-n < 2 {
				return nil, n, nil
			}
			b0, b1 := buf[n], buf[n+1]
			n += 2

			if b0&rsvBits != 0 {
				return nil, n, protocolErrorf(CloseProtocolError, "reserved bits set without negotiated extension")
			}
			f.Fin = b0&finBit != 0
			f.Opcode = Opcode(b0 & opcodeBits)
			f.Masked = b1&maskBit != 0
			d.len7 = b1 & len7Bits

			if !f.Opcode.Valid() {
				return nil, n, protocolErrorf(CloseProtocolError, "non-RFC or reserved opcode 0x%X", byte(f.Opcode))
			}
			if f.Opcode.IsControl() && (!f.Fin || d.len7 > MaxControlPayloadLen) {
				return nil, n, protocolErrorf(CloseProtocolError, "control frames cannot be fragmented or carry more than 125 bytes")
			}
			if d.len7 == len16Marker || d.len7 == len64Marker {
				d.stage = stageExtLength
				continue
			}
			if err := d.setLength(uint64(d.len7)); err != nil {
				return nil, n, err
			}

		case stageExtLength:
			size := 2
			if d.len7 == len64Marker {
				size = 8
			}
			if len(buf)-n < size {
				return nil, n, nil
			}
			var length uint64
			if size == 2 {
				length = uint64(binary.BigEndian.Uint16(buf[n:]))
			} else {
				length = binary.BigEndian.Uint64(buf[n:])
				if length>>63 != 0 {
					n += size
					return nil, n, protocolErrorf(CloseProtocolError, "most significant bit of 64-bit length must be zero")
				}
			}
			n += size
			if err := d.setLength(length); err != nil {
				return nil, n, err
			}

		case stageMaskKey:
			if len(buf)-n < 4 {
				return nil, n, nil
			}
			copy(f.MaskKey[:], buf[n:n+4])
			n += 4
			d.stage = stagePayload

		case stagePayload:
			if d.remaining > 0 {
				avail := uint64(len(buf) - n)
				if avail == 0 {
					return nil, n, nil
				}
				take := min(avail, d.remaining)
				f.Payload = append(f.Payload, buf[n:n+int(take)]...)
				n += int(take)
				d.remaining -= take
				if d.remaining > 0 {
					return nil, n, nil
				}
			}
			if f.Masked {
				Mask(f.MaskKey, f.Payload, 0)
			}
			d.Reset()
			return f, n, nil
		}
	}
}

func (d *Decoder) setLength(length uint64) error {
	limit := d.MaxPayload
	if limit == 0 {
		limit = DefaultMaxFramePayload
	}
	if length > limit {
		return protocolErrorf(CloseMessageTooBig, "frame payload of %d bytes exceeds limit of %d bytes", length, limit)
	}
	if d.dataLimited && !d.frame.Opcode.IsControl() && length > d.dataLimit {
		return protocolErrorf(CloseMessageTooBig, "frame payload of %d bytes exceeds the %d bytes left for the message", length, d.dataLimit)
	}
	d.remaining = length
	if length > 0 {
		d.frame.Payload = make([]byte, 0, min(length, payloadPrealloc))
	}
	if d.frame.Masked {
		d.stage = stageMaskKey
	} else {
		d.stage = stagePayload
	}
	return nil
}

// AppendFrame serializes f onto dst. A masked frame is written with
// f.MaskKey; f.Payload itself is left untouched.
func AppendFrame(dst []byte, f *Frame) ([]byte, error) {
	if !f.Opcode.Valid() {
		return dst, &ConfigError{Field: "opcode", Reason: "cannot encode reserved opcode " + f.Opcode.String()}
	}
	plen := len(f.Payload)
	if f.Opcode.IsControl() && (!f.Fin || plen > MaxControlPayloadLen) {
		return dst, &ConfigError{Field: "frame", Reason: "control frames must be final and at most 125 bytes"}
	}

	b0 := byte(f.Opcode)
	if f.Fin {
		b0 |= finBit
	}
	var b1 byte
	if f.Masked {
		b1 = maskBit
	}

	switch {
	case plen <= MaxControlPayloadLen:
		dst = append(dst, b0, b1|byte(plen))
	case plen <= 0xFFFF:
		dst = append(dst, b0, b1|len16Marker)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, b1|len64Marker)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if !f.Masked {
		return append(dst, f.Payload...), nil
	}
	dst = append(dst, f.MaskKey[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	Mask(f.MaskKey, dst[start:], 0)
	return dst, nil
}

// EncodeFrame serializes f into a new buffer.
func EncodeFrame(f *Frame) ([]byte, error) {
	return AppendFrame(make([]byte, 0, MaxFrameHeaderLen+len(f.Payload)), f)
}
