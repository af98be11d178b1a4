// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn is the per-connection protocol state machine. It is driven by the
// event loop that owns the socket: bytes are appended with Feed, decoded
// frames are routed to the message assembler or the control-frame handlers,
// and replies are enqueued on the api.Transport. Conn performs no I/O and
// never blocks; it is not safe for concurrent use apart from Stats.

package protocol

import (
	"bytes"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/momentics/wsengine/api"
)

// closeReplyReason is the reason sent back when the peer closes.
const closeReplyReason = "Client closed connection"

var connSeq atomic.Uint64

// Conn encapsulates the protocol state of one upgraded connection.
type Conn struct {
	id        uint64
	cfg       Config
	transport api.Transport
	handler   Handler
	observer  api.Observer

	decoder   Decoder
	assembler Assembler

	buf []byte // unparsed input, owned by the connection
	off int    // consumed prefix of buf

	message     *Message
	pendingPing *Frame
	closing     bool

	framesIn    atomic.Int64
	framesOut   atomic.Int64
	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	messagesIn  atomic.Int64
	messagesOut atomic.Int64
}

// NewConn binds a protocol engine to t. A nil handler is replaced by
// BaseHandler, a nil cfg by DefaultConfig, obs may be nil.
func NewConn(t api.Transport, h Handler, cfg *Config, obs api.Observer) *Conn {
	if h == nil {
		h = BaseHandler{}
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Conn{
		id:        connSeq.Add(1),
		cfg:       *cfg,
		transport: t,
		handler:   h,
		observer:  obs,
		decoder:   Decoder{MaxPayload: cfg.MaxFramePayload},
		assembler: Assembler{MaxMessageSize: cfg.MaxMessageSize},
	}
}

// ID returns a process-unique connection identifier.
func (c *Conn) ID() uint64 { return c.id }

// Transport returns the transport the connection writes to.
func (c *Conn) Transport() api.Transport { return c.transport }

// Config returns a copy of the connection limits.
func (c *Conn) Config() Config { return c.cfg }

// Closed reports whether Disconnect has run.
func (c *Conn) Closed() bool { return c.closing }

// Status maps the connection state onto api.SessionStatus.
func (c *Conn) Status() api.SessionStatus {
	if c.closing {
		return api.SessionClosed
	}
	return api.SessionActive
}

// Buffered returns the number of received bytes not yet consumed.
func (c *Conn) Buffered() int { return len(c.buf) - c.off }

// PendingPing returns the ping awaiting a pong, or nil.
func (c *Conn) PendingPing() *Frame { return c.pendingPing }

// Feed appends p to the input buffer and processes it. The data is copied.
// It returns false once the connection is closing.
func (c *Conn) Feed(p []byte) bool {
	if c.closing {
		return false
	}
	c.buf = append(c.buf, p...)
	return c.ProcessInput()
}

// ProcessInput decodes and routes every complete frame in the buffer. It
// returns true when more data is needed and false once the connection is
// closing. Errors are handled here and never returned.
func (c *Conn) ProcessInput() bool {
	defer c.compact()

	for !c.closing && c.off < len(c.buf) {
		c.decoder.LimitData(c.messageRoom())
		f, n, err := c.decoder.Decode(c.buf[c.off:])
		c.off += n
		if err != nil {
			c.fail(err)
			break
		}
		if f == nil {
			break
		}

		c.framesIn.Add(1)
		c.bytesIn.Add(int64(len(f.Payload)))
		c.observe("frame.received", "opcode", f.Opcode.String(), "fin", f.Fin, "len", len(f.Payload))

		if err := c.checkMasking(f); err != nil {
			c.fail(err)
			break
		}
		if err := c.route(f); err != nil {
			c.fail(err)
			break
		}
	}
	return !c.closing
}

// messageRoom is how many more payload bytes the message in flight may take.
func (c *Conn) messageRoom() uint64 {
	limit := c.cfg.MaxMessageSize
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	used := 0
	if c.message != nil {
		used = c.message.Len()
	}
	if used >= limit {
		return 0
	}
	return uint64(limit - used)
}

func (c *Conn) compact() {
	switch {
	case c.closing:
		c.buf, c.off = nil, 0
	case c.off == len(c.buf):
		c.buf, c.off = c.buf[:0], 0
	case c.off > 0:
		n := copy(c.buf, c.buf[c.off:])
		c.buf, c.off = c.buf[:n], 0
	}
}

func (c *Conn) checkMasking(f *Frame) error {
	switch {
	case c.cfg.Role == RoleServer && !f.Masked:
		return protocolErrorf(CloseProtocolError, "client to server frames must be masked")
	case c.cfg.Role == RoleClient && f.Masked:
		return protocolErrorf(CloseProtocolError, "server to client frames must not be masked")
	}
	return nil
}

func (c *Conn) route(f *Frame) error {
	switch f.Opcode {
	case OpText, OpBinary, OpContinuation:
		msg, err := c.assembler.Add(c.message, f)
		if err != nil {
			return err
		}
		if !msg.IsComplete() {
			c.message = msg
			return nil
		}
		c.message = nil
		c.messagesIn.Add(1)
		c.observe("message.received", "format", msg.Format().String(), "len", msg.Len())
		c.handler.OnMessage(c, msg)
		return nil

	case OpClose:
		return c.handleClose(f)

	case OpPing:
		return c.writeFrames(&Frame{Fin: true, Opcode: OpPong, Payload: f.Payload})

	case OpPong:
		return c.handlePong(f)

	default:
		return protocolErrorf(CloseProtocolError, "non-RFC or reserved opcode 0x%X", byte(f.Opcode))
	}
}

func (c *Conn) handleClose(f *Frame) error {
	code, reason, err := ParseClosePayload(f.Payload)
	if err != nil {
		return err
	}
	c.observe("close.received", "code", int(code), "reason", reason)

	if err := c.writeFrames(NewCloseFrame(CloseNormalClosure, closeReplyReason)); err != nil {
		c.observe("close.reply_failed", "error", err.Error())
	}
	c.Disconnect()
	return nil
}

func (c *Conn) handlePong(f *Frame) error {
	if c.pendingPing == nil {
		c.observe("pong.unsolicited", "len", len(f.Payload))
		return nil
	}
	if !bytes.Equal(c.pendingPing.Payload, f.Payload) {
		return protocolErrorf(CloseProtocolError, "pong payload does not match ping")
	}
	ping := c.pendingPing
	c.pendingPing = nil
	c.handler.OnPong(c, ping)
	return nil
}

// SendMessage serializes m and enqueues it. Outgoing frames follow the
// masking convention of the connection role.
func (c *Conn) SendMessage(m *Message) error {
	if c.closing {
		return ErrConnClosed
	}
	if m == nil || !m.IsComplete() {
		return ErrMessageIncomplete
	}
	if err := c.send(m.Frames(c.cfg.FragmentSize)...); err != nil {
		return err
	}
	c.messagesOut.Add(1)
	return nil
}

// SendPing sends a Ping and remembers it until the matching Pong arrives.
// A nil payload is replaced with the current Unix time in nanoseconds.
// The payload actually used is returned.
func (c *Conn) SendPing(payload []byte) ([]byte, error) {
	if c.closing {
		return nil, ErrConnClosed
	}
	if payload == nil {
		payload = strconv.AppendInt(nil, time.Now().UnixNano(), 10)
	}
	if len(payload) > MaxControlPayloadLen {
		return nil, ErrControlPayloadTooLong
	}
	ping := &Frame{Fin: true, Opcode: OpPing, Payload: payload}
	c.pendingPing = ping
	if err := c.send(ping); err != nil {
		return nil, err
	}
	return payload, nil
}

// Close starts a server-side close: a Close frame with code and reason is
// sent and the connection is disconnected.
func (c *Conn) Close(code CloseCode, reason string) error {
	if c.closing {
		return nil
	}
	err := c.writeFrames(NewCloseFrame(code, reason))
	c.Disconnect()
	return err
}

// Disconnect notifies the handler and requests transport teardown. Only the
// first call has an effect.
func (c *Conn) Disconnect() {
	if c.closing {
		return
	}
	c.closing = true
	c.decoder.Reset()
	c.message = nil
	c.pendingPing = nil

	c.observe("disconnect", "remote", c.transport.RemoteAddr())
	c.handler.OnClose(c)
	if err := c.transport.Close(); err != nil {
		c.observe("transport.close_failed", "error", err.Error())
	}
}

// Abort handles a failure of the underlying connection: the failure is
// reported as CloseAbnormalClosure and no Close frame is sent.
func (c *Conn) Abort(err error) {
	c.decoder.Reset()
	c.message = nil
	if c.closing {
		return
	}
	c.observe("transport.failed", "error", errString(err))
	c.handler.OnException(c, CloseAbnormalClosure)
	c.Disconnect()
}

// fail is the error path for everything detected while processing input.
// In-progress frame and message are cleared before anything else.
func (c *Conn) fail(err error) {
	c.decoder.Reset()
	c.message = nil
	if c.closing {
		return
	}

	var te *TransportError
	if errors.As(err, &te) {
		c.Abort(err)
		return
	}

	code := CloseCodeOf(err)
	reason := "internal error"
	var pe *ProtocolError
	if errors.As(err, &pe) {
		reason = pe.Reason
	}
	c.observe("protocol.error", "code", int(code), "error", err.Error())

	c.handler.OnException(c, code)
	if werr := c.writeFrames(NewCloseFrame(code, reason)); werr != nil {
		c.observe("close.reply_failed", "error", werr.Error())
	}
	c.Disconnect()
}

// send writes frames and aborts the connection on transport failure.
func (c *Conn) send(frames ...*Frame) error {
	err := c.writeFrames(frames...)
	var te *TransportError
	if errors.As(err, &te) {
		c.Abort(err)
	}
	return err
}

// writeFrames encodes frames per the role convention and enqueues them in
// a single Send call.
func (c *Conn) writeFrames(frames ...*Frame) error {
	bufs := make([][]byte, 0, len(frames))
	var payloadBytes int64
	for _, f := range frames {
		if err := c.applyRole(f); err != nil {
			return err
		}
		b, err := EncodeFrame(f)
		if err != nil {
			return err
		}
		bufs = append(bufs, b)
		payloadBytes += int64(len(f.Payload))
	}
	if err := c.transport.Send(bufs); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	c.framesOut.Add(int64(len(frames)))
	c.bytesOut.Add(payloadBytes)
	return nil
}

func (c *Conn) applyRole(f *Frame) error {
	if c.cfg.Role == RoleClient {
		return f.SetMasked(true)
	}
	return f.SetMasked(false)
}

func (c *Conn) observe(event string, kv ...any) {
	if c.observer == nil {
		return
	}
	fields := make(map[string]any, len(kv)/2+1)
	fields["conn"] = c.id
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	c.observer.Observe(event, fields)
}

// Stats returns a snapshot of connection counters.
func (c *Conn) Stats() map[string]int64 {
	return map[string]int64{
		"bytes_received":    c.bytesIn.Load(),
		"bytes_sent":        c.bytesOut.Load(),
		"frames_received":   c.framesIn.Load(),
		"frames_sent":       c.framesOut.Load(),
		"messages_received": c.messagesIn.Load(),
		"messages_sent":     c.messagesOut.Load(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
