// File: protocol/connection_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/wsengine/fake"
)

// recorder is a Handler that remembers every callback.
type recorder struct {
	BaseHandler
	messages   []*Message
	pongs      []*Frame
	exceptions []CloseCode
	closes     int
	opened     int
}

func (r *recorder) OnAfterUpgrade(*Conn) { r.opened++ }
func (r *recorder) OnMessage(_ *Conn, m *Message) { r.messages = append(r.messages, m) }
func (r *recorder) OnPong(_ *Conn, f *Frame) { r.pongs = append(r.pongs, f) }
func (r *recorder) OnException(_ *Conn, c CloseCode) { r.exceptions = append(r.exceptions, c) }
func (r *recorder) OnClose(*Conn) { r.closes++ }

type connFixture struct {
	conn *Conn
	tr   *fake.Transport
	h    *recorder
	obs  *fake.Observer
}

func newFixture(cfg *Config) *connFixture {
	fx := &connFixture{tr: fake.NewTransport(), h: &recorder{}, obs: &fake.Observer{}}
	fx.conn = NewConn(fx.tr, fx.h, cfg, fx.obs)
	return fx
}

// clientBytes encodes a frame the way a browser would: masked.
func clientBytes(t *testing.T, fin bool, op Opcode, payload []byte) []byte {
	t.Helper()
	return encodeMasked(t, &Frame{Fin: fin, Opcode: op, Payload: payload})
}

// sentFrames decodes everything written to the transport as a client would.
func (fx *connFixture) sentFrames(t *testing.T) []*Frame {
	t.Helper()
	return decodeStream(t, NewDecoder(0), [][]byte{fx.tr.Written()})
}

func requireCloseSent(t *testing.T, frames []*Frame, code CloseCode) {
	t.Helper()
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.Equal(t, OpClose, last.Opcode)
	got, _, err := ParseClosePayload(last.Payload)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestConnDeliversMessages(t *testing.T) {
	fx := newFixture(nil)

	assert.True(t, fx.conn.Feed(clientBytes(t, true, OpText, []byte("hello"))))
	require.Len(t, fx.h.messages, 1)
	assert.Equal(t, "hello", string(fx.h.messages[0].Payload()))

	var wire []byte
	wire = append(wire, clientBytes(t, false, OpBinary, []byte{1})...)
	wire = append(wire, clientBytes(t, false, OpContinuation, []byte{2})...)
	wire = append(wire, clientBytes(t, true, OpContinuation, []byte{3})...)
	assert.True(t, fx.conn.Feed(wire))

	require.Len(t, fx.h.messages, 2)
	assert.Equal(t, []byte{1, 2, 3}, fx.h.messages[1].Payload())
	assert.True(t, fx.h.messages[1].IsBinary())
	assert.Zero(t, fx.conn.Buffered())
	assert.Nil(t, fx.conn.message)
	assert.Equal(t, 4, fx.obs.Count("frame.received"))
	assert.Equal(t, int64(2), fx.conn.Stats()["messages_received"])
}

func TestConnByteAtATime(t *testing.T) {
	fx := newFixture(nil)
	wire := clientBytes(t, true, OpText, []byte("one byte at a time"))
	for i := range wire {
		require.True(t, fx.conn.Feed(wire[i:i+1]))
	}
	require.Len(t, fx.h.messages, 1)
	assert.Equal(t, "one byte at a time", string(fx.h.messages[0].Payload()))
}

func TestConnNextMessageAfterCompletion(t *testing.T) {
	fx := newFixture(nil)
	fx.conn.Feed(clientBytes(t, true, OpText, []byte("first")))
	fx.conn.Feed(clientBytes(t, true, OpText, []byte("second")))
	require.Len(t, fx.h.messages, 2)
	assert.Empty(t, fx.h.exceptions, "a completed message never overflows into the next")
}

func TestConnControlFramesInterleaved(t *testing.T) {
	fx := newFixture(nil)
	var wire []byte
	wire = append(wire, clientBytes(t, false, OpText, []byte("Hel"))...)
	wire = append(wire, clientBytes(t, true, OpPing, []byte("p"))...)
	wire = append(wire, clientBytes(t, true, OpContinuation, []byte("lo"))...)
	fx.conn.Feed(wire)

	require.Len(t, fx.h.messages, 1)
	assert.Equal(t, "Hello", string(fx.h.messages[0].Payload()))

	sent := fx.sentFrames(t)
	require.Len(t, sent, 1)
	assert.Equal(t, OpPong, sent[0].Opcode)
	assert.Equal(t, "p", string(sent[0].Payload))
}

func TestConnPingIsAnsweredUnmasked(t *testing.T) {
	fx := newFixture(nil)
	fx.conn.Feed(clientBytes(t, true, OpPing, []byte("are you there")))

	sent := fx.sentFrames(t)
	require.Len(t, sent, 1)
	assert.Equal(t, OpPong, sent[0].Opcode)
	assert.False(t, sent[0].Masked)
	assert.Equal(t, "are you there", string(sent[0].Payload))
	assert.False(t, fx.conn.Closed())
}

func TestConnRejectsUnmaskedClientFrame(t *testing.T) {
	fx := newFixture(nil)
	wire, err := EncodeFrame(&Frame{Fin: true, Opcode: OpText, Payload: []byte("plain")})
	require.NoError(t, err)

	assert.False(t, fx.conn.Feed(wire))
	assert.Empty(t, fx.h.messages)
	assert.Equal(t, []CloseCode{CloseProtocolError}, fx.h.exceptions)
	requireCloseSent(t, fx.sentFrames(t), CloseProtocolError)
	assert.Equal(t, 1, fx.h.closes)
	assert.True(t, fx.tr.Closed())
	assert.Equal(t, 1, fx.obs.Count("protocol.error"))
}

func TestConnPeerClose(t *testing.T) {
	fx := newFixture(nil)
	closeFrame := NewCloseFrame(CloseGoingAway, "tab closed")

	assert.False(t, fx.conn.Feed(clientBytes(t, true, OpClose, closeFrame.Payload)))
	assert.True(t, fx.conn.Closed())
	assert.Empty(t, fx.h.exceptions)
	assert.Equal(t, 1, fx.h.closes)

	sent := fx.sentFrames(t)
	require.Len(t, sent, 1)
	code, reason, err := ParseClosePayload(sent[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, CloseNormalClosure, code)
	assert.Equal(t, "Client closed connection", reason)
	assert.False(t, sent[0].Masked)
}

func TestConnPeerCloseEmptyPayload(t *testing.T) {
	fx := newFixture(nil)
	fx.conn.Feed(clientBytes(t, true, OpClose, nil))
	assert.True(t, fx.conn.Closed())
	assert.Empty(t, fx.h.exceptions)
	requireCloseSent(t, fx.sentFrames(t), CloseNormalClosure)
}

func TestConnInvalidClosePayloads(t *testing.T) {
	cases := map[string]struct {
		payload []byte
		code    CloseCode
	}{
		"one byte":         {[]byte{0x03}, CloseProtocolError},
		"reserved 1004":    {[]byte{0x03, 0xEC}, CloseProtocolError},
		"no status 1005":   {[]byte{0x03, 0xED}, CloseProtocolError},
		"out of range 999": {[]byte{0x03, 0xE7}, CloseProtocolError},
		"bad utf-8 reason": {[]byte{0x03, 0xE8, 0xff}, CloseInvalidPayloadData},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(nil)
			fx.conn.Feed(clientBytes(t, true, OpClose, tc.payload))
			assert.Equal(t, []CloseCode{tc.code}, fx.h.exceptions)
			requireCloseSent(t, fx.sentFrames(t), tc.code)
			assert.Equal(t, 1, fx.h.closes)
		})
	}
}

func TestConnPingPongCorrelation(t *testing.T) {
	t.Run("mismatch", func(t *testing.T) {
		fx := newFixture(nil)
		_, err := fx.conn.SendPing([]byte("x"))
		require.NoError(t, err)
		require.NotNil(t, fx.conn.PendingPing())

		fx.conn.Feed(clientBytes(t, true, OpPong, []byte("y")))
		assert.Equal(t, []CloseCode{CloseProtocolError}, fx.h.exceptions)
		assert.Empty(t, fx.h.pongs)
		assert.True(t, fx.conn.Closed())
	})

	t.Run("match", func(t *testing.T) {
		fx := newFixture(nil)
		_, err := fx.conn.SendPing([]byte("x"))
		require.NoError(t, err)

		fx.conn.Feed(clientBytes(t, true, OpPong, []byte("x")))
		require.Len(t, fx.h.pongs, 1)
		assert.Equal(t, "x", string(fx.h.pongs[0].Payload))
		assert.Nil(t, fx.conn.PendingPing())

		// a second identical pong is unsolicited and ignored
		fx.conn.Feed(clientBytes(t, true, OpPong, []byte("x")))
		assert.Len(t, fx.h.pongs, 1)
		assert.Empty(t, fx.h.exceptions)
		assert.Equal(t, 1, fx.obs.Count("pong.unsolicited"))
	})
}

func TestConnSendPingDefaultsAndLimits(t *testing.T) {
	fx := newFixture(nil)
	payload, err := fx.conn.SendPing(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)

	sent := fx.sentFrames(t)
	require.Len(t, sent, 1)
	assert.Equal(t, OpPing, sent[0].Opcode)
	assert.Equal(t, payload, sent[0].Payload)

	_, err = fx.conn.SendPing(make([]byte, 126))
	assert.ErrorIs(t, err, ErrControlPayloadTooLong)
}

func TestConnDisconnectIsIdempotent(t *testing.T) {
	fx := newFixture(nil)
	fx.conn.Disconnect()
	fx.conn.Disconnect()
	assert.Equal(t, 1, fx.h.closes)
	assert.Equal(t, 1, fx.tr.CloseCalls())

	assert.False(t, fx.conn.Feed(clientBytes(t, true, OpText, []byte("late"))))
	assert.Empty(t, fx.h.messages)
	assert.ErrorIs(t, fx.conn.SendMessage(NewTextMessage("late")), ErrConnClosed)
	assert.NoError(t, fx.conn.Close(CloseNormalClosure, ""))
	assert.Equal(t, 1, fx.h.closes)
}

func TestConnErrorPathClearsInFlightState(t *testing.T) {
	fx := newFixture(nil)
	fx.conn.Feed(clientBytes(t, false, OpText, []byte("partial")))
	require.NotNil(t, fx.conn.message)

	// half of a header, then a frame with RSV1 set
	fx.conn.Feed([]byte{0x80 | 0x40 | byte(OpContinuation)})
	fx.conn.Feed([]byte{0x80})

	assert.Nil(t, fx.conn.message)
	assert.Nil(t, fx.conn.decoder.InProgress())
	assert.Zero(t, fx.conn.Buffered())
	assert.Equal(t, []CloseCode{CloseProtocolError}, fx.h.exceptions)
	assert.Equal(t, 1, fx.h.closes)
}

func TestConnStopsProcessingAfterError(t *testing.T) {
	fx := newFixture(nil)
	var wire []byte
	wire = append(wire, clientBytes(t, true, OpContinuation, []byte("orphan"))...)
	wire = append(wire, clientBytes(t, true, OpText, []byte("never delivered"))...)

	assert.False(t, fx.conn.Feed(wire))
	assert.Empty(t, fx.h.messages)
	assert.Equal(t, []CloseCode{CloseProtocolError}, fx.h.exceptions)
}

func TestConnMessageLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 8
	fx := newFixture(cfg)

	fx.conn.Feed(clientBytes(t, false, OpBinary, make([]byte, 5)))
	fx.conn.Feed(clientBytes(t, true, OpContinuation, make([]byte, 5)))
	assert.Equal(t, []CloseCode{CloseMessageTooBig}, fx.h.exceptions)
	requireCloseSent(t, fx.sentFrames(t), CloseMessageTooBig)

	cfg = DefaultConfig()
	cfg.MaxFramePayload = 4
	fx = newFixture(cfg)
	fx.conn.Feed(clientBytes(t, true, OpBinary, make([]byte, 5)))
	assert.Equal(t, []CloseCode{CloseMessageTooBig}, fx.h.exceptions)
}

func TestConnRejectsHugeFrameBeforePayload(t *testing.T) {
	fx := newFixture(nil)
	header := []byte{0x80 | byte(OpBinary), 0x80 | 127, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4}
	binary.BigEndian.PutUint64(header[2:], 8<<30)

	assert.False(t, fx.conn.Feed(header))
	assert.Equal(t, []CloseCode{CloseMessageTooBig}, fx.h.exceptions)
	assert.Zero(t, fx.conn.Buffered())
	requireCloseSent(t, fx.sentFrames(t), CloseMessageTooBig)
}

func TestConnContinuationCountsAgainstMessageRoom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 8
	fx := newFixture(cfg)

	require.True(t, fx.conn.Feed(clientBytes(t, false, OpText, []byte("abcde"))))
	// header of a 4-byte continuation: only 3 bytes are left
	assert.False(t, fx.conn.Feed([]byte{0x80 | byte(OpContinuation), 0x80 | 4}))
	assert.Equal(t, []CloseCode{CloseMessageTooBig}, fx.h.exceptions)
	assert.Empty(t, fx.h.messages)
}

func TestConnInvalidUTF8(t *testing.T) {
	fx := newFixture(nil)
	fx.conn.Feed(clientBytes(t, true, OpText, []byte{0xce, 0xba, 0xe1, 0xbd}))
	assert.Equal(t, []CloseCode{CloseInvalidPayloadData}, fx.h.exceptions)
	requireCloseSent(t, fx.sentFrames(t), CloseInvalidPayloadData)
}

func TestConnSendMessageFragments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentSize = 4
	fx := newFixture(cfg)

	require.NoError(t, fx.conn.SendMessage(NewTextMessage("abcdefghij")))
	calls := fx.tr.SendCalls()
	require.Len(t, calls, 1, "all fragments go out in one Send")
	assert.Len(t, calls[0], 3)

	frames := fx.sentFrames(t)
	msg, err := addAll(t, Assembler{}, frames...)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(msg.Payload()))
	assert.Equal(t, int64(1), fx.conn.Stats()["messages_sent"])
	assert.Equal(t, int64(3), fx.conn.Stats()["frames_sent"])
}

func TestConnSendMessageIncomplete(t *testing.T) {
	fx := newFixture(nil)
	partial, err := Assembler{}.Add(nil, &Frame{Opcode: OpText, Payload: []byte("p")})
	require.NoError(t, err)
	assert.ErrorIs(t, fx.conn.SendMessage(partial), ErrMessageIncomplete)
	assert.ErrorIs(t, fx.conn.SendMessage(nil), ErrMessageIncomplete)
}

func TestConnServerClose(t *testing.T) {
	fx := newFixture(nil)
	require.NoError(t, fx.conn.Close(CloseGoingAway, "restart"))
	requireCloseSent(t, fx.sentFrames(t), CloseGoingAway)
	assert.Equal(t, 1, fx.h.closes)
	assert.Empty(t, fx.h.exceptions)
}

func TestConnTransportFailure(t *testing.T) {
	fx := newFixture(nil)
	fx.tr.SetSendError(errors.New("broken pipe"))

	// the pong cannot be written
	assert.False(t, fx.conn.Feed(clientBytes(t, true, OpPing, []byte("p"))))
	assert.Equal(t, []CloseCode{CloseAbnormalClosure}, fx.h.exceptions)
	assert.Equal(t, 1, fx.h.closes)
	assert.Empty(t, fx.tr.GetSentData(), "no close frame after a transport failure")

	fx = newFixture(nil)
	fx.tr.SetSendError(errors.New("broken pipe"))
	err := fx.conn.SendMessage(NewTextMessage("x"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []CloseCode{CloseAbnormalClosure}, fx.h.exceptions)
	assert.True(t, fx.conn.Closed())
}

func TestConnAbort(t *testing.T) {
	fx := newFixture(nil)
	fx.conn.Feed(clientBytes(t, false, OpText, []byte("half")))
	fx.conn.Abort(errors.New("connection reset"))

	assert.Equal(t, []CloseCode{CloseAbnormalClosure}, fx.h.exceptions)
	assert.Nil(t, fx.conn.message)
	assert.Empty(t, fx.tr.GetSentData())
	fx.conn.Abort(nil)
	assert.Equal(t, 1, fx.h.closes)
}

func TestConnClientRole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Role = RoleClient
	fx := newFixture(cfg)

	require.NoError(t, fx.conn.SendMessage(NewTextMessage("masked")))
	sent := fx.sentFrames(t)
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Masked)
	assert.Equal(t, "masked", string(sent[0].Payload))

	plain, err := EncodeFrame(&Frame{Fin: true, Opcode: OpText, Payload: []byte("from server")})
	require.NoError(t, err)
	assert.True(t, fx.conn.Feed(plain))
	require.Len(t, fx.h.messages, 1)

	fx.conn.Feed(clientBytes(t, true, OpText, []byte("masked from server")))
	assert.Equal(t, []CloseCode{CloseProtocolError}, fx.h.exceptions)
}

func TestConnStatus(t *testing.T) {
	fx := newFixture(nil)
	assert.Equal(t, "active", fx.conn.Status().String())
	assert.Equal(t, "fake:0", fx.conn.Transport().RemoteAddr())
	fx.conn.Disconnect()
	assert.Equal(t, "closed", fx.conn.Status().String())
}
