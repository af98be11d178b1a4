// File: protocol/handshake_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/fake"
)

const rfcKey = "dGhlIHNhbXBsZSBub25jZQ=="

func upgradeRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://example.com/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Sec-WebSocket-Key", rfcKey)
	req.Header.Set("Sec-WebSocket-Version", "13")
	return req
}

func TestComputeAcceptKeyRFCExample(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", ComputeAcceptKey(rfcKey))
}

func TestCheckUpgradeRequest(t *testing.T) {
	require.NoError(t, CheckUpgradeRequest(upgradeRequest(t)))

	cases := map[string]struct {
		mutate func(r *http.Request)
		status int
	}{
		"post":               {func(r *http.Request) { r.Method = http.MethodPost }, 405},
		"http/1.0":           {func(r *http.Request) { r.Proto, r.ProtoMajor, r.ProtoMinor = "HTTP/1.0", 1, 0 }, 505},
		"missing upgrade":    {func(r *http.Request) { r.Header.Del("Upgrade") }, 400},
		"wrong upgrade":      {func(r *http.Request) { r.Header.Set("Upgrade", "h2c") }, 400},
		"missing connection": {func(r *http.Request) { r.Header.Del("Connection") }, 400},
		"connection close":   {func(r *http.Request) { r.Header.Set("Connection", "close") }, 400},
		"missing key":        {func(r *http.Request) { r.Header.Del("Sec-WebSocket-Key") }, 400},
		"short key":          {func(r *http.Request) { r.Header.Set("Sec-WebSocket-Key", "c2hvcnQ=") }, 400},
		"non-base64 key":     {func(r *http.Request) { r.Header.Set("Sec-WebSocket-Key", "!!!!not base64!!!!!!!!==") }, 400},
		"version 8":          {func(r *http.Request) { r.Header.Set("Sec-WebSocket-Version", "8") }, 426},
		"missing version":    {func(r *http.Request) { r.Header.Del("Sec-WebSocket-Version") }, 426},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := upgradeRequest(t)
			tc.mutate(req)
			err := CheckUpgradeRequest(req)
			var he *HandshakeError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tc.status, he.StatusCode)
		})
	}
}

func TestCheckUpgradeRequestCaseInsensitive(t *testing.T) {
	req := upgradeRequest(t)
	req.Header.Set("Upgrade", "WebSocket")
	req.Header.Set("Connection", "UPGRADE")
	assert.NoError(t, CheckUpgradeRequest(req))
}

func TestVersionRejectionAdvertisesVersion(t *testing.T) {
	req := upgradeRequest(t)
	req.Header.Set("Sec-WebSocket-Version", "7")
	var he *HandshakeError
	require.ErrorAs(t, CheckUpgradeRequest(req), &he)
	assert.Equal(t, "13", he.Header.Get("Sec-WebSocket-Version"))

	resp := he.Response()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	assert.Equal(t, "13", resp.Header.Get("Sec-WebSocket-Version"))
}

func parseResponse(t *testing.T, raw []byte) *http.Response {
	t.Helper()
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	require.NoError(t, err)
	return resp
}

func TestUpgraderSwitchesProtocol(t *testing.T) {
	tr := fake.NewTransport()
	h := &recorder{}
	obs := &fake.Observer{}
	up := &Upgrader{Handler: h, Observer: obs}

	conn, err := up.Upgrade(tr, upgradeRequest(t))
	require.NoError(t, err)
	require.NotNil(t, conn, "a conn signals the protocol switch")
	assert.Equal(t, 1, h.opened)
	assert.Equal(t, 1, obs.Count("handshake.accepted"))

	resp := parseResponse(t, tr.Written())
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "websocket", resp.Header.Get("Upgrade"))
	assert.Equal(t, "Upgrade", resp.Header.Get("Connection"))
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", resp.Header.Get("Sec-WebSocket-Accept"))

	// the conn now owns the transport
	tr.ClearSentData()
	conn.Feed(clientBytes(t, true, OpText, []byte("after upgrade")))
	require.Len(t, h.messages, 1)
}

type customUpgrade struct {
	recorder
	status int
}

func (c *customUpgrade) OnUpgrade(_ api.Transport, _ *http.Request, resp *HandshakeResponse) *HandshakeResponse {
	if c.status != 0 {
		return &HandshakeResponse{StatusCode: c.status, Header: http.Header{"X-Reason": {"denied"}}, Body: []byte("go away")}
	}
	resp.Header.Set("Sec-WebSocket-Protocol", "chat")
	return resp
}

func TestUpgraderHandlerCustomizesResponse(t *testing.T) {
	tr := fake.NewTransport()
	_, err := (&Upgrader{Handler: &customUpgrade{}}).Upgrade(tr, upgradeRequest(t))
	require.NoError(t, err)
	resp := parseResponse(t, tr.Written())
	assert.Equal(t, "chat", resp.Header.Get("Sec-WebSocket-Protocol"))
}

func TestUpgraderHandlerRefuses(t *testing.T) {
	tr := fake.NewTransport()
	h := &customUpgrade{status: http.StatusForbidden}
	conn, err := (&Upgrader{Handler: h}).Upgrade(tr, upgradeRequest(t))
	assert.Nil(t, conn)

	var he *HandshakeError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.StatusCode)
	assert.Equal(t, "denied", he.Response().Header.Get("X-Reason"))
	assert.Empty(t, tr.GetSentData(), "the caller writes the rejection")
	assert.Zero(t, h.opened)
}

func TestUpgraderRejectsInvalidRequest(t *testing.T) {
	tr := fake.NewTransport()
	req := upgradeRequest(t)
	req.Method = http.MethodPut
	conn, err := (&Upgrader{}).Upgrade(tr, req)
	assert.Nil(t, conn)
	var he *HandshakeError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusMethodNotAllowed, he.StatusCode)
}

func TestUpgraderTransportFailure(t *testing.T) {
	tr := fake.NewTransport()
	tr.SetSendError(errors.New("reset by peer"))
	conn, err := (&Upgrader{}).Upgrade(tr, upgradeRequest(t))
	assert.Nil(t, conn)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "handshake", te.Op)
}

func TestHandshakeResponseWriteTo(t *testing.T) {
	r := &HandshakeResponse{
		StatusCode: http.StatusSwitchingProtocols,
		Header:     http.Header{"Upgrade": {"websocket"}, "Connection": {"Upgrade"}},
	}
	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n", buf.String())
}

func TestHandshakeErrorResponse(t *testing.T) {
	resp := NewHandshakeError(http.StatusNotFound, "no endpoint").Response()
	parsed := parseResponse(t, resp.Bytes())
	assert.Equal(t, http.StatusNotFound, parsed.StatusCode)
	assert.True(t, parsed.Close, "Connection: close is sent")
	assert.Contains(t, string(resp.Bytes()), "\r\nConnection: close\r\n")
	assert.Equal(t, int64(len("no endpoint\n")), parsed.ContentLength)
}

func TestToAPIError(t *testing.T) {
	ae := ToAPIError(protocolErrorf(CloseMessageTooBig, "too big"))
	assert.Equal(t, api.ErrCodeProtocol, ae.Code)
	assert.Equal(t, int(CloseMessageTooBig), ae.Context["close_code"])

	ae = ToAPIError(NewHandshakeError(http.StatusBadRequest, "bad"))
	assert.Equal(t, api.ErrCodeHandshake, ae.Code)

	ae = ToAPIError(&ConfigError{Field: "f", Reason: "r"})
	assert.Equal(t, api.ErrCodeInvalidArgument, ae.Code)

	assert.Nil(t, ToAPIError(nil))
}
