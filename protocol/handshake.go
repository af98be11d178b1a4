// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP to WebSocket upgrade: request validation, Sec-WebSocket-Accept
// computation and the handoff from the HTTP layer to a Conn.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/momentics/wsengine/api"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	RequiredWebSocketVersion = "13"

	keyDecodedLen = 16
)

// HandshakeError rejects an upgrade request at the HTTP level.
type HandshakeError struct {
	StatusCode int
	Reason     string
	Header     http.Header // extra response headers

	response *HandshakeResponse // set when the handler rejected the upgrade
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed (%d): %s", e.StatusCode, e.Reason)
}

// Response renders the HTTP reply for the rejected request.
func (e *HandshakeError) Response() *HandshakeResponse {
	if e.response != nil {
		return e.response
	}
	body := []byte(e.Reason + "\n")
	hdr := make(http.Header, len(e.Header)+3)
	for k, vs := range e.Header {
		hdr[k] = append([]string(nil), vs...)
	}
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	hdr.Set("Connection", "close")
	return &HandshakeResponse{StatusCode: e.StatusCode, Header: hdr, Body: body}
}

// NewHandshakeError builds a rejection with the given status.
func NewHandshakeError(status int, reason string) *HandshakeError {
	return &HandshakeError{StatusCode: status, Reason: reason}
}

// CheckUpgradeRequest validates req as a version 13 upgrade request. The
// returned error, if any, is a *HandshakeError.
func CheckUpgradeRequest(req *http.Request) error {
	if req.Method != http.MethodGet {
		return NewHandshakeError(http.StatusMethodNotAllowed, "websocket upgrade requires GET")
	}
	if req.ProtoMajor != 1 || req.ProtoMinor != 1 {
		return NewHandshakeError(http.StatusHTTPVersionNotSupported, "websocket upgrade requires HTTP/1.1")
	}
	if !strings.EqualFold(strings.TrimSpace(req.Header.Get(HeaderUpgrade)), "websocket") {
		return NewHandshakeError(http.StatusBadRequest, "missing or invalid Upgrade header")
	}
	if !headerContains(req.Header, HeaderConnection, "upgrade") {
		return NewHandshakeError(http.StatusBadRequest, "missing or invalid Connection header")
	}
	key := req.Header.Get(HeaderSecWebSocketKey)
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != keyDecodedLen {
		return NewHandshakeError(http.StatusBadRequest, "missing or invalid Sec-WebSocket-Key header")
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		e := NewHandshakeError(http.StatusUpgradeRequired, "unsupported websocket version")
		e.Header = make(http.Header, 1)
		e.Header.Set(HeaderSecWebSocketVer, RequiredWebSocketVersion)
		return e
	}
	return nil
}

// headerContains reports whether any value of name contains token,
// compared case-insensitively.
func headerContains(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		if strings.Contains(strings.ToLower(v), token) {
			return true
		}
	}
	return false
}

// ComputeAcceptKey derives Sec-WebSocket-Accept from the client key.
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewSwitchResponse builds the 101 reply for a validated client key.
func NewSwitchResponse(key string) *HandshakeResponse {
	hdr := make(http.Header, 3)
	hdr.Set(HeaderUpgrade, "websocket")
	hdr.Set(HeaderConnection, "Upgrade")
	hdr.Set(HeaderSecWebSocketAccept, ComputeAcceptKey(key))
	return &HandshakeResponse{StatusCode: http.StatusSwitchingProtocols, Header: hdr}
}

// Upgrader turns validated HTTP requests into Conns.
type Upgrader struct {
	Handler  Handler
	Config   *Config // nil means DefaultConfig
	Observer api.Observer
}

// Upgrade validates req, lets the handler adjust the 101 response, sends it
// on t and returns the Conn that now owns t. A non-nil Conn means the
// protocol was switched and the caller must route further bytes to it.
//
// A *HandshakeError means the request was rejected; its Response should be
// written to the peer. A *TransportError means the response could not be sent.
func (u *Upgrader) Upgrade(t api.Transport, req *http.Request) (*Conn, error) {
	if err := CheckUpgradeRequest(req); err != nil {
		u.observe("handshake.rejected", "remote", t.RemoteAddr(), "error", err.Error())
		return nil, err
	}

	h := u.Handler
	if h == nil {
		h = BaseHandler{}
	}

	resp := NewSwitchResponse(req.Header.Get(HeaderSecWebSocketKey))
	if custom := h.OnUpgrade(t, req, resp); custom != nil {
		resp = custom
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		err := &HandshakeError{StatusCode: resp.StatusCode, Reason: "upgrade refused by handler", response: resp}
		u.observe("handshake.refused", "remote", t.RemoteAddr(), "status", resp.StatusCode)
		return nil, err
	}

	cfg := u.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	conn := NewConn(t, h, cfg, u.Observer)

	if err := t.Send([][]byte{resp.Bytes()}); err != nil {
		return nil, &TransportError{Op: "handshake", Err: err}
	}
	u.observe("handshake.accepted", "remote", t.RemoteAddr(), "conn", conn.ID(), "path", req.URL.Path)
	h.OnAfterUpgrade(conn)
	return conn, nil
}

func (u *Upgrader) observe(event string, kv ...any) {
	if u.Observer == nil {
		return
	}
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	u.Observer.Observe(event, fields)
}
