// File: protocol/handshake_serializer.go
// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire serialization of handshake replies.

package protocol

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// HandshakeResponse is the HTTP reply to an upgrade request.
type HandshakeResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// WriteTo writes the status line, headers and body to w.
func (r *HandshakeResponse) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	text := http.StatusText(r.StatusCode)
	if text == "" {
		text = "status code " + fmt.Sprint(r.StatusCode)
	}
	if _, err := fmt.Fprintf(cw, "HTTP/1.1 %03d %s\r\n", r.StatusCode, text); err != nil {
		return cw.n, err
	}
	if err := r.Header.Write(cw); err != nil {
		return cw.n, err
	}
	if _, err := io.WriteString(cw, "\r\n"); err != nil {
		return cw.n, err
	}
	if len(r.Body) > 0 {
		if _, err := cw.Write(r.Body); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// Bytes returns the serialized response.
func (r *HandshakeResponse) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return buf.Bytes()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
