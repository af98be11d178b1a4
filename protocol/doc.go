// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package protocol implements the RFC 6455 WebSocket protocol engine: an
// incremental frame codec, message assembly with fragmentation, size and
// UTF-8 checks, the per-connection state machine (Conn) handling control
// frames and the close handshake, and the HTTP upgrade negotiation.
//
// The engine performs no I/O. Bytes read from a socket are handed to
// Conn.Feed; replies are passed to an api.Transport. Protocol violations
// never escape a Conn: they are answered with a Close frame carrying the
// matching status code and reported through Handler.OnException.
package protocol
