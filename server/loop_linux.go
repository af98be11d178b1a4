//go:build linux
// +build linux

// File: server/loop_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking sockets driven by the epoll reactor.

package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/reactor"
)

var headerEnd = []byte("\r\n\r\n")

type loopState struct {
	lfd     int
	addr    net.Addr
	reactor reactor.EventReactor
	nodes   map[int]*node
	readBuf []byte
}

// Listen binds the listening socket. Serve calls it when needed.
func (s *Server) Listen() error {
	if s.loop.reactor != nil {
		return ErrAlreadyRunning
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.cfg.ListenAddr, err)
	}

	family, sa := unix.AF_INET, unix.Sockaddr(&unix.SockaddrInet4{Port: tcpAddr.Port})
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.(*unix.SockaddrInet4).Addr[:], ip4)
	} else if tcpAddr.IP != nil {
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		family, sa = unix.AF_INET6, sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind %s: %w", s.cfg.ListenAddr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("getsockname: %w", err)
	}

	r, err := reactor.NewReactor()
	if err != nil {
		unix.Close(fd)
		return err
	}
	if err := r.Register(uintptr(fd), reactor.EventRead); err != nil {
		r.Close()
		unix.Close(fd)
		return fmt.Errorf("register listener: %w", err)
	}

	s.loop = loopState{
		lfd:     fd,
		addr:    sockaddrToTCP(bound),
		reactor: r,
		nodes:   make(map[int]*node),
		readBuf: make([]byte, s.cfg.ReadBufferSize),
	}
	log.Printf("[server] listening on %s, paths %v", s.loop.addr, s.cfg.Paths)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr { return s.loop.addr }

// Serve runs the event loop until ctx is cancelled or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrServerClosed
	default:
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	if s.loop.reactor == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.started.Store(time.Now().UnixNano())
	defer s.teardown()

	events := make([]reactor.Event, s.cfg.MaxEvents)
	timeout := int(s.cfg.PollTimeout / time.Millisecond)
	lastPing := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return nil
		default:
		}

		n, err := s.loop.reactor.Wait(events, timeout)
		if err != nil {
			return fmt.Errorf("reactor wait: %w", err)
		}
		for _, ev := range events[:n] {
			fd := int(ev.Fd)
			if fd == s.loop.lfd {
				s.acceptAll()
				continue
			}
			if nd := s.loop.nodes[fd]; nd != nil {
				nd.handle(ev.Events)
			}
		}

		if iv := time.Duration(s.pingInterval.Load()); iv > 0 && time.Since(lastPing) >= iv {
			lastPing = time.Now()
			s.pingAll()
		}
	}
}

func (s *Server) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(s.loop.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.ECONNABORTED) {
				log.Printf("[server] accept error: %v", err)
			}
			return
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		if err := s.loop.reactor.Register(uintptr(fd), reactor.EventRead); err != nil {
			log.Printf("[server] register fd %d: %v", fd, err)
			unix.Close(fd)
			continue
		}
		remote := ""
		if a := sockaddrToTCP(sa); a != nil {
			remote = a.String()
		}
		s.loop.nodes[fd] = &node{srv: s, fd: fd, remote: remote, out: queue.New()}
		s.accepted.Add(1)
		s.conns.Add(1)
		s.control.IncMetric("server.accepted", 1)
	}
}

func (s *Server) pingAll() {
	for _, nd := range s.loop.nodes {
		c := nd.conn
		if c == nil || c.Closed() || nd.closing {
			continue
		}
		if c.PendingPing() != nil {
			s.Observe("ping.unanswered", map[string]any{"conn": c.ID()})
			continue
		}
		nd.ping()
	}
}

// teardown closes every connection with 1001 and releases the listener.
func (s *Server) teardown() {
	for _, nd := range s.loop.nodes {
		if nd.conn != nil && !nd.conn.Closed() {
			_ = nd.conn.Close(protocol.CloseGoingAway, "server shutting down")
		}
		nd.destroy()
	}
	s.loop.reactor.Unregister(uintptr(s.loop.lfd))
	unix.Close(s.loop.lfd)
	s.loop.reactor.Close()
	s.running.Store(false)
	log.Printf("[server] stopped, %d connections accepted", s.accepted.Load())
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	}
	return nil
}

// node is one accepted socket. It implements api.Transport for its Conn:
// Send enqueues and flushes as far as the socket allows, the remainder is
// written when epoll reports the socket writable.
type node struct {
	srv    *Server
	fd     int
	remote string

	out       *queue.Queue // pending []byte chunks
	head      int          // bytes of the front chunk already written
	wantWrite bool
	closing   bool // close once out drains
	closed    bool

	hbuf []byte // request bytes before the upgrade
	conn *protocol.Conn
}

var _ api.Transport = (*node)(nil)

func (n *node) RemoteAddr() string { return n.remote }

// handle processes one readiness event. Handler callbacks run inside it.
func (n *node) handle(ev reactor.EventType) {
	defer n.recoverPanic()
	if ev.Has(reactor.EventWrite) {
		n.flushOrAbort()
	}
	if !n.closed && (ev.Has(reactor.EventRead) || ev.Has(reactor.EventError)) {
		n.readable()
	}
}

func (n *node) ping() {
	defer n.recoverPanic()
	_, _ = n.conn.SendPing(nil)
}

// recoverPanic confines a panicking handler to its own connection: the
// peer gets Close 1011 and the loop keeps serving everyone else.
func (n *node) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("[server] handler panic on %s: %v", n.remote, r)
	n.srv.control.IncMetric("server.handler_panics", 1)
	if n.conn != nil && !n.conn.Closed() {
		n.closeAfterPanic()
		return
	}
	n.destroy()
}

// closeAfterPanic sends Close 1011; a second panic from OnClose drops the
// socket instead.
func (n *node) closeAfterPanic() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[server] handler panic while closing %s: %v", n.remote, r)
			n.destroy()
		}
	}()
	_ = n.conn.Close(protocol.CloseInternalServerErr, "internal error")
}

func (n *node) Send(bufs [][]byte) error {
	if n.closed || n.closing {
		return api.ErrTransportClosed
	}
	for _, b := range bufs {
		if len(b) > 0 {
			n.out.Add(b)
		}
	}
	return n.flush()
}

// Close requests teardown after queued bytes are written.
func (n *node) Close() error {
	if n.closed {
		return nil
	}
	n.closing = true
	if n.out.Length() == 0 {
		n.destroy()
	}
	return nil
}

func (n *node) flush() error {
	for n.out.Length() > 0 {
		chunk := n.out.Peek().([]byte)
		w, err := unix.Write(n.fd, chunk[n.head:])
		if w > 0 {
			n.srv.outbound.Add(uint64(w))
			n.head += w
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return n.armWrite(true)
			}
			return err
		}
		if n.head == len(chunk) {
			n.out.Remove()
			n.head = 0
		}
	}
	if err := n.armWrite(false); err != nil {
		return err
	}
	if n.closing {
		n.destroy()
	}
	return nil
}

func (n *node) flushOrAbort() {
	if err := n.flush(); err != nil {
		n.fail(&protocol.TransportError{Op: "write", Err: err})
	}
}

func (n *node) armWrite(on bool) error {
	if n.wantWrite == on || n.closed {
		return nil
	}
	ev := reactor.EventRead
	if on {
		ev |= reactor.EventWrite
	}
	if err := n.srv.loop.reactor.Modify(uintptr(n.fd), ev); err != nil {
		return err
	}
	n.wantWrite = on
	return nil
}

func (n *node) readable() {
	buf := n.srv.loop.readBuf
	r, err := unix.Read(n.fd, buf)
	switch {
	case err != nil && (errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)):
		return
	case err != nil:
		n.fail(&protocol.TransportError{Op: "read", Err: err})
		return
	case r == 0:
		n.fail(&protocol.TransportError{Op: "read", Err: io.EOF})
		return
	}
	n.srv.inbound.Add(uint64(r))

	switch {
	case n.closing:
		// discard input while draining
	case n.conn != nil:
		n.conn.Feed(buf[:r])
	default:
		n.handshake(buf[:r])
	}
}

// fail tears the socket down without further writes.
func (n *node) fail(err error) {
	if n.conn != nil && !n.conn.Closed() {
		n.conn.Abort(err)
	}
	n.destroy()
}

func (n *node) handshake(p []byte) {
	limit := n.srv.cfg.MaxHandshakeSize
	n.hbuf = append(n.hbuf, p...)
	end := bytes.Index(n.hbuf, headerEnd)
	if end < 0 {
		if len(n.hbuf) > limit {
			n.refuse(http.StatusRequestHeaderFieldsTooLarge, "request header too large")
		}
		return
	}
	end += len(headerEnd)
	if end > limit {
		n.refuse(http.StatusRequestHeaderFieldsTooLarge, "request header too large")
		return
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(n.hbuf[:end])))
	if err != nil {
		n.refuse(http.StatusBadRequest, "malformed request")
		return
	}
	rest := n.hbuf[end:]
	n.hbuf = nil

	if !n.srv.cfg.matchPath(req.URL.Path) {
		n.refuse(http.StatusNotFound, "no websocket endpoint at "+req.URL.Path)
		return
	}

	conn, err := n.srv.upgrader().Upgrade(n, req)
	if err != nil {
		var he *protocol.HandshakeError
		if errors.As(err, &he) {
			n.reject(he)
			return
		}
		n.fail(err)
		return
	}
	n.conn = conn
	if n.closed {
		return
	}
	n.srv.sessions.Add(1)
	if len(rest) > 0 {
		conn.Feed(rest)
	}
}

// refuse rejects a request before it reaches the upgrader.
func (n *node) refuse(status int, reason string) {
	n.srv.Observe("handshake.rejected", map[string]any{"remote": n.remote, "status": status, "error": reason})
	n.reject(protocol.NewHandshakeError(status, reason))
}

func (n *node) reject(he *protocol.HandshakeError) {
	if err := n.Send([][]byte{he.Response().Bytes()}); err != nil {
		n.destroy()
		return
	}
	_ = n.Close()
}

func (n *node) destroy() {
	if n.closed {
		return
	}
	n.closed = true
	s := n.srv
	_ = s.loop.reactor.Unregister(uintptr(n.fd))
	_ = unix.Close(n.fd)
	delete(s.loop.nodes, n.fd)
	s.conns.Add(-1)
	if n.conn != nil {
		s.sessions.Add(-1)
	}
}
