//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based event reactor.
type linuxReactor struct {
	epfd int
	raw  []unix.EpollEvent
}

// NewReactor constructs a new platform-specific EventReactor for Linux.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &linuxReactor{epfd: epfd}, nil
}

func toEpoll(events EventType) uint32 {
	var ev uint32 = unix.EPOLLRDHUP
	if events.Has(EventRead) {
		ev |= unix.EPOLLIN
	}
	if events.Has(EventWrite) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) EventType {
	var t EventType
	if ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		t |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		t |= EventWrite
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		t |= EventError
	}
	return t
}

// Register adds file descriptor to epoll.
func (r *linuxReactor) Register(fd uintptr, events EventType) error {
	ev := &unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), ev)
}

// Modify changes the interest set of a registered descriptor.
func (r *linuxReactor) Modify(fd uintptr, events EventType) error {
	ev := &unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), ev)
}

// Unregister removes the descriptor from epoll.
func (r *linuxReactor) Unregister(fd uintptr) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

// Wait waits for epoll events and fills the result into events slice.
func (r *linuxReactor) Wait(events []Event, timeoutMs int) (int, error) {
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]
	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		events[i] = Event{
			Fd:     uintptr(raw[i].Fd),
			Events: fromEpoll(raw[i].Events),
		}
	}
	return n, nil
}

// Close closes the epoll instance.
func (r *linuxReactor) Close() error {
	return unix.Close(r.epfd)
}
