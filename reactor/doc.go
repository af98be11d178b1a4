// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness event reactor used by the server
// event loop, backed by epoll on Linux.
package reactor
