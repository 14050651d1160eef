//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"github.com/pkg/errors"

	"github.com/momentics/wsreactor/api"
)

func newReactor() (api.Reactor, error) {
	return nil, errors.Wrap(api.ErrNotSupported, "reactor: epoll is only available on linux")
}
