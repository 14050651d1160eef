//go:build !linux
// +build !linux

// File: transport/transport_stub.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"github.com/pkg/errors"

	"github.com/momentics/wsreactor/api"
)

// Listen is only implemented on linux.
func Listen(addr string, cfg ListenConfig) (api.Listener, error) {
	return nil, errors.Wrap(api.ErrNotSupported, "transport: raw sockets are only available on linux")
}
