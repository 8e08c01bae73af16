//go:build linux

// Package sockopt sets platform socket options for the client
// listener (§4.5 "TCP uses SO_REUSEADDR=1"), split by build tag the
// same way the teacher splits internal/fwmark_linux.go /
// internal/fwmark_other.go.
package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ReuseAddr is a net.ListenConfig.Control callback that sets
// SO_REUSEADDR on the listening socket before bind.
func ReuseAddr(_, _ string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}
