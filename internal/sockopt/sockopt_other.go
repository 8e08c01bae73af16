//go:build !linux

package sockopt

import "syscall"

// ReuseAddr is a no-op outside Linux: Go's net package already sets
// SO_REUSEADDR on most BSD-derived platforms by default, and the
// SO_REUSEADDR semantics the teacher's fwmark split cares about are
// Linux-specific anyway.
func ReuseAddr(_, _ string, c syscall.RawConn) error {
	return nil
}
