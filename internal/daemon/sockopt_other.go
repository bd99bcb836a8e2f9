//go:build !linux

package daemon

import "syscall"

// setReuseAddr is a no-op on platforms where this daemon hasn't needed a
// custom listen-socket option; Go's net package already sets SO_REUSEADDR
// by default on most non-Linux targets.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
