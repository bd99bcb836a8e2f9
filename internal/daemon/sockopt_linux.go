//go:build linux

package daemon

import (
	"syscall"

	"codeberg.org/gruf/go-errors"
	"golang.org/x/sys/unix"
)

// setReuseAddr is a net.ListenConfig.Control hook that sets SO_REUSEADDR
// on the listening socket before bind, so the daemon can rebind its
// control port immediately after a restart instead of waiting out
// TIME_WAIT.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	if sockErr != nil {
		return errors.New("daemon: failed to set SO_REUSEADDR: " + sockErr.Error())
	}
	return nil
}
