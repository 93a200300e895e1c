//go:build unix

package wol

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// broadcastControl enables SO_BROADCAST so the limited broadcast address
// can be dialed.
func broadcastControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
