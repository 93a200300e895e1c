//go:build !unix

package wol

import "syscall"

func broadcastControl(network, address string, c syscall.RawConn) error {
	return nil
}
