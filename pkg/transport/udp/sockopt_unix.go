//go:build linux || darwin || freebsd || netbsd || openbsd

package udp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func (o options) control() func(network, address string, c syscall.RawConn) error {
	if !o.reuseAddr && !o.broadcast {
		return nil
	}

	return func(_, _ string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if o.reuseAddr {
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
					return
				}
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); opErr != nil {
					return
				}
			}
			if o.broadcast {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
