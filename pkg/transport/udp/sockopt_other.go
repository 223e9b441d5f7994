//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package udp

import "syscall"

// The runtime already enables SO_BROADCAST on datagram sockets here, and
// port sharing is not supported.
func (o options) control() func(network, address string, c syscall.RawConn) error {
	return nil
}
