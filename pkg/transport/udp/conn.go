package udp

import "time"

const MTU = 9001

// MaxDatagramSize is the largest payload a single UDP datagram can carry.
const MaxDatagramSize = 65535

// Conn is one bound UDP socket owned by a single user.
type Conn interface {
	LocalAddr() (*Addr, error)
	// ReadFrom blocks until a datagram arrives or the socket is closed.
	ReadFrom(b []byte) (int, *Addr, error)
	WriteTo(b []byte, addr *Addr) error
	SetReadDeadline(t time.Time) error
	// Close is idempotent and unblocks a pending ReadFrom.
	Close() error
}

// PortSource hands out ports for sockets bound without an explicit port.
type PortSource interface {
	NextAvailablePort(rangeStart, rangeSize int) (int, error)
}
