package connector

import (
	"time"

	"github.com/cossteam/udpkit/pkg/transport/udp"
	"golang.org/x/text/encoding"
)

type Option func(*Connector)

// WithSendAddr pins the local endpoint of the send socket.
func WithSendAddr(addr *udp.Addr) Option {
	return func(c *Connector) {
		c.sendAddr = addr.Copy()
	}
}

// WithReceiveAddr pins the local endpoint of the receive socket. A zero
// port is allocated on every start.
func WithReceiveAddr(addr *udp.Addr) Option {
	return func(c *Connector) {
		c.receiveAddr = addr.Copy()
	}
}

func WithEncoding(enc encoding.Encoding) Option {
	return func(c *Connector) {
		if enc != nil {
			c.encoding = enc
		}
	}
}

func WithHandler(h Handler) Option {
	return func(c *Connector) {
		c.handler = h
	}
}

// WithAllocator sets where unpinned ports come from. A nil source leaves
// the choice to the OS.
func WithAllocator(ports udp.PortSource) Option {
	return func(c *Connector) {
		c.ports = ports
	}
}

// WithMaxInflight bounds concurrently running handlers. Zero means one
// goroutine per message without a bound.
func WithMaxInflight(n int) Option {
	return func(c *Connector) {
		c.maxInflight = n
	}
}

// WithReceiveTimeout wakes the receive loop when no datagram arrived within d.
func WithReceiveTimeout(d time.Duration) Option {
	return func(c *Connector) {
		c.receiveTimeout = d
	}
}

func WithReadBuffer(bytes int) Option {
	return func(c *Connector) {
		c.socketOpts = append(c.socketOpts, udp.WithReadBuffer(bytes))
	}
}

// WithReuseAddr lets the receive socket share its port with other
// listeners on the host, e.g. several broadcast receivers.
func WithReuseAddr() Option {
	return func(c *Connector) {
		c.socketOpts = append(c.socketOpts, udp.WithReuseAddr())
	}
}
