package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	// bindAttempts bounds how often Bind moves on to the next allocated port
	// when another socket grabbed it between allocation and bind.
	bindAttempts = 8

	firstAllocatablePort = 1025
	lastPort             = 65535
)

var _ Conn = &GenericConn{}

type GenericConn struct {
	conn *net.UDPConn
	l    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

type Option func(*options)

type options struct {
	reuseAddr  bool
	broadcast  bool
	readBuffer int
}

// WithReuseAddr lets several sockets on the host share the bound port.
func WithReuseAddr() Option {
	return func(o *options) { o.reuseAddr = true }
}

// WithBroadcast allows sending to broadcast addresses. Implies IPv4.
func WithBroadcast() Option {
	return func(o *options) { o.broadcast = true }
}

func WithReadBuffer(bytes int) Option {
	return func(o *options) { o.readBuffer = bytes }
}

// Bind opens one UDP socket on addr. A nil addr or a zero port is filled in
// from ports when given, and by the OS otherwise.
func Bind(logger *zap.Logger, addr *Addr, ports PortSource, opts ...Option) (*GenericConn, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	local := addr.Copy()
	if local == nil {
		local = &Addr{}
	}
	network := networkFor(local, o)

	if local.Port != 0 || ports == nil {
		conn, err := listen(network, local, o)
		if err != nil {
			return nil, &SocketError{Kind: ErrBindFailed, Op: "bind", Addr: local, Err: err}
		}
		return newGenericConn(logger, conn, o), nil
	}

	start := firstAllocatablePort
	for attempt := 0; attempt < bindAttempts; attempt++ {
		port, err := ports.NextAvailablePort(start, lastPort-start+1)
		if err != nil {
			return nil, &SocketError{Kind: ErrBindFailed, Op: "bind", Addr: local, Err: err}
		}
		local.Port = uint16(port)

		conn, err := listen(network, local, o)
		if err == nil {
			return newGenericConn(logger, conn, o), nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, &SocketError{Kind: ErrBindFailed, Op: "bind", Addr: local, Err: err}
		}
		logger.Debug("allocated port taken before bind, trying next", zap.Int("port", port))
		start = port + 1
	}

	return nil, &SocketError{
		Kind: ErrBindFailed,
		Op:   "bind",
		Addr: local,
		Err:  fmt.Errorf("no bindable port after %d attempts", bindAttempts),
	}
}

func networkFor(addr *Addr, o options) string {
	switch {
	case len(addr.IP) > 0 && addr.IP.To4() != nil:
		return "udp4"
	case len(addr.IP) > 0:
		return "udp6"
	case o.broadcast:
		return "udp4"
	default:
		return "udp"
	}
}

func listen(network string, addr *Addr, o options) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: o.control()}
	pc, err := lc.ListenPacket(context.Background(), network, addr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func newGenericConn(logger *zap.Logger, conn *net.UDPConn, o options) *GenericConn {
	if o.readBuffer > 0 {
		if err := conn.SetReadBuffer(o.readBuffer); err != nil {
			logger.Warn("failed to set udp read buffer", zap.Int("bytes", o.readBuffer), zap.Error(err))
		}
	}
	return &GenericConn{
		conn: conn,
		l:    logger,
	}
}

func (u *GenericConn) LocalAddr() (*Addr, error) {
	a := u.conn.LocalAddr()

	switch v := a.(type) {
	case *net.UDPAddr:
		return NewAddr(v.IP, uint16(v.Port)), nil

	default:
		return nil, fmt.Errorf("LocalAddr returned: %#v", a)
	}
}

func (u *GenericConn) ReadFrom(b []byte) (int, *Addr, error) {
	n, rua, err := u.conn.ReadFromUDP(b)
	if err != nil {
		return n, nil, &SocketError{Kind: ErrReceiveFailed, Op: "read", Err: err}
	}
	return n, FromUDPAddr(rua), nil
}

func (u *GenericConn) WriteTo(b []byte, addr *Addr) error {
	if addr == nil {
		return &SocketError{Kind: ErrSendFailed, Op: "write", Err: errors.New("missing destination")}
	}
	if _, err := u.conn.WriteToUDP(b, addr.UDPAddr()); err != nil {
		return &SocketError{Kind: ErrSendFailed, Op: "write", Addr: addr.Copy(), Err: err}
	}
	return nil
}

func (u *GenericConn) SetReadDeadline(t time.Time) error {
	return u.conn.SetReadDeadline(t)
}

func (u *GenericConn) Close() error {
	u.closeOnce.Do(func() {
		u.closeErr = u.conn.Close()
		u.l.Debug("udp socket closed", zap.Stringer("local", u.conn.LocalAddr()))
	})
	return u.closeErr
}
