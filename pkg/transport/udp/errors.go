package udp

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	ErrBindFailed    = errors.New("bind failed")
	ErrSendFailed    = errors.New("send failed")
	ErrReceiveFailed = errors.New("receive failed")
)

// SocketError describes a failed socket operation. It matches its Kind
// sentinel and its underlying cause with errors.Is.
type SocketError struct {
	Kind error
	Op   string
	Addr *Addr
	Err  error
}

func (e *SocketError) Error() string {
	if e.Addr != nil {
		return fmt.Sprintf("udp %s %s: %v: %v", e.Op, e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("udp %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *SocketError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsClosed reports whether err comes from using a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsTransient reports whether a receive error leaves the socket usable.
// ICMP port-unreachable feedback surfaces as ECONNREFUSED or ECONNRESET
// depending on the platform.
func IsTransient(err error) bool {
	return IsTimeout(err) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EINTR)
}
