// Package portalloc finds free local ports by comparing a port range with
// the listeners the operating system currently reports as active.
//
// Results are a point-in-time snapshot. Nothing is reserved, so another
// socket may take a port between the check and the caller's bind.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
)

type Protocol string

const (
	UDP Protocol = "udp"
	TCP Protocol = "tcp"
)

const (
	MinPort = 1025
	MaxPort = 65535
)

var ErrPortExhausted = errors.New("no free port in range")

// Source reports the ports currently bound for a protocol. Implementations
// that cannot enumerate sockets return errors.ErrUnsupported.
type Source interface {
	ActivePorts(proto Protocol) (map[int]struct{}, error)
}

type Allocator struct {
	logger *zap.Logger
	source Source
	probe  func(proto Protocol, port int) bool
}

type Option func(*Allocator)

func WithSource(source Source) Option {
	return func(a *Allocator) {
		a.source = source
	}
}

func New(logger *zap.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		logger: logger,
		source: systemSource(),
		probe:  probeBind,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var defaultAllocator = New(zap.NewNop())

// Default returns the process-wide allocator backed by the OS listener table.
func Default() *Allocator {
	return defaultAllocator
}

func NextAvailablePort(proto Protocol, rangeStart, rangeSize int) (int, error) {
	return defaultAllocator.NextAvailablePort(proto, rangeStart, rangeSize)
}

func IsPortOpen(proto Protocol, port int) bool {
	return defaultAllocator.IsPortOpen(proto, port)
}

func InRange(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// NextAvailablePort returns the lowest port of [rangeStart, rangeStart+rangeSize)
// that is allocatable and not active for proto. It returns 0 and
// ErrPortExhausted when there is none.
func (a *Allocator) NextAvailablePort(proto Protocol, rangeStart, rangeSize int) (int, error) {
	lo, hi := clamp(rangeStart, rangeSize)
	if lo > hi {
		return 0, fmt.Errorf("%w: %d ports from %d", ErrPortExhausted, rangeSize, rangeStart)
	}

	inUse, err := a.snapshot(proto)
	if err != nil {
		return 0, err
	}

	for port := lo; port <= hi; port++ {
		if !inUse(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: [%d, %d]", ErrPortExhausted, lo, hi)
}

// IsPortOpen reports whether port is allocatable and not active for proto.
func (a *Allocator) IsPortOpen(proto Protocol, port int) bool {
	if !InRange(port) {
		return false
	}

	inUse, err := a.snapshot(proto)
	if err != nil {
		a.logger.Warn("failed to read active listeners", zap.String("proto", string(proto)), zap.Error(err))
		return false
	}
	return !inUse(port)
}

// Protocol binds the allocator to one protocol for callers that only
// allocate a single kind of socket.
func (a *Allocator) Protocol(proto Protocol) *Ports {
	return &Ports{allocator: a, proto: proto}
}

type Ports struct {
	allocator *Allocator
	proto     Protocol
}

func (p *Ports) NextAvailablePort(rangeStart, rangeSize int) (int, error) {
	return p.allocator.NextAvailablePort(p.proto, rangeStart, rangeSize)
}

func (a *Allocator) snapshot(proto Protocol) (func(port int) bool, error) {
	active, err := a.source.ActivePorts(proto)
	switch {
	case errors.Is(err, errors.ErrUnsupported):
		a.logger.Debug("listener table unavailable, probing ports", zap.String("proto", string(proto)))
		return func(port int) bool {
			return !a.probe(proto, port)
		}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read active %s listeners: %w", proto, err)
	}

	return func(port int) bool {
		_, ok := active[port]
		return ok
	}, nil
}

// clamp intersects [rangeStart, rangeStart+rangeSize) with [MinPort, MaxPort]
// without overflowing. An empty result has lo > hi.
func clamp(rangeStart, rangeSize int) (int, int) {
	if rangeSize <= 0 || rangeStart > MaxPort {
		return MinPort, MinPort - 1
	}
	if rangeStart < 0 {
		rangeSize += rangeStart
		rangeStart = 0
		if rangeSize <= 0 {
			return MinPort, MinPort - 1
		}
	}
	if avail := MaxPort - rangeStart + 1; rangeSize > avail {
		rangeSize = avail
	}

	lo := rangeStart
	if lo < MinPort {
		lo = MinPort
	}
	return lo, rangeStart + rangeSize - 1
}

// probeBind reports whether port can be bound right now.
func probeBind(proto Protocol, port int) bool {
	addr := net.JoinHostPort("", strconv.Itoa(port))
	switch proto {
	case TCP:
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		_ = l.Close()
		return true
	default:
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		_ = pc.Close()
		return true
	}
}
