// Package broadcast sends single datagrams to broadcast addresses from a
// transient socket. Nothing is retried.
package broadcast

import (
	"errors"
	"fmt"
	"net"

	"github.com/cossteam/udpkit/pkg/transport/udp"
	"github.com/cossteam/udpkit/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

type Broadcaster struct {
	logger   *zap.Logger
	targets  []net.IP
	encoding encoding.Encoding
}

type Option func(*Broadcaster)

// WithTargets replaces the default limited broadcast address.
func WithTargets(ips ...net.IP) Option {
	return func(b *Broadcaster) {
		if len(ips) > 0 {
			b.targets = ips
		}
	}
}

// WithSubnetTargets sends to the directed broadcast address of every local
// IPv4 network instead of 255.255.255.255.
func WithSubnetTargets() Option {
	return func(b *Broadcaster) {
		ips, err := utils.SubnetBroadcastAddrs()
		if err != nil || len(ips) == 0 {
			b.logger.Warn("no subnet broadcast address found, keeping limited broadcast", zap.Error(err))
			return
		}
		b.targets = ips
	}
}

func WithEncoding(enc encoding.Encoding) Option {
	return func(b *Broadcaster) {
		if enc != nil {
			b.encoding = enc
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		logger:   logger,
		targets:  []net.IP{net.IPv4bcast},
		encoding: unicode.UTF8,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast is a one-off Broadcaster with default options.
func Broadcast(logger *zap.Logger, port int, payload []byte) error {
	return New(logger).Broadcast(port, payload)
}

func (b *Broadcaster) Targets() []net.IP {
	out := make([]net.IP, len(b.targets))
	copy(out, b.targets)
	return out
}

// Broadcast sends payload once to every target on port.
func (b *Broadcaster) Broadcast(port int, payload []byte) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid broadcast port %d", port)
	}

	conn, err := udp.Bind(b.logger, nil, nil, udp.WithBroadcast())
	if err != nil {
		b.logger.Warn("failed to open broadcast socket", zap.Error(err))
		return err
	}
	defer conn.Close()

	var errs []error
	for _, ip := range b.targets {
		dst := udp.NewAddr(ip, uint16(port))
		if err := conn.WriteTo(payload, dst); err != nil {
			b.logger.Warn("failed to broadcast", zap.Stringer("target", dst), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		b.logger.Debug("broadcast sent", zap.Stringer("target", dst), zap.Int("size", len(payload)))
	}
	return errors.Join(errs...)
}

func (b *Broadcaster) BroadcastString(port int, message string) error {
	payload, err := b.encoding.NewEncoder().Bytes([]byte(message))
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return b.Broadcast(port, payload)
}
