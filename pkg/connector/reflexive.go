package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cossteam/udpkit/pkg/transport/udp"
	"github.com/pion/stun"
	"go.uber.org/zap"
)

const (
	defaultReflexiveTimeout = 5 * time.Second
	defaultSTUNPort         = 3478
)

// ReflexiveAddr asks a STUN server how the send socket appears from the
// server's side of the network. stunURI is either "stun:host[:port]" or
// "host:port". The exchange holds the send lock, so concurrent sends wait.
// It ends at the ctx deadline, on cancellation, or after five seconds when
// ctx has no deadline.
func (c *Connector) ReflexiveAddr(ctx context.Context, stunURI string) (*udp.Addr, error) {
	server, err := resolveSTUN(stunURI)
	if err != nil {
		return nil, err
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to build STUN request: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	conn, err := c.sendSocketLocked()
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultReflexiveTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	// Cancellation wakes the pending read. The watcher has exited before the
	// deadline is cleared, so it cannot cut short a later exchange.
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-exited
		_ = conn.SetReadDeadline(time.Time{})
	}()

	if err := conn.WriteTo(req.Raw, server); err != nil {
		return nil, err
	}

	buf := make([]byte, udp.MTU)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read STUN response: %w", err)
		}
		if !from.Equals(server) {
			c.logger.Debug("ignoring datagram from non-STUN peer", zap.Stringer("remote", from))
			continue
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			c.logger.Debug("ignoring malformed STUN response", zap.Error(err))
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		return mappedAddr(res)
	}
}

func mappedAddr(res *stun.Message) (*udp.Addr, error) {
	if res.Type != stun.BindingSuccess {
		return nil, fmt.Errorf("unexpected STUN response %s", res.Type)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return udp.NewAddr(xorAddr.IP, uint16(xorAddr.Port)), nil
	}

	var mapped stun.MappedAddress
	if err := mapped.GetFrom(res); err == nil {
		return udp.NewAddr(mapped.IP, uint16(mapped.Port)), nil
	}
	return nil, errors.New("STUN response carries no mapped address")
}

func resolveSTUN(stunURI string) (*udp.Addr, error) {
	if !strings.HasPrefix(stunURI, "stun:") {
		return udp.ResolveAddr(stunURI)
	}

	u, err := stun.ParseURI(stunURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse STUN URI: %w", err)
	}
	port := u.Port
	if port == 0 {
		port = defaultSTUNPort
	}
	return udp.ResolveAddr(net.JoinHostPort(u.Host, strconv.Itoa(port)))
}
