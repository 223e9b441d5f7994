// Package reflector answers STUN Binding requests so hosts on the local
// network can learn how their sockets appear to a peer. TURN allocations
// are refused.
package reflector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cossteam/udpkit/pkg/log"
	"github.com/cossteam/udpkit/pkg/transport/udp"
	"github.com/pion/turn/v3"
	"go.uber.org/zap"
)

const realm = "udpkit"

var ErrStarted = errors.New("reflector already started")

type Server struct {
	logger *zap.Logger
	addr   string

	started atomic.Bool
	mu      sync.Mutex
	local   *udp.Addr
	ready   chan struct{}
}

// New returns a reflector that will listen on addr, e.g. "0.0.0.0:3478".
func New(logger *zap.Logger, addr string) *Server {
	return &Server{
		logger: logger,
		addr:   addr,
		ready:  make(chan struct{}),
	}
}

// Start serves until ctx is done. A Server runs once; later calls return
// ErrStarted.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	pc, err := net.ListenPacket("udp4", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	local := pc.LocalAddr().(*net.UDPAddr)
	relayIP := local.IP
	if relayIP.IsUnspecified() {
		relayIP = net.IPv4(127, 0, 0, 1)
	}

	srv, err := turn.NewServer(turn.ServerConfig{
		Realm: realm,
		AuthHandler: func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
			s.logger.Debug("refusing allocation", zap.String("username", username), zap.Stringer("remote", srcAddr))
			return nil, false
		},
		LoggerFactory: log.NewPionLoggerFactory(s.logger),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: pc,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      local.IP.String(),
				},
			},
		},
	})
	if err != nil {
		pc.Close()
		return fmt.Errorf("failed to start reflector: %w", err)
	}

	s.mu.Lock()
	s.local = udp.FromUDPAddr(local)
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("reflector listening", zap.Stringer("addr", local))
	<-ctx.Done()

	if err := srv.Close(); err != nil {
		return fmt.Errorf("failed to close reflector: %w", err)
	}
	return nil
}

// Addr waits until the server is listening and returns its bound address.
func (s *Server) Addr(ctx context.Context) (*udp.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local.Copy(), nil
}
