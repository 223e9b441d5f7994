package connector

import (
	"sync/atomic"
	"time"

	"github.com/cossteam/udpkit/pkg/transport/udp"
	"go.uber.org/zap"
)

type loopState int32

const (
	stateIdle loopState = iota
	stateRunning
	stateStopping
)

func (s loopState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// receiveLoop reads datagrams from one socket until the socket is closed,
// a zero-length datagram arrives or the socket faults. It owns the socket
// and closes it on exit.
type receiveLoop struct {
	logger  *zap.Logger
	conn    udp.Conn
	local   *udp.Addr
	timeout time.Duration
	deliver func(*Message)

	state atomic.Int32
	done  chan struct{}
}

func newReceiveLoop(logger *zap.Logger, conn udp.Conn, local *udp.Addr, timeout time.Duration, deliver func(*Message)) *receiveLoop {
	return &receiveLoop{
		logger:  logger,
		conn:    conn,
		local:   local,
		timeout: timeout,
		deliver: deliver,
		done:    make(chan struct{}),
	}
}

func (l *receiveLoop) start() {
	l.state.Store(int32(stateRunning))
	go l.run()
}

func (l *receiveLoop) running() bool {
	return loopState(l.state.Load()) == stateRunning
}

// stop closes the socket to unblock the pending read and waits for the loop
// to exit. No message is delivered after stop returns.
func (l *receiveLoop) stop() {
	if l.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		if err := l.conn.Close(); err != nil {
			l.logger.Debug("error closing receive socket", zap.Error(err))
		}
	}
	<-l.done
}

func (l *receiveLoop) run() {
	defer close(l.done)
	defer l.state.Store(int32(stateIdle))
	defer l.conn.Close()

	buffer := make([]byte, udp.MaxDatagramSize)
	for {
		if l.timeout > 0 {
			if err := l.conn.SetReadDeadline(time.Now().Add(l.timeout)); err != nil {
				l.logger.Debug("failed to set read deadline", zap.Error(err))
			}
		}

		n, remote, err := l.conn.ReadFrom(buffer)
		if err != nil {
			if l.stopping() || udp.IsClosed(err) {
				l.logger.Debug("udp socket is closed, exiting read loop")
				return
			}
			if udp.IsTimeout(err) {
				l.logger.Debug("no datagram within receive timeout", zap.Duration("timeout", l.timeout))
				continue
			}
			if udp.IsTransient(err) {
				l.logger.Warn("transient receive error", zap.Error(err))
				continue
			}
			l.logger.Error("receive loop faulted, stopping", zap.Error(err))
			return
		}

		// A zero-length datagram ends the loop. Peers relying on this should
		// prefer disabling the listener explicitly.
		if n == 0 {
			l.logger.Info("received empty datagram, stopping receive loop", zap.Stringer("remote", remote))
			return
		}

		payload := make([]byte, n)
		copy(payload, buffer[:n])

		l.deliver(&Message{
			Remote:     remote,
			Local:      l.local.Copy(),
			Payload:    payload,
			ReceivedAt: time.Now(),
		})
	}
}

func (l *receiveLoop) stopping() bool {
	return loopState(l.state.Load()) == stateStopping
}
