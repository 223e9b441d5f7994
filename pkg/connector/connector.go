// Package connector provides a bidirectional UDP endpoint: a lazily bound
// send socket plus a receive loop that can be switched on and off and hands
// every inbound datagram to a registered handler.
package connector

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cossteam/udpkit/pkg/portalloc"
	"github.com/cossteam/udpkit/pkg/transport/udp"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

var (
	ErrListening     = errors.New("connector is listening")
	ErrClosed        = errors.New("connector is closed")
	ErrHandlerFailed = errors.New("handler failed")
)

// Handler is called once per accepted datagram on a goroutine of its own.
// Handlers run concurrently and in no particular order.
type Handler func(c *Connector, msg *Message) error

type bindFunc func(addr *udp.Addr, opts ...udp.Option) (udp.Conn, error)

type Connector struct {
	logger     *zap.Logger
	ports      udp.PortSource
	bind       bindFunc
	dispatcher *dispatcher
	closed     atomic.Bool

	maxInflight    int
	receiveTimeout time.Duration
	socketOpts     []udp.Option

	// mu serializes start/stop and guards the receive side configuration.
	mu          sync.Mutex
	receiveAddr *udp.Addr
	encoding    encoding.Encoding
	loop        *receiveLoop

	sendMu   sync.Mutex
	sendAddr *udp.Addr
	sendConn udp.Conn

	handlerMu sync.RWMutex
	handler   Handler
}

func New(logger *zap.Logger, opts ...Option) *Connector {
	c := &Connector{
		logger:   logger,
		ports:    portalloc.Default().Protocol(portalloc.UDP),
		encoding: unicode.UTF8,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.dispatcher = newDispatcher(logger, c.maxInflight)
	c.bind = func(addr *udp.Addr, opts ...udp.Option) (udp.Conn, error) {
		conn, err := udp.Bind(c.logger, addr, c.ports, opts...)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return c
}

func (c *Connector) Handler() Handler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

// SetHandler replaces the handler. Messages already dispatched keep the
// handler they were dispatched with.
func (c *Connector) SetHandler(h Handler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

func (c *Connector) Encoding() encoding.Encoding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoding
}

// SetEncoding changes the charset used by Send and for Message.Text. It is
// rejected while listening.
func (c *Connector) SetEncoding(enc encoding.Encoding) error {
	if enc == nil {
		return errors.New("nil encoding")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeningLocked() {
		return ErrListening
	}
	c.encoding = enc
	return nil
}

// SetEncodingName is SetEncoding by IANA or WHATWG name, e.g. "utf-8" or "iso-8859-1".
func (c *Connector) SetEncodingName(name string) error {
	enc, err := LookupEncoding(name)
	if err != nil {
		return err
	}
	return c.SetEncoding(enc)
}

func LookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// SetReceiveAddr pins the receive endpoint used by the next start. It is
// rejected while listening.
func (c *Connector) SetReceiveAddr(addr *udp.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeningLocked() {
		return ErrListening
	}
	c.receiveAddr = addr.Copy()
	return nil
}

// ReceiveAddr returns the bound receive endpoint while listening, and the
// pinned one otherwise. It is nil when nothing is pinned or bound.
func (c *Connector) ReceiveAddr() *udp.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeningLocked() {
		return c.loop.local.Copy()
	}
	return c.receiveAddr.Copy()
}

// SendAddr returns the bound send endpoint, or the pinned one before the
// first send. An unpinned socket is bound to the wildcard address, so peers
// see the same port but the IP of the outgoing interface.
func (c *Connector) SendAddr() *udp.Addr {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendConn != nil {
		if addr, err := c.sendConn.LocalAddr(); err == nil {
			return addr
		}
	}
	return c.sendAddr.Copy()
}

func (c *Connector) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeningLocked()
}

func (c *Connector) listeningLocked() bool {
	return c.loop != nil && c.loop.running()
}

// SetListening starts or stops the receive loop. Starting while listening
// and stopping while stopped are no-ops. Every start binds a fresh socket.
func (c *Connector) SetListening(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enable {
		return c.startLocked()
	}
	c.stopLocked()
	return nil
}

func (c *Connector) startLocked() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.loop != nil {
		if c.loop.running() {
			return nil
		}
		// the loop ended on its own; its socket is already closed
		c.loop = nil
	}

	conn, err := c.bind(c.receiveAddr, c.socketOpts...)
	if err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}

	local, err := conn.LocalAddr()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start listening: %w", err)
	}

	enc := c.encoding
	logger := c.logger.With(zap.Stringer("local", local))
	c.loop = newReceiveLoop(logger, conn, local, c.receiveTimeout, func(msg *Message) {
		c.dispatcher.dispatch(c, enc, msg)
	})
	c.loop.start()

	logger.Info("listening")
	return nil
}

func (c *Connector) stopLocked() {
	if c.loop == nil {
		return
	}
	c.loop.stop()
	c.logger.Info("stopped listening", zap.Stringer("local", c.loop.local))
	c.loop = nil
}

// Send encodes message with the connector's encoding and sends it to dst.
func (c *Connector) Send(message string, dst *udp.Addr) error {
	payload, err := c.Encoding().NewEncoder().Bytes([]byte(message))
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.SendBytes(payload, dst)
}

// SendBytes sends one datagram to dst, binding the send socket on first use.
// Delivery is not confirmed and failures are not retried.
func (c *Connector) SendBytes(payload []byte, dst *udp.Addr) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	conn, err := c.sendSocketLocked()
	if err != nil {
		return err
	}
	if err := conn.WriteTo(payload, dst); err != nil {
		c.logger.Warn("failed to send datagram", zap.Stringer("remote", dst), zap.Error(err))
		return err
	}
	return nil
}

func (c *Connector) sendSocketLocked() (udp.Conn, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.sendConn != nil {
		return c.sendConn, nil
	}

	conn, err := c.bind(c.sendAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open send socket: %w", err)
	}
	c.sendConn = conn

	if local, err := conn.LocalAddr(); err == nil {
		c.logger.Debug("send socket bound", zap.Stringer("local", local))
	}
	return conn, nil
}

// Close stops listening and releases both sockets. The connector cannot be
// used afterwards. Handlers already running are not waited for; see Wait.
func (c *Connector) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	var err error
	if c.sendConn != nil {
		err = c.sendConn.Close()
		c.sendConn = nil
	}
	c.logger.Debug("connector closed")
	return err
}

// Wait blocks until every dispatched handler has returned. It may be called
// while listening; handlers dispatched during the wait are included. Calling
// it from a handler deadlocks.
func (c *Connector) Wait() {
	c.dispatcher.wait()
}
