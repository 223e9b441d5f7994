package connector

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/encoding"
)

// dispatcher runs the handler for each message on its own goroutine so a
// slow handler never delays the receive loop. With a limit, messages that
// arrive while every slot is busy are dropped.
type dispatcher struct {
	logger *zap.Logger
	sem    *semaphore.Weighted

	// inflight counts running handlers; idle is signalled when it drops to
	// zero. Unlike a WaitGroup this may be waited on while dispatching.
	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
}

func newDispatcher(logger *zap.Logger, maxInflight int) *dispatcher {
	d := &dispatcher{logger: logger}
	d.idle = sync.NewCond(&d.mu)
	if maxInflight > 0 {
		d.sem = semaphore.NewWeighted(int64(maxInflight))
	}
	return d
}

func (d *dispatcher) dispatch(c *Connector, enc encoding.Encoding, msg *Message) {
	if d.sem != nil && !d.sem.TryAcquire(1) {
		d.logger.Warn("handler limit reached, dropping message",
			zap.Stringer("remote", msg.Remote),
			zap.Int("size", len(msg.Payload)),
		)
		return
	}

	d.mu.Lock()
	d.inflight++
	d.mu.Unlock()

	go func() {
		defer d.finish()
		if d.sem != nil {
			defer d.sem.Release(1)
		}

		if err := d.invoke(c, enc, msg); err != nil {
			d.logger.Error("failed to handle message",
				zap.Stringer("remote", msg.Remote),
				zap.Int("size", len(msg.Payload)),
				zap.Error(err),
			)
		}
	}()
}

func (d *dispatcher) invoke(c *Connector, enc encoding.Encoding, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailed, r)
		}
	}()

	text, err := enc.NewDecoder().Bytes(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	msg.Text = string(text)

	h := c.Handler()
	if h == nil {
		d.logger.Debug("no handler registered, discarding message", zap.Stringer("remote", msg.Remote))
		return nil
	}
	if err := h(c, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrHandlerFailed, err)
	}
	return nil
}

func (d *dispatcher) finish() {
	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// wait blocks until no handler is running. Handlers dispatched while it
// waits are waited for too.
func (d *dispatcher) wait() {
	d.mu.Lock()
	for d.inflight > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
