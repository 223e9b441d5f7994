package connector

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cossteam/udpkit/pkg/reflector"
	"github.com/cossteam/udpkit/pkg/transport/udp"
	"github.com/google/uuid"
	"github.com/pion/randutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const (
	eventually = 3 * time.Second
	tick       = 10 * time.Millisecond
)

func loopback() *udp.Addr {
	return udp.NewAddr(net.IPv4(127, 0, 0, 1), 0)
}

// collector records every message its handler sees.
type collector struct {
	mu   sync.Mutex
	msgs []*Message
}

func (c *collector) handle(_ *Connector, msg *Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m.Text)
	}
	return out
}

func newListening(t *testing.T, opts ...Option) *Connector {
	t.Helper()
	opts = append([]Option{WithReceiveAddr(loopback())}, opts...)
	c := New(zap.NewNop(), opts...)
	require.NoError(t, c.SetListening(true))
	t.Cleanup(func() { c.Close() })
	return c
}

func newSender(t *testing.T) *Connector {
	t.Helper()
	c := New(zap.NewNop(), WithSendAddr(loopback()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnector_HelloFromPeer(t *testing.T) {
	got := &collector{}
	a := newListening(t, WithHandler(got.handle))
	b := newSender(t)

	require.NoError(t, b.Send("hello", a.ReceiveAddr()))

	require.Eventually(t, func() bool { return got.len() == 1 }, eventually, tick)
	msg := got.msgs[0]
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, []byte("hello"), msg.Payload)
	assert.True(t, msg.Remote.Equals(b.SendAddr()), "remote %s, sender %s", msg.Remote, b.SendAddr())
	assert.True(t, msg.Local.Equals(a.ReceiveAddr()))
	assert.False(t, msg.ReceivedAt.IsZero())
}

func TestConnector_UnpinnedSenderSharesPort(t *testing.T) {
	got := &collector{}
	a := newListening(t, WithHandler(got.handle))
	b := New(zap.NewNop())
	t.Cleanup(func() { b.Close() })

	require.NoError(t, b.Send("hello", a.ReceiveAddr()))
	require.Eventually(t, func() bool { return got.len() == 1 }, eventually, tick)

	got.mu.Lock()
	remote := got.msgs[0].Remote
	got.mu.Unlock()

	local := b.SendAddr()
	assert.True(t, local.Unspecified(), "unpinned send socket reports %s", local)
	assert.Equal(t, local.Port, remote.Port)
	assert.True(t, remote.IP.IsLoopback())
}

func TestConnector_WaitWhileReceiving(t *testing.T) {
	var handled atomic.Int32
	a := newListening(t, WithHandler(func(*Connector, *Message) error {
		handled.Add(1)
		return nil
	}))
	b := newSender(t)
	dst := a.ReceiveAddr()

	stop := make(chan struct{})
	sending := make(chan struct{})
	go func() {
		defer close(sending)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = b.Send("tick", dst)
			time.Sleep(time.Millisecond)
		}
	}()

	require.Eventually(t, func() bool { return handled.Load() > 0 }, eventually, tick)
	for i := 0; i < 50; i++ {
		a.Wait()
	}
	close(stop)
	<-sending

	a.Wait()
	assert.True(t, a.Listening())
}

func TestConnector_DeliversEveryDatagram(t *testing.T) {
	got := &collector{}
	a := newListening(t, WithHandler(got.handle))
	b := newSender(t)

	const n = 50
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		payload := uuid.NewString()
		want = append(want, payload)
		require.NoError(t, b.Send(payload, a.ReceiveAddr()))
	}

	require.Eventually(t, func() bool { return got.len() == n }, eventually, tick)
	assert.ElementsMatch(t, want, got.texts())
}

func TestConnector_NoDeliveryAfterStop(t *testing.T) {
	var calls atomic.Int32
	a := newListening(t, WithHandler(func(*Connector, *Message) error {
		calls.Add(1)
		return nil
	}))
	b := newSender(t)
	addr := a.ReceiveAddr()

	require.NoError(t, a.SetListening(false))
	assert.False(t, a.Listening())

	require.NoError(t, b.Send("late", addr))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestConnector_StopWhenStoppedIsNoop(t *testing.T) {
	fake := newFakeConn(loopback())
	var binds atomic.Int32
	c := New(zap.NewNop())
	c.bind = func(*udp.Addr, ...udp.Option) (udp.Conn, error) {
		binds.Add(1)
		return fake, nil
	}

	require.NoError(t, c.SetListening(false))
	require.NoError(t, c.SetListening(false))
	assert.Zero(t, binds.Load())
	assert.Zero(t, fake.closeCalls.Load())
}

func TestConnector_StartIsIdempotent(t *testing.T) {
	fake := newFakeConn(loopback())
	var binds atomic.Int32
	c := New(zap.NewNop())
	c.bind = func(*udp.Addr, ...udp.Option) (udp.Conn, error) {
		binds.Add(1)
		return fake, nil
	}
	defer c.Close()

	require.NoError(t, c.SetListening(true))
	require.NoError(t, c.SetListening(true))
	assert.Equal(t, int32(1), binds.Load())
	assert.True(t, c.Listening())
}

func TestConnector_RestartRebinds(t *testing.T) {
	got := &collector{}
	a := newListening(t, WithHandler(got.handle))
	b := newSender(t)

	require.NoError(t, a.SetListening(false))
	require.NoError(t, a.SetListening(true))
	assert.True(t, a.Listening())

	require.NoError(t, b.Send("again", a.ReceiveAddr()))
	require.Eventually(t, func() bool { return got.len() == 1 }, eventually, tick)
}

func TestConnector_ConcurrentSendAndReceive(t *testing.T) {
	const iterations = 1000

	sent := make(map[string]struct{}, iterations)
	payloads := make([]string, 0, iterations)
	gen := randutil.NewMathRandomGenerator()
	for len(payloads) < iterations {
		p := gen.GenerateString(24, "abcdefghijklmnopqrstuvwxyz0123456789")
		if _, dup := sent[p]; dup {
			continue
		}
		sent[p] = struct{}{}
		payloads = append(payloads, p)
	}

	var received, corrupt atomic.Int32
	a := newListening(t, WithHandler(func(_ *Connector, msg *Message) error {
		if _, ok := sent[msg.Text]; !ok {
			corrupt.Add(1)
		}
		received.Add(1)
		return nil
	}))
	self := a.ReceiveAddr()

	var wg sync.WaitGroup
	errs := make(chan error, iterations)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < iterations; i += 4 {
				if err := a.Send(payloads[i], self); err != nil {
					errs <- err
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent send/receive deadlocked")
	}
	close(errs)
	for err := range errs {
		t.Errorf("send failed: %v", err)
	}

	require.Eventually(t, func() bool { return received.Load() > 0 }, eventually, tick)
	a.Wait()
	assert.Zero(t, corrupt.Load())
	assert.True(t, a.Listening())
	t.Logf("received %d of %d datagrams", received.Load(), iterations)
}

func TestConnector_ConfigurationRejectedWhileListening(t *testing.T) {
	a := newListening(t)

	assert.ErrorIs(t, a.SetEncoding(charmap.ISO8859_1), ErrListening)
	assert.ErrorIs(t, a.SetEncodingName("latin1"), ErrListening)
	assert.ErrorIs(t, a.SetReceiveAddr(udp.NewAddr(net.IPv4(127, 0, 0, 1), 40000)), ErrListening)
	assert.Equal(t, unicode.UTF8, a.Encoding())

	require.NoError(t, a.SetListening(false))
	require.NoError(t, a.SetEncoding(charmap.ISO8859_1))
	assert.Equal(t, charmap.ISO8859_1, a.Encoding())
}

func TestConnector_Encoding(t *testing.T) {
	got := &collector{}
	a := newListening(t, WithHandler(got.handle), WithEncoding(charmap.ISO8859_1))
	b := New(zap.NewNop(), WithSendAddr(loopback()))
	defer b.Close()
	require.NoError(t, b.SetEncodingName("iso-8859-1"))

	require.NoError(t, b.Send("café", a.ReceiveAddr()))

	require.Eventually(t, func() bool { return got.len() == 1 }, eventually, tick)
	assert.Equal(t, "café", got.msgs[0].Text)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, got.msgs[0].Payload)
}

func TestConnector_UnknownEncoding(t *testing.T) {
	c := New(zap.NewNop())
	assert.Error(t, c.SetEncodingName("klingon"))
}

func TestConnector_HandlerFailuresAreIsolated(t *testing.T) {
	got := &collector{}
	var calls atomic.Int32
	a := newListening(t, WithHandler(func(c *Connector, msg *Message) error {
		switch calls.Add(1) {
		case 1:
			panic("handler exploded")
		case 2:
			return errors.New("handler refused")
		default:
			return got.handle(c, msg)
		}
	}))
	b := newSender(t)

	require.NoError(t, b.Send("one", a.ReceiveAddr()))
	require.NoError(t, b.Send("two", a.ReceiveAddr()))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, eventually, tick)

	require.NoError(t, b.Send("three", a.ReceiveAddr()))
	require.Eventually(t, func() bool { return got.len() == 1 }, eventually, tick)
	assert.True(t, a.Listening())
}

func TestConnector_EmptyDatagramStopsLoop(t *testing.T) {
	a := newListening(t)
	b := newSender(t)

	require.NoError(t, b.SendBytes(nil, a.ReceiveAddr()))
	require.Eventually(t, func() bool { return !a.Listening() }, eventually, tick)

	// listening again binds a new socket
	require.NoError(t, a.SetListening(true))
	assert.True(t, a.Listening())
}

func TestConnector_MaxInflightDropsWhenSaturated(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	a := newListening(t, WithMaxInflight(1), WithHandler(func(*Connector, *Message) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}))
	b := newSender(t)

	require.NoError(t, b.Send("first", a.ReceiveAddr()))
	select {
	case <-started:
	case <-time.After(eventually):
		t.Fatal("first message not dispatched")
	}

	require.NoError(t, b.Send("second", a.ReceiveAddr()))
	require.NoError(t, b.Send("third", a.ReceiveAddr()))
	time.Sleep(100 * time.Millisecond)
	close(release)
	a.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestConnector_Close(t *testing.T) {
	a := newListening(t)
	addr := a.ReceiveAddr()

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
	assert.False(t, a.Listening())
	assert.ErrorIs(t, a.SetListening(true), ErrClosed)
	assert.ErrorIs(t, a.Send("x", addr), ErrClosed)
}

func TestConnector_SendWithoutDestination(t *testing.T) {
	b := newSender(t)
	assert.ErrorIs(t, b.SendBytes([]byte("x"), nil), udp.ErrSendFailed)
}

func TestConnector_UnpinnedPortsAreAllocated(t *testing.T) {
	c := New(zap.NewNop())
	defer c.Close()
	assert.Nil(t, c.ReceiveAddr())

	require.NoError(t, c.SetListening(true))
	addr := c.ReceiveAddr()
	require.NotNil(t, addr)
	assert.GreaterOrEqual(t, int(addr.Port), 1025)
}

func TestConnector_ReflexiveAddr(t *testing.T) {
	srv := reflector.New(zap.NewNop(), "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	server, err := srv.Addr(waitCtx)
	require.NoError(t, err)

	b := newSender(t)
	got, err := b.ReflexiveAddr(waitCtx, "stun:"+server.String())
	require.NoError(t, err)
	assert.True(t, got.Equals(b.SendAddr()), "reflexive %s, local %s", got, b.SendAddr())

	got, err = b.ReflexiveAddr(waitCtx, server.String())
	require.NoError(t, err)
	assert.True(t, got.Equals(b.SendAddr()))
}

func TestConnector_ReflexiveAddrTimeout(t *testing.T) {
	silent, err := udp.Bind(zap.NewNop(), loopback(), nil)
	require.NoError(t, err)
	defer silent.Close()
	addr, _ := silent.LocalAddr()

	b := newSender(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = b.ReflexiveAddr(ctx, addr.String())
	assert.Error(t, err)

	// the send socket stays usable
	assert.NoError(t, b.Send("still here", addr))
}

func TestConnector_ReflexiveAddrCancel(t *testing.T) {
	silent, err := udp.Bind(zap.NewNop(), loopback(), nil)
	require.NoError(t, err)
	defer silent.Close()
	addr, _ := silent.LocalAddr()

	b := newSender(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err = b.ReflexiveAddr(ctx, addr.String())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)

	// a later exchange is not cut short by the earlier cancellation
	ctx2, cancel2 := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel2()
	start = time.Now()
	_, err = b.ReflexiveAddr(ctx2, addr.String())
	assert.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}
