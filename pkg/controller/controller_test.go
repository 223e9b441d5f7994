package controller

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cossteam/udpkit/pkg/connector"
	"github.com/cossteam/udpkit/pkg/transport/udp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_StopsOnCancel(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	block := RunnableFunc(func(ctx context.Context) error {
		started.Done()
		<-ctx.Done()
		return ctx.Err()
	})

	m := NewManager(zap.NewNop(), block, block)
	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	started.Wait()
	m.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestManager_FailureCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	fail := RunnableFunc(func(context.Context) error { return boom })
	block := RunnableFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	err := NewManager(zap.NewNop(), fail, block).Start(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestManager_StopBeforeStart(t *testing.T) {
	assert.NotPanics(t, func() { NewManager(zap.NewNop()).Stop() })
}

func TestListenService(t *testing.T) {
	received := make(chan string, 1)
	c := connector.New(zap.NewNop(),
		connector.WithReceiveAddr(udp.NewAddr(net.IPv4(127, 0, 0, 1), 0)),
		connector.WithHandler(func(_ *connector.Connector, msg *connector.Message) error {
			received <- msg.Text
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewListenService(zap.NewNop(), c).Start(ctx) }()

	require.Eventually(t, c.Listening, 3*time.Second, 10*time.Millisecond)

	client, err := net.DialUDP("udp4", nil, c.ReceiveAddr().UDPAddr())
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case text := <-received:
		assert.Equal(t, "hello", text)
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.False(t, c.Listening())
	assert.ErrorIs(t, c.SetListening(true), connector.ErrClosed)
}

func TestListenService_BindFailure(t *testing.T) {
	taken, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer taken.Close()

	c := connector.New(zap.NewNop(), connector.WithReceiveAddr(udp.FromUDPAddr(taken.LocalAddr().(*net.UDPAddr))))
	defer c.Close()

	err = NewListenService(zap.NewNop(), c).Start(context.Background())
	assert.ErrorContains(t, err, "failed to start listen service")
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeAnnouncer) BroadcastString(port int, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, message)
	return f.err
}

func (f *fakeAnnouncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestAnnounceService(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "ok"},
		{name: "failures keep ticking", err: errors.New("network unreachable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnnouncer{err: tt.err}
			s := NewAnnounceService(zap.NewNop(), a, 9999, "here", 10*time.Millisecond)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- s.Start(ctx) }()

			require.Eventually(t, func() bool { return a.count() >= 3 }, 3*time.Second, 5*time.Millisecond)
			cancel()
			require.NoError(t, <-done)

			a.mu.Lock()
			defer a.mu.Unlock()
			assert.Equal(t, "here", a.calls[0])
		})
	}
}
