// SPDX-License-Identifier: GPL-3.0-or-later

package socket_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/rbmk-project/rtsock/packet"
	"github.com/rbmk-project/rtsock/sockerr"
	"github.com/rbmk-project/rtsock/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecv is a result returned by [*fakeAdapter.Recv].
type fakeRecv struct {
	pkt *packet.Packet
	err error
}

// fakeAdapter is a [socket.Adapter] recording the sent packets.
type fakeAdapter struct {
	addr      netip.AddrPort
	closeOnce sync.Once
	closed    chan struct{}
	inbound   chan fakeRecv
	mu        sync.Mutex
	sendErr   map[netip.AddrPort]error
	sent      []*packet.Packet
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		addr:    netip.MustParseAddrPort("127.0.0.1:8000"),
		closed:  make(chan struct{}),
		inbound: make(chan fakeRecv),
		sendErr: map[netip.AddrPort]error{},
	}
}

func (fa *fakeAdapter) Recv(ctx context.Context) (*packet.Packet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-fa.closed:
		return nil, net.ErrClosed
	case res := <-fa.inbound:
		return res.pkt, res.err
	}
}

func (fa *fakeAdapter) Send(ctx context.Context, payload []byte, addr netip.AddrPort) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if err := fa.sendErr[addr]; err != nil {
		return err
	}
	fa.sent = append(fa.sent, packet.New(addr, payload))
	return nil
}

func (fa *fakeAdapter) LocalAddr() netip.AddrPort {
	return fa.addr
}

func (fa *fakeAdapter) Close() error {
	fa.closeOnce.Do(func() { close(fa.closed) })
	return nil
}

func (fa *fakeAdapter) setSendErr(addr netip.AddrPort, err error) {
	fa.mu.Lock()
	fa.sendErr[addr] = err
	fa.mu.Unlock()
}

func (fa *fakeAdapter) sentPayloads() []string {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	var out []string
	for _, pkt := range fa.sent {
		out = append(out, string(pkt.Payload()))
	}
	return out
}

func (fa *fakeAdapter) isClosed() bool {
	select {
	case <-fa.closed:
		return true
	default:
		return false
	}
}

// lingeringAdapter is a [*fakeAdapter] whose Recv takes a while
// to return after failing, like a transport logging the failure.
type lingeringAdapter struct {
	*fakeAdapter
	calls    atomic.Int64
	returned atomic.Bool
}

func (la *lingeringAdapter) Recv(ctx context.Context) (*packet.Packet, error) {
	la.calls.Add(1)
	pkt, err := la.fakeAdapter.Recv(ctx)
	if err != nil {
		time.Sleep(50 * time.Millisecond)
		la.returned.Store(true)
	}
	return pkt, err
}

// receiveAsync runs Receive in a background goroutine.
func receiveAsync(ctx context.Context, sock socket.Socket) <-chan fakeRecv {
	ch := make(chan fakeRecv, 1)
	go func() {
		pkt, err := sock.Receive(ctx)
		ch <- fakeRecv{pkt, err}
	}()
	return ch
}

// awaitResult waits for the result of [receiveAsync] or fails the test.
func awaitResult(t *testing.T, ch <-chan fakeRecv) fakeRecv {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Receive to return")
		return fakeRecv{}
	}
}

var (
	peerA = netip.MustParseAddrPort("10.0.0.1:1234")
	peerB = netip.MustParseAddrPort("10.0.0.2:1234")
)

func TestConn(t *testing.T) {
	t.Run("inbound packets are returned", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, &socket.Config{Logger: slogt.New(t), Protocol: "fake"})
		defer sock.Close()

		assert.Equal(t, fa.addr, sock.LocalAddr())

		resch := receiveAsync(context.Background(), sock)
		fa.inbound <- fakeRecv{pkt: packet.New(peerA, []byte("hello"))}
		res := awaitResult(t, resch)
		require.NoError(t, res.err)
		assert.True(t, packet.New(peerA, []byte("hello")).Equal(res.pkt))
	})

	t.Run("outbound packets are sent in order while receive keeps waiting", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, &socket.Config{Logger: slogt.New(t)})
		defer sock.Close()

		sender := sock.Sender()
		for _, value := range []string{"1", "2", "3"} {
			require.NoError(t, sender.Send(packet.New(peerA, []byte(value))))
		}

		resch := receiveAsync(context.Background(), sock)
		assert.Eventually(t, func() bool {
			return len(fa.sentPayloads()) == 3
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"1", "2", "3"}, fa.sentPayloads())

		select {
		case <-resch:
			t.Fatal("Receive returned after a successful send")
		case <-time.After(50 * time.Millisecond):
		}

		fa.inbound <- fakeRecv{pkt: packet.New(peerB, []byte("4"))}
		res := awaitResult(t, resch)
		require.NoError(t, res.err)
		assert.Equal(t, peerB, res.pkt.Addr())
	})

	t.Run("several senders share the same queue", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, nil)
		defer sock.Close()

		s1 := sock.Sender()
		s2 := s1.Clone()
		s3 := sock.Sender()
		require.NoError(t, s1.Send(packet.New(peerA, []byte("a"))))
		require.NoError(t, s2.Send(packet.New(peerA, []byte("b"))))
		require.NoError(t, s3.Send(packet.New(peerB, []byte("c"))))
		require.NoError(t, s1.Close())
		require.NoError(t, s2.Close())
		require.NoError(t, s3.Close())

		ctx, cancel := context.WithCancel(context.Background())
		resch := receiveAsync(ctx, sock)
		assert.Eventually(t, func() bool {
			return len(fa.sentPayloads()) == 3
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"a", "b", "c"}, fa.sentPayloads())

		cancel()
		res := awaitResult(t, resch)
		assert.ErrorIs(t, res.err, context.Canceled)
	})

	t.Run("concurrent senders preserve per-sender order", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, nil)
		defer sock.Close()

		const count = 100
		var wg sync.WaitGroup
		for _, peer := range []netip.AddrPort{peerA, peerB} {
			wg.Add(1)
			go func(sender *socket.MessageSender, peer netip.AddrPort) {
				defer wg.Done()
				defer sender.Close()
				for i := 0; i < count; i++ {
					assert.NoError(t, sender.Send(packet.New(peer, []byte{byte(i)})))
				}
			}(sock.Sender(), peer)
		}
		wg.Wait()

		ctx, cancel := context.WithCancel(context.Background())
		resch := receiveAsync(ctx, sock)
		assert.Eventually(t, func() bool {
			return len(fa.sentPayloads()) == 2*count
		}, 5*time.Second, 10*time.Millisecond)
		cancel()
		awaitResult(t, resch)

		fa.mu.Lock()
		defer fa.mu.Unlock()
		next := map[netip.AddrPort]byte{}
		for _, pkt := range fa.sent {
			assert.Equal(t, next[pkt.Addr()], pkt.Payload()[0])
			next[pkt.Addr()]++
		}
	})

	t.Run("a send failure is reported once and receive keeps working", func(t *testing.T) {
		fa := newFakeAdapter()
		expect := errors.New("mocked error")
		fa.setSendErr(peerA, expect)
		sock := socket.New(fa, &socket.Config{Logger: slogt.New(t)})
		defer sock.Close()

		require.NoError(t, sock.Sender().Send(packet.New(peerA, []byte("x"))))

		res := awaitResult(t, receiveAsync(context.Background(), sock))
		require.Error(t, res.err)
		assert.ErrorIs(t, res.err, expect)
		var sendErr *sockerr.SendError
		require.True(t, errors.As(res.err, &sendErr))
		assert.Equal(t, peerA, sendErr.Addr)
		assert.Nil(t, res.pkt)

		resch := receiveAsync(context.Background(), sock)
		fa.inbound <- fakeRecv{pkt: packet.New(peerB, []byte("y"))}
		res = awaitResult(t, resch)
		require.NoError(t, res.err)
		assert.Equal(t, "y", string(res.pkt.Payload()))
	})

	t.Run("a receive failure is reported and receive keeps working", func(t *testing.T) {
		fa := newFakeAdapter()
		expect := errors.New("mocked error")
		sock := socket.New(fa, &socket.Config{Logger: slogt.New(t)})
		defer sock.Close()

		resch := receiveAsync(context.Background(), sock)
		fa.inbound <- fakeRecv{err: expect}
		res := awaitResult(t, resch)
		assert.ErrorIs(t, res.err, expect)
		var recvErr *sockerr.RecvError
		assert.True(t, errors.As(res.err, &recvErr))

		resch = receiveAsync(context.Background(), sock)
		fa.inbound <- fakeRecv{pkt: packet.New(peerA, []byte("z"))}
		res = awaitResult(t, resch)
		require.NoError(t, res.err)
		assert.Equal(t, peerA, res.pkt.Addr())
	})

	t.Run("context cancellation interrupts receive", func(t *testing.T) {
		sock := socket.New(newFakeAdapter(), nil)
		defer sock.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		pkt, err := sock.Receive(ctx)
		assert.Nil(t, pkt)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("close interrupts receive and releases the adapter", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, nil)

		resch := receiveAsync(context.Background(), sock)
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, sock.Close())
		res := awaitResult(t, resch)
		assert.ErrorIs(t, res.err, net.ErrClosed)
		assert.True(t, fa.isClosed())

		// closing twice is fine
		assert.NoError(t, sock.Close())

		// receiving after close fails immediately
		_, err := sock.Receive(context.Background())
		assert.ErrorIs(t, err, net.ErrClosed)
	})

	t.Run("close waits for the reader goroutine", func(t *testing.T) {
		la := &lingeringAdapter{fakeAdapter: newFakeAdapter()}
		sock := socket.New(la, nil)

		resch := receiveAsync(context.Background(), sock)
		require.Eventually(t, func() bool { return la.calls.Load() > 0 }, time.Second, time.Millisecond)
		require.NoError(t, sock.Close())
		assert.True(t, la.returned.Load())
		res := awaitResult(t, resch)
		assert.ErrorIs(t, res.err, net.ErrClosed)
	})

	t.Run("no reader goroutine starts after close", func(t *testing.T) {
		la := &lingeringAdapter{fakeAdapter: newFakeAdapter()}
		sock := socket.New(la, nil)
		require.NoError(t, sock.Close())

		_, err := sock.Receive(context.Background())
		assert.ErrorIs(t, err, net.ErrClosed)
		assert.Equal(t, int64(0), la.calls.Load())
	})

	t.Run("senders fail after close", func(t *testing.T) {
		sock := socket.New(newFakeAdapter(), nil)
		before := sock.Sender()
		require.NoError(t, sock.Close())

		err := before.Send(packet.New(peerA, []byte("x")))
		assert.ErrorIs(t, err, sockerr.ErrQueueClosed)

		after := sock.Sender()
		assert.ErrorIs(t, after.Send(packet.New(peerA, nil)), sockerr.ErrQueueClosed)
		assert.ErrorIs(t, after.Clone().Send(packet.New(peerA, nil)), sockerr.ErrQueueClosed)
	})

	t.Run("closed sender fails", func(t *testing.T) {
		sock := socket.New(newFakeAdapter(), nil)
		defer sock.Close()

		sender := sock.Sender()
		require.NoError(t, sender.Close())
		assert.NoError(t, sender.Close())
		assert.ErrorIs(t, sender.Send(packet.New(peerA, nil)), sockerr.ErrQueueClosed)
	})
}
