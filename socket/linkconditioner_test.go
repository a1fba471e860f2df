// SPDX-License-Identifier: GPL-3.0-or-later

package socket_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/rbmk-project/rtsock/linkcond"
	"github.com/rbmk-project/rtsock/packet"
	"github.com/rbmk-project/rtsock/sockerr"
	"github.com/rbmk-project/rtsock/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lingeringSocket is a [socket.Socket] whose Receive takes a while
// to return after failing.
type lingeringSocket struct {
	socket.Socket
	calls    atomic.Int64
	returned atomic.Bool
}

func (ls *lingeringSocket) Receive(ctx context.Context) (*packet.Packet, error) {
	ls.calls.Add(1)
	pkt, err := ls.Socket.Receive(ctx)
	if err != nil {
		time.Sleep(50 * time.Millisecond)
		ls.returned.Store(true)
	}
	return pkt, err
}

func TestLinkConditioner(t *testing.T) {
	t.Run("perfect link is transparent", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, nil).WithLinkConditioner(linkcond.Perfect())
		defer sock.Close()

		assert.Equal(t, fa.addr, sock.LocalAddr())

		for _, value := range []string{"1", "2", "3"} {
			resch := receiveAsync(context.Background(), sock)
			fa.inbound <- fakeRecv{pkt: packet.New(peerA, []byte(value))}
			res := awaitResult(t, resch)
			require.NoError(t, res.err)
			assert.Equal(t, value, string(res.pkt.Payload()))
		}
	})

	t.Run("full loss never yields packets", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.NewLinkConditioner(
			socket.New(fa, nil),
			&linkcond.Config{IncomingLoss: 1},
			&socket.LinkConditionerConfig{Logger: slogt.New(t)},
		)
		defer sock.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resch := receiveAsync(ctx, sock)
		for i := 0; i < 5; i++ {
			fa.inbound <- fakeRecv{pkt: packet.New(peerA, []byte("x"))}
		}
		res := awaitResult(t, resch)
		assert.Nil(t, res.pkt)
		assert.ErrorIs(t, res.err, context.DeadlineExceeded)
	})

	t.Run("latency delays delivery", func(t *testing.T) {
		const latency = 100 * time.Millisecond
		fa := newFakeAdapter()
		sock := socket.New(fa, nil).WithLinkConditioner(&linkcond.Config{IncomingLatency: latency})
		defer sock.Close()

		resch := receiveAsync(context.Background(), sock)
		t0 := time.Now()
		fa.inbound <- fakeRecv{pkt: packet.New(peerA, []byte("late"))}
		res := awaitResult(t, resch)
		require.NoError(t, res.err)
		assert.Equal(t, "late", string(res.pkt.Payload()))
		assert.GreaterOrEqual(t, time.Since(t0), latency-10*time.Millisecond)
	})

	t.Run("outbound packets flow through the wrapped socket", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, nil).WithLinkConditioner(linkcond.Poor())
		defer sock.Close()

		require.NoError(t, sock.Sender().Send(packet.New(peerB, []byte("out"))))

		ctx, cancel := context.WithCancel(context.Background())
		resch := receiveAsync(ctx, sock)
		assert.Eventually(t, func() bool {
			return len(fa.sentPayloads()) == 1
		}, 5*time.Second, 10*time.Millisecond)
		cancel()
		awaitResult(t, resch)
	})

	t.Run("errors of the wrapped socket pass through", func(t *testing.T) {
		fa := newFakeAdapter()
		expect := errors.New("mocked error")
		fa.setSendErr(peerA, expect)
		sock := socket.New(fa, nil).WithLinkConditioner(linkcond.Perfect())
		defer sock.Close()

		require.NoError(t, sock.Sender().Send(packet.New(peerA, []byte("x"))))
		res := awaitResult(t, receiveAsync(context.Background(), sock))
		var sendErr *sockerr.SendError
		require.True(t, errors.As(res.err, &sendErr))
		assert.Equal(t, peerA, sendErr.Addr)
	})

	t.Run("conditioners can be chained", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, nil).
			WithLinkConditioner(linkcond.Perfect()).
			WithLinkConditioner(linkcond.Perfect())

		resch := receiveAsync(context.Background(), sock)
		fa.inbound <- fakeRecv{pkt: packet.New(peerA, []byte("chained"))}
		res := awaitResult(t, resch)
		require.NoError(t, res.err)
		assert.Equal(t, "chained", string(res.pkt.Payload()))

		require.NoError(t, sock.Close())
		assert.True(t, fa.isClosed())
	})

	t.Run("close interrupts receive", func(t *testing.T) {
		fa := newFakeAdapter()
		sock := socket.New(fa, nil).WithLinkConditioner(linkcond.Average())

		resch := receiveAsync(context.Background(), sock)
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, sock.Close())
		res := awaitResult(t, resch)
		assert.ErrorIs(t, res.err, net.ErrClosed)
		assert.True(t, fa.isClosed())
		assert.NoError(t, sock.Close())
	})

	t.Run("close waits for the pump goroutine", func(t *testing.T) {
		inner := &lingeringSocket{Socket: socket.New(newFakeAdapter(), nil)}
		sock := socket.NewLinkConditioner(inner, linkcond.Perfect(), &socket.LinkConditionerConfig{Logger: slogt.New(t)})

		resch := receiveAsync(context.Background(), sock)
		require.Eventually(t, func() bool { return inner.calls.Load() > 0 }, time.Second, time.Millisecond)
		require.NoError(t, sock.Close())
		assert.True(t, inner.returned.Load())
		res := awaitResult(t, resch)
		assert.ErrorIs(t, res.err, net.ErrClosed)
	})

	t.Run("no pump goroutine starts after close", func(t *testing.T) {
		inner := &lingeringSocket{Socket: socket.New(newFakeAdapter(), nil)}
		sock := socket.NewLinkConditioner(inner, linkcond.Perfect(), nil)
		require.NoError(t, sock.Close())

		_, err := sock.Receive(context.Background())
		assert.ErrorIs(t, err, net.ErrClosed)
		assert.Equal(t, int64(0), inner.calls.Load())
	})

	t.Run("invalid config panics", func(t *testing.T) {
		sock := socket.New(newFakeAdapter(), nil)
		defer sock.Close()
		assert.Panics(t, func() {
			sock.WithLinkConditioner(&linkcond.Config{IncomingLoss: 2})
		})
	})
}
