//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Socket event loop.
//

package socket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/rtsock/errclass"
	"github.com/rbmk-project/rtsock/linkcond"
	"github.com/rbmk-project/rtsock/mpscq"
	"github.com/rbmk-project/rtsock/packet"
	"github.com/rbmk-project/rtsock/sockerr"
)

// Config contains optional settings for a [*Conn].
//
// The zero value is ready to use.
type Config struct {
	// Logger is the optional structured logger for emitting
	// structured diagnostic events. If this field is nil, we
	// will not be emitting structured logs.
	Logger *slog.Logger

	// Protocol is the optional protocol name used in logs.
	Protocol string

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time
}

// recvResult is the result of [Adapter.Recv].
type recvResult struct {
	pkt *packet.Packet
	err error
}

// Conn is the [Socket] implementation wrapping an [Adapter].
//
// Construct using [New].
type Conn struct {
	// adapter is the transport adapter.
	adapter Adapter

	// config contains the optional settings.
	config Config

	// eof unblocks any blocking operation when the conn is closed.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// inbound receives the results of the reader goroutine.
	inbound chan recvResult

	// laddr is the cached local address.
	laddr netip.AddrPort

	// queue is the consumer side of the outbound queue.
	queue *mpscq.Queue[*packet.Packet]

	// readerOnce ensures we start the reader goroutine at most once.
	// Close consumes it, thus no reader starts after Close.
	readerOnce sync.Once

	// recvmu serializes calls to Receive.
	recvmu sync.Mutex

	// self is the sender owned by the conn itself, which keeps
	// the queue alive for the whole lifetime of the conn.
	self *MessageSender

	// wg tracks the reader goroutine.
	wg sync.WaitGroup
}

var _ Socket = &Conn{}

// New creates a new [*Conn] owning the given [Adapter].
//
// A nil [*Config] is equivalent to a zero [Config].
func New(adapter Adapter, config *Config) *Conn {
	if config == nil {
		config = &Config{}
	}
	return newConnWithQueue(adapter, config, mpscq.New[*packet.Packet]())
}

// newConnWithQueue is like [New] but uses the given queue.
func newConnWithQueue(adapter Adapter, config *Config, queue *mpscq.Queue[*packet.Packet]) *Conn {
	c := &Conn{
		adapter: adapter,
		config:  *config,
		eof:     make(chan struct{}),
		inbound: make(chan recvResult),
		laddr:   adapter.LocalAddr(),
		queue:   queue,
	}
	c.self = newMessageSender(queue)
	return c
}

// timeNow returns the current time.
func (c *Conn) timeNow() time.Time {
	if c.config.TimeNow != nil {
		return c.config.TimeNow()
	}
	return time.Now()
}

// LocalAddr implements [Socket].
func (c *Conn) LocalAddr() netip.AddrPort {
	return c.laddr
}

// Sender implements [Socket].
func (c *Conn) Sender() *MessageSender {
	return newMessageSender(c.queue)
}

// WithLinkConditioner implements [Socket].
func (c *Conn) WithLinkConditioner(config *linkcond.Config) Socket {
	return NewLinkConditioner(c, config, &LinkConditionerConfig{
		Logger:  c.config.Logger,
		TimeNow: c.config.TimeNow,
	})
}

// Close implements [Socket]. It returns once the reader goroutine,
// if any, has stopped calling [Adapter.Recv].
func (c *Conn) Close() (err error) {
	c.eofOnce.Do(func() {
		close(c.eof)
		c.readerOnce.Do(func() {})
		c.queue.Close()
		c.self.Close()
		err = c.adapter.Close()
		c.wg.Wait()
	})
	return
}

// startReader starts the reader goroutine.
func (c *Conn) startReader() {
	c.wg.Add(1)
	go c.readLoop()
}

// isClosed returns whether Close has been called.
func (c *Conn) isClosed() bool {
	select {
	case <-c.eof:
		return true
	default:
		return false
	}
}

// readLoop moves the results of [Adapter.Recv] to the inbound channel
// until the conn is closed or the adapter is closed.
func (c *Conn) readLoop() {
	defer c.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.eof:
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		pkt, err := c.adapter.Recv(ctx)
		select {
		case c.inbound <- recvResult{pkt, err}:
		case <-c.eof:
			return
		}
		if errors.Is(err, net.ErrClosed) {
			return
		}
	}
}

// Receive implements [Socket].
//
// Concurrent calls are serialized.
func (c *Conn) Receive(ctx context.Context) (*packet.Packet, error) {
	c.recvmu.Lock()
	defer c.recvmu.Unlock()

	c.readerOnce.Do(c.startReader)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-c.eof:
			return nil, net.ErrClosed

		case res := <-c.inbound:
			return c.onInbound(ctx, res)

		case <-c.queue.Ready():
			pkt, found := c.queue.Pop()
			if !found {
				if c.isClosed() {
					return nil, net.ErrClosed
				}
				runtimex.Assert(!c.queue.ProducersGone(), "socket: outbound queue producers gone")
				continue
			}
			if err := c.send(ctx, pkt); err != nil {
				return nil, err
			}
		}
	}
}

// onInbound processes the result of [Adapter.Recv].
func (c *Conn) onInbound(ctx context.Context, res recvResult) (*packet.Packet, error) {
	if res.err != nil {
		err := &sockerr.RecvError{Err: res.err}
		if c.config.Logger != nil {
			c.config.Logger.InfoContext(
				ctx,
				"receiveDone",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.String("localAddr", c.laddr.String()),
				slog.String("protocol", c.config.Protocol),
				slog.Time("t", c.timeNow()),
			)
		}
		return nil, err
	}
	if c.config.Logger != nil {
		c.config.Logger.DebugContext(
			ctx,
			"receiveDone",
			slog.Int("ioBytesCount", len(res.pkt.Payload())),
			slog.String("localAddr", c.laddr.String()),
			slog.String("protocol", c.config.Protocol),
			slog.String("remoteAddr", res.pkt.Addr().String()),
			slog.Time("t", c.timeNow()),
		)
	}
	return res.pkt, nil
}

// send hands an outbound packet to the [Adapter].
func (c *Conn) send(ctx context.Context, pkt *packet.Packet) error {
	t0 := c.timeNow()
	if c.config.Logger != nil {
		c.config.Logger.DebugContext(
			ctx,
			"sendStart",
			slog.Int("ioBufferSize", len(pkt.Payload())),
			slog.String("localAddr", c.laddr.String()),
			slog.String("protocol", c.config.Protocol),
			slog.String("remoteAddr", pkt.Addr().String()),
			slog.Time("t", t0),
		)
	}

	err := c.adapter.Send(ctx, pkt.Payload(), pkt.Addr())

	if c.config.Logger != nil {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelInfo
		}
		c.config.Logger.Log(
			ctx,
			level,
			"sendDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("localAddr", c.laddr.String()),
			slog.String("protocol", c.config.Protocol),
			slog.String("remoteAddr", pkt.Addr().String()),
			slog.Time("t0", t0),
			slog.Time("t", c.timeNow()),
		)
	}

	if err != nil {
		return &sockerr.SendError{Addr: pkt.Addr(), Err: err}
	}
	return nil
}
