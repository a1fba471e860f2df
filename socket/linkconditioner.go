//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Link conditioner decorator.
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

	"github.com/rbmk-project/rtsock/linkcond"
	"github.com/rbmk-project/rtsock/packet"
)

// LinkConditionerConfig contains optional settings for a [*LinkConditioner].
//
// The zero value is ready to use.
type LinkConditionerConfig struct {
	// Logger is the optional structured logger. If nil, we
	// do not emit structured logs.
	Logger *slog.Logger

	// Rand is the optional source of randomness. If nil, we
	// use a [*rand.Rand] seeded by the runtime.
	Rand linkcond.Rand

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time
}

// LinkConditioner is a [Socket] wrapping another [Socket] and
// dropping, delaying, and reordering its inbound packets.
//
// Outbound packets are not conditioned: [*LinkConditioner.Sender]
// returns a sender bound to the wrapped [Socket].
//
// Construct using [NewLinkConditioner] or [Socket.WithLinkConditioner].
type LinkConditioner struct {
	// cancel cancels the pump context.
	cancel context.CancelFunc

	// cond is the holding area.
	cond *linkcond.Conditioner[*packet.Packet]

	// config contains the optional settings.
	config LinkConditionerConfig

	// ctx is the pump context.
	ctx context.Context

	// eof unblocks any blocking operation when closed.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// inner is the wrapped socket.
	inner Socket

	// pump receives the results of the wrapped socket.
	pump chan recvResult

	// pumpOnce ensures we start the pump goroutine at most once.
	// Close consumes it, thus no pump starts after Close.
	pumpOnce sync.Once

	// recvmu serializes calls to Receive and protects cond.
	recvmu sync.Mutex

	// wg tracks the pump goroutine.
	wg sync.WaitGroup
}

var _ Socket = &LinkConditioner{}

// NewLinkConditioner creates a [*LinkConditioner] that takes ownership of
// the given [Socket] and conditions it according to the [*linkcond.Config].
//
// A nil [*LinkConditionerConfig] is equivalent to a zero one.
//
// This function panics if the [*linkcond.Config] is not valid.
func NewLinkConditioner(inner Socket, config *linkcond.Config, settings *LinkConditionerConfig) *LinkConditioner {
	if err := config.Validate(); err != nil {
		panic(err)
	}
	if settings == nil {
		settings = &LinkConditionerConfig{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LinkConditioner{
		cancel: cancel,
		cond:   linkcond.New[*packet.Packet](config, settings.Rand),
		config: *settings,
		ctx:    ctx,
		eof:    make(chan struct{}),
		inner:  inner,
		pump:   make(chan recvResult),
	}
}

// timeNow returns the current time.
func (lc *LinkConditioner) timeNow() time.Time {
	if lc.config.TimeNow != nil {
		return lc.config.TimeNow()
	}
	return time.Now()
}

// LocalAddr implements [Socket].
func (lc *LinkConditioner) LocalAddr() netip.AddrPort {
	return lc.inner.LocalAddr()
}

// Sender implements [Socket].
func (lc *LinkConditioner) Sender() *MessageSender {
	return lc.inner.Sender()
}

// WithLinkConditioner implements [Socket].
func (lc *LinkConditioner) WithLinkConditioner(config *linkcond.Config) Socket {
	return NewLinkConditioner(lc, config, &lc.config)
}

// Close implements [Socket]. It also closes the wrapped [Socket] and
// returns once the pump goroutine, if any, has exited.
func (lc *LinkConditioner) Close() (err error) {
	lc.eofOnce.Do(func() {
		close(lc.eof)
		lc.pumpOnce.Do(func() {})
		lc.cancel()
		err = lc.inner.Close()
		lc.wg.Wait()
	})
	return
}

// startPump starts the pump goroutine.
func (lc *LinkConditioner) startPump() {
	lc.wg.Add(1)
	go lc.pumpLoop()
}

// pumpLoop moves the results of the wrapped socket's Receive
// to the pump channel until closed.
func (lc *LinkConditioner) pumpLoop() {
	defer lc.wg.Done()
	for {
		pkt, err := lc.inner.Receive(lc.ctx)
		select {
		case lc.pump <- recvResult{pkt, err}:
		case <-lc.eof:
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
func (lc *LinkConditioner) Receive(ctx context.Context) (*packet.Packet, error) {
	lc.recvmu.Lock()
	defer lc.recvmu.Unlock()

	lc.pumpOnce.Do(lc.startPump)

	for {
		now := lc.timeNow()
		if pkt, found := lc.cond.Pop(now); found {
			return pkt, nil
		}

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if next, found := lc.cond.NextRelease(); found {
			timer = time.NewTimer(next.Sub(now))
			timerC = timer.C
		}

		pkt, err := lc.wait(ctx, timerC)
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return nil, err
		}
		if pkt != nil {
			lc.offer(ctx, pkt)
		}
	}
}

// wait waits for the next event. It returns a nil packet and a nil
// error when the release timer expired.
func (lc *LinkConditioner) wait(ctx context.Context, timerC <-chan time.Time) (*packet.Packet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-lc.eof:
		return nil, net.ErrClosed

	case res := <-lc.pump:
		return res.pkt, res.err

	case <-timerC:
		return nil, nil
	}
}

// offer hands an inbound packet to the holding area.
func (lc *LinkConditioner) offer(ctx context.Context, pkt *packet.Packet) {
	now := lc.timeNow()
	if !lc.cond.Offer(now, pkt) && lc.config.Logger != nil {
		lc.config.Logger.DebugContext(
			ctx,
			"linkConditionerDrop",
			slog.String("localAddr", lc.inner.LocalAddr().String()),
			slog.String("remoteAddr", pkt.Addr().String()),
			slog.Int("ioBytesCount", len(pkt.Payload())),
			slog.Time("t", now),
		)
	}
}
