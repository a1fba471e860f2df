//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// QUIC datagram socket backend.
//

// Package quicsock implements a [socket.Socket] over unreliable QUIC
// datagrams (RFC 9221).
//
// The QUIC handshake is the session negotiation: once a peer completes
// it, the peer is identified by its remote UDP address, and stays so
// until the connection closes or becomes idle.
package quicsock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rbmk-project/rtsock/closepool"
	"github.com/rbmk-project/rtsock/errclass"
	"github.com/rbmk-project/rtsock/netipx"
	"github.com/rbmk-project/rtsock/packet"
	"github.com/rbmk-project/rtsock/sockerr"
	"github.com/rbmk-project/rtsock/socket"
)

// inboundQueueSize is the size of the inbound datagrams queue.
const inboundQueueSize = 128

// Listen binds a UDP socket, starts accepting QUIC connections, and
// returns the corresponding [*socket.Conn]. Failing to bind yields an
// error wrapping a [*sockerr.BindError].
func Listen(ctx context.Context, config *Config) (*socket.Conn, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	tlsConf, err := config.tlsConfig(time.Now())
	if err != nil {
		return nil, err
	}
	netx := config.network()

	bindAddr, err := netx.ResolveAddrPort(ctx, config.Address)
	if err != nil {
		return nil, &sockerr.BindError{Address: config.Address, Err: err}
	}

	var pconn net.PacketConn
	switch bindAddr.Port() {
	case 0:
		pconn, err = netx.ProbeListenPacket(ctx, "udp", bindAddr.Addr(), config.portRange())
	default:
		pconn, err = netx.ListenPacket(ctx, "udp", bindAddr.String())
		if err != nil {
			err = &sockerr.BindError{Address: bindAddr.String(), Err: err}
		}
	}
	if err != nil {
		return nil, err
	}

	// We are using a quic Transport directly since we own the socket.
	pool := &closepool.Pool{}
	pool.Add(pconn)
	tr := &quic.Transport{Conn: pconn}
	pool.Add(tr)
	ln, err := tr.Listen(tlsConf, config.quicConfig())
	if err != nil {
		pool.Close()
		return nil, err
	}

	actx, cancel := context.WithCancel(context.Background())
	ad := &adapter{
		cancel:  cancel,
		ctx:     actx,
		inbound: make(chan *packet.Packet, inboundQueueSize),
		laddr:   netipx.AddrToAddrPort(pconn.LocalAddr()),
		logger:  config.Logger,
		peers:   make(map[netip.AddrPort]quic.Connection),
		pool:    pool,
	}
	pool.AddFunc(ad.closePeers)
	pool.Add(ln)

	ad.wg.Add(1)
	go ad.acceptLoop(ln)

	return socket.New(ad, &socket.Config{Logger: config.Logger, Protocol: "quic"}), nil
}

// adapter implements [socket.Adapter] for QUIC datagrams.
type adapter struct {
	// cancel cancels ctx.
	cancel context.CancelFunc

	// ctx is canceled by Close.
	ctx context.Context

	// inbound receives datagrams from all the connections.
	inbound chan *packet.Packet

	// laddr is the bound UDP address.
	laddr netip.AddrPort

	// logger is the possibly nil logger.
	logger *slog.Logger

	// mu protects peers.
	mu sync.Mutex

	// peers maps remote addresses to established connections.
	peers map[netip.AddrPort]quic.Connection

	// pool contains the resources to release on Close.
	pool *closepool.Pool

	// wg tracks the background goroutines.
	wg sync.WaitGroup
}

var _ socket.Adapter = &adapter{}

// acceptLoop accepts connections until the listener is closed.
func (ad *adapter) acceptLoop(ln *quic.Listener) {
	defer ad.wg.Done()
	for {
		qconn, err := ln.Accept(ad.ctx)
		if err != nil {
			return
		}
		addr := netipx.AddrToAddrPort(qconn.RemoteAddr())

		ad.mu.Lock()
		stale := ad.peers[addr]
		ad.peers[addr] = qconn
		ad.mu.Unlock()
		if stale != nil {
			stale.CloseWithError(0, "replaced")
		}

		ad.log(slog.LevelInfo, "quicSessionOpen",
			slog.String("localAddr", ad.laddr.String()),
			slog.String("remoteAddr", addr.String()),
		)
		ad.wg.Add(1)
		go ad.readLoop(addr, qconn)
	}
}

// readLoop moves the connection datagrams to the inbound channel
// and unregisters the connection when it fails.
func (ad *adapter) readLoop(addr netip.AddrPort, qconn quic.Connection) {
	defer ad.wg.Done()
	for {
		data, err := qconn.ReceiveDatagram(ad.ctx)
		if err != nil {
			ad.mu.Lock()
			if ad.peers[addr] == qconn {
				delete(ad.peers, addr)
			}
			ad.mu.Unlock()
			qconn.CloseWithError(0, "")
			ad.log(slog.LevelInfo, "quicSessionClose",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.String("remoteAddr", addr.String()),
			)
			return
		}
		select {
		case ad.inbound <- packet.New(addr, data):
		case <-ad.ctx.Done():
			return
		}
	}
}

// closePeers closes all the connections.
func (ad *adapter) closePeers() error {
	ad.mu.Lock()
	peers := ad.peers
	ad.peers = make(map[netip.AddrPort]quic.Connection)
	ad.mu.Unlock()
	for _, qconn := range peers {
		qconn.CloseWithError(0, "closing")
	}
	return nil
}

// Recv implements [socket.Adapter].
func (ad *adapter) Recv(ctx context.Context) (*packet.Packet, error) {
	select {
	case pkt := <-ad.inbound:
		return pkt, nil
	case <-ad.ctx.Done():
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements [socket.Adapter].
//
// The connection queues the datagram, so Send does not wait for
// the network.
func (ad *adapter) Send(ctx context.Context, payload []byte, addr netip.AddrPort) error {
	ad.mu.Lock()
	qconn := ad.peers[addr]
	ad.mu.Unlock()
	if qconn == nil {
		return sockerr.ErrNoSession
	}
	err := qconn.SendDatagram(payload)
	var tooLarge *quic.DatagramTooLargeError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: %w", sockerr.ErrMessageTooLarge, err)
	}
	return err
}

// LocalAddr implements [socket.Adapter].
func (ad *adapter) LocalAddr() netip.AddrPort {
	return ad.laddr
}

// Close implements [socket.Adapter].
func (ad *adapter) Close() error {
	ad.cancel()
	err := ad.pool.Close()
	ad.wg.Wait()
	return err
}

func (ad *adapter) log(level slog.Level, msg string, attrs ...slog.Attr) {
	if ad.logger != nil {
		ad.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
