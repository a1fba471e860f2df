//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UDP socket backend.
//

// Package udpsock implements a [socket.Socket] over raw UDP datagrams.
//
// Every datagram is a packet and every remote address is a peer: there
// is no session negotiation, thus a send to any address is attempted.
package udpsock

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/rbmk-project/rtsock/netipx"
	"github.com/rbmk-project/rtsock/packet"
	"github.com/rbmk-project/rtsock/sockerr"
	"github.com/rbmk-project/rtsock/socket"
)

// MaxPayloadSize is the maximum payload of a UDP-over-IPv4 datagram.
const MaxPayloadSize = 65507

// Listen binds a UDP socket according to the given [*Config] and returns
// the corresponding [*socket.Conn]. Failing to bind yields an error
// wrapping a [*sockerr.BindError].
func Listen(ctx context.Context, config *Config) (*socket.Conn, error) {
	if err := config.validate(); err != nil {
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

	ad := &adapter{
		buf:          make([]byte, MaxPayloadSize+1),
		laddr:        netipx.AddrToAddrPort(pconn.LocalAddr()),
		pconn:        pconn,
		writeTimeout: config.writeTimeout(),
	}
	return socket.New(ad, &socket.Config{Logger: config.Logger, Protocol: "udp"}), nil
}

// adapter implements [socket.Adapter] using a [net.PacketConn].
type adapter struct {
	// buf is the receive buffer, only used by Recv.
	buf []byte

	// laddr is the cached local address.
	laddr netip.AddrPort

	// pconn is the underlying packet conn.
	pconn net.PacketConn

	// writeTimeout bounds the time spent in Send.
	writeTimeout time.Duration
}

var _ socket.Adapter = &adapter{}

// farPast is a deadline in the past used to interrupt reads.
var farPast = time.Unix(1, 0)

// Recv implements [socket.Adapter].
func (ad *adapter) Recv(ctx context.Context) (*packet.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ad.pconn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		ad.pconn.SetReadDeadline(farPast)
	})
	defer stop()

	count, addr, err := ad.pconn.ReadFrom(ad.buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, net.ErrClosed) {
			return nil, ctxErr
		}
		return nil, err
	}
	payload := append([]byte{}, ad.buf[:count]...)
	return packet.New(netipx.AddrToAddrPort(addr), payload), nil
}

// Send implements [socket.Adapter].
func (ad *adapter) Send(ctx context.Context, payload []byte, addr netip.AddrPort) error {
	if len(payload) > MaxPayloadSize {
		return sockerr.ErrMessageTooLarge
	}
	deadline := time.Now().Add(ad.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ad.pconn.SetWriteDeadline(deadline)
	_, err := ad.pconn.WriteTo(payload, netipx.AddrPortToUDPAddr(addr))
	return err
}

// LocalAddr implements [socket.Adapter].
func (ad *adapter) LocalAddr() netip.AddrPort {
	return ad.laddr
}

// Close implements [socket.Adapter].
func (ad *adapter) Close() error {
	return ad.pconn.Close()
}
