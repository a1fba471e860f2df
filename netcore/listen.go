//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Packet conn and stream listeners and bind-time port probe.
//

package netcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/rbmk-project/rtsock/errclass"
	"github.com/rbmk-project/rtsock/sockerr"
)

// PortRange is a range of ports including First and excluding Last.
type PortRange struct {
	First uint16 `yaml:"first"`
	Last  uint16 `yaml:"last"`
}

// DefaultPortRange is the range scanned by [*Network.ProbeListenPacket]
// when the caller does not specify a range.
var DefaultPortRange = PortRange{First: 8000, Last: 9000}

// String returns the string representation of the range.
func (pr PortRange) String() string {
	return fmt.Sprintf("[%d, %d)", pr.First, pr.Last)
}

// ErrEmptyPortRange indicates that a [PortRange] contains no ports.
var ErrEmptyPortRange = errors.New("empty port range")

// ListenPacket creates a new [net.PacketConn] bound to the given address.
func (nx *Network) ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	t0 := nx.emitListenStart(ctx, network, address)
	pconn, err := nx.doListenPacket(ctx, network, address)
	var laddr net.Addr
	if pconn != nil {
		laddr = pconnLocalAddr(pconn)
	}
	nx.emitListenDone(ctx, network, address, t0, laddr, err)
	if err != nil {
		return nil, err
	}
	return nx.maybeWrapPacketConn(ctx, pconn), nil
}

// Listen creates a new stream [net.Listener] bound to the given address.
func (nx *Network) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	t0 := nx.emitListenStart(ctx, network, address)
	listener, err := nx.doListen(ctx, network, address)
	var laddr net.Addr
	if listener != nil {
		laddr = listener.Addr()
	}
	nx.emitListenDone(ctx, network, address, t0, laddr, err)
	if err != nil {
		return nil, err
	}
	return listener, nil
}

// doListen creates the [net.Listener].
func (nx *Network) doListen(ctx context.Context, network, address string) (net.Listener, error) {
	if nx.ListenFunc != nil {
		return nx.ListenFunc(ctx, network, address)
	}
	lc := &net.ListenConfig{}
	return lc.Listen(ctx, network, address)
}

// doListenPacket creates the [net.PacketConn].
func (nx *Network) doListenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	if nx.ListenPacketFunc != nil {
		return nx.ListenPacketFunc(ctx, network, address)
	}
	lc := &net.ListenConfig{}
	return lc.ListenPacket(ctx, network, address)
}

// ProbeListenPacket binds the first available port of the given range in
// ascending order and returns the bound [net.PacketConn]. We keep the socket
// open, thus no other process can steal the port between probe and use.
//
// On failure, the returned error is a [*sockerr.BindError] wrapping the
// error that occurred when binding the last port of the range.
func (nx *Network) ProbeListenPacket(
	ctx context.Context, network string, addr netip.Addr, ports PortRange) (net.PacketConn, error) {
	var pconn net.PacketConn
	err := probePorts(ctx, addr, ports, func(endpoint string) (err error) {
		pconn, err = nx.ListenPacket(ctx, network, endpoint)
		return
	})
	if err != nil {
		return nil, err
	}
	return pconn, nil
}

// ProbeListenPacketAndListener is like [*Network.ProbeListenPacket] but
// binds a UDP socket and a TCP listener sharing the same port. A port
// counts as available only when both binds succeed: when the TCP bind
// fails, we close the UDP socket and move on to the next port.
func (nx *Network) ProbeListenPacketAndListener(
	ctx context.Context, addr netip.Addr, ports PortRange) (net.PacketConn, net.Listener, error) {
	var (
		pconn    net.PacketConn
		listener net.Listener
	)
	err := probePorts(ctx, addr, ports, func(endpoint string) error {
		pc, err := nx.ListenPacket(ctx, "udp", endpoint)
		if err != nil {
			return err
		}
		ln, err := nx.Listen(ctx, "tcp", endpoint)
		if err != nil {
			pc.Close()
			return err
		}
		pconn, listener = pc, ln
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pconn, listener, nil
}

// probePorts calls bind for each port of the range in ascending order
// until bind succeeds, and returns a [*sockerr.BindError] otherwise.
func probePorts(ctx context.Context, addr netip.Addr, ports PortRange, bind func(endpoint string) error) error {
	bindAddr := fmt.Sprintf("%s:%s", addr, ports)
	if ports.First >= ports.Last {
		return &sockerr.BindError{Address: bindAddr, Err: ErrEmptyPortRange}
	}
	var lastErr error
	for port := ports.First; port < ports.Last; port++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		err := bind(netip.AddrPortFrom(addr, port).String())
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return &sockerr.BindError{Address: bindAddr, Err: lastErr}
}

// emitListenStart emits a structured event before listening.
func (nx *Network) emitListenStart(ctx context.Context, network, address string) time.Time {
	t0 := nx.timeNow()
	if nx.Logger != nil {
		nx.Logger.InfoContext(
			ctx,
			"listenStart",
			slog.String("localAddr", address),
			slog.String("protocol", network),
			slog.Time("t", t0),
		)
	}
	return t0
}

// emitListenDone emits a structured event after listening.
func (nx *Network) emitListenDone(ctx context.Context,
	network, address string, t0 time.Time, laddr net.Addr, err error) {
	if nx.Logger != nil {
		if laddr != nil {
			address = laddr.String()
		}
		nx.Logger.InfoContext(
			ctx,
			"listenDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("localAddr", address),
			slog.String("protocol", network),
			slog.Time("t0", t0),
			slog.Time("t", nx.timeNow()),
		)
	}
}
