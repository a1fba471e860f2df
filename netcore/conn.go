//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
//
// PacketConn wrapper.
//

package netcore

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rbmk-project/rtsock/errclass"
)

// pconnLocalAddr is a safe way to get the local address of a connection.
func pconnLocalAddr(conn net.PacketConn) net.Addr {
	if conn != nil && conn.LocalAddr() != nil {
		return conn.LocalAddr()
	}
	return emptyAddr{}
}

// safeAddrString is a safe way to get the string of a possibly nil address.
func safeAddrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// emptyAddr is an empty [net.Addr].
type emptyAddr struct{}

// Network implements [net.Addr].
func (emptyAddr) Network() string { return "" }

// String implements [net.Addr].
func (emptyAddr) String() string { return "" }

// maybeWrapPacketConn wraps a connection when it makes sense to do so.
func (nx *Network) maybeWrapPacketConn(ctx context.Context, conn net.PacketConn) net.PacketConn {
	if conn != nil && nx.Logger != nil && nx.WrapPacketConn != nil {
		conn = nx.WrapPacketConn(ctx, nx, conn)
	}
	return conn
}

// WrapPacketConn wraps a given [net.PacketConn] to emit structured logs.
func WrapPacketConn(ctx context.Context, netx *Network, conn net.PacketConn) net.PacketConn {
	laddr := pconnLocalAddr(conn)
	return &packetConnWrapper{
		ctx:      ctx,
		conn:     conn,
		laddr:    laddr.String(),
		netx:     netx,
		protocol: laddr.Network(),
	}
}

// packetConnWrapper wraps a [net.PacketConn].
type packetConnWrapper struct {
	ctx       context.Context // only used for logging
	closeonce sync.Once
	conn      net.PacketConn
	laddr     string
	netx      *Network // may contain nil logger!
	protocol  string
}

// Close implements [net.PacketConn].
func (c *packetConnWrapper) Close() (err error) {
	c.closeonce.Do(func() {
		t0 := c.netx.timeNow()
		if c.netx.Logger != nil {
			c.netx.Logger.InfoContext(
				c.ctx,
				"closeStart",
				slog.String("localAddr", c.laddr),
				slog.String("protocol", c.protocol),
				slog.Time("t", t0),
			)
		}

		err = c.conn.Close()

		if c.netx.Logger != nil {
			c.netx.Logger.InfoContext(
				c.ctx,
				"closeDone",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.String("localAddr", c.laddr),
				slog.String("protocol", c.protocol),
				slog.Time("t0", t0),
				slog.Time("t", c.netx.timeNow()),
			)
		}
	})
	return
}

// LocalAddr implements [net.PacketConn].
func (c *packetConnWrapper) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// ReadFrom implements [net.PacketConn].
func (c *packetConnWrapper) ReadFrom(buf []byte) (int, net.Addr, error) {
	t0 := c.netx.timeNow()
	if c.netx.Logger != nil {
		c.netx.Logger.DebugContext(
			c.ctx,
			"readFromStart",
			slog.Int("ioBufferSize", len(buf)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.Time("t", t0),
		)
	}

	count, addr, err := c.conn.ReadFrom(buf)

	if c.netx.Logger != nil {
		c.netx.Logger.DebugContext(
			c.ctx,
			"readFromDone",
			slog.Int("ioBytesCount", count),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", safeAddrString(addr)),
			slog.Time("t0", t0),
			slog.Time("t", c.netx.timeNow()),
		)
	}

	return count, addr, err
}

// SetDeadline implements [net.PacketConn].
func (c *packetConnWrapper) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.PacketConn].
func (c *packetConnWrapper) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.PacketConn].
func (c *packetConnWrapper) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// WriteTo implements [net.PacketConn].
func (c *packetConnWrapper) WriteTo(data []byte, addr net.Addr) (int, error) {
	raddr := safeAddrString(addr)
	t0 := c.netx.timeNow()
	if c.netx.Logger != nil {
		c.netx.Logger.DebugContext(
			c.ctx,
			"writeToStart",
			slog.Int("ioBufferSize", len(data)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", raddr),
			slog.Time("t", t0),
		)
	}

	count, err := c.conn.WriteTo(data, addr)

	if c.netx.Logger != nil {
		c.netx.Logger.DebugContext(
			c.ctx,
			"writeToDone",
			slog.Int("ioBytesCount", count),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", raddr),
			slog.Time("t0", t0),
			slog.Time("t", c.netx.timeNow()),
		)
	}

	return count, err
}
