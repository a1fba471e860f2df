//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UDP port implementation.
//

package netsim

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

// PortAddr is the [*UDPConn] address.
type PortAddr struct {
	// LocalAddr is the local address. This field must
	// always have valid address and port.
	LocalAddr netip.AddrPort

	// RemoteAddr is the remote address. This field
	// is zero for non-connected ports.
	RemoteAddr netip.AddrPort
}

// String returns the string representation of the [PortAddr].
func (pa PortAddr) String() string {
	raddr := pa.RemoteAddr.String()
	if !pa.RemoteAddr.IsValid() {
		raddr = "*:*"
	}
	return fmt.Sprintf("%s -> %s udp", pa.LocalAddr, raddr)
}

// portInputQueue is the number of datagrams a port buffers
// before dropping, like a kernel socket receive buffer.
const portInputQueue = 128

// UDPConn models an open UDP port.
//
// The zero value is invalid; obtain using [*Stack.ListenPacket]
// or [*Stack.DialContext].
type UDPConn struct {
	// addr contains the port address.
	addr PortAddr

	// eof unblocks any pending I/O.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// input is the channel where we receive datagrams.
	input chan *Datagram

	// rd is the deadline for read operations.
	rd *deadline

	// stack is the underlying net stack.
	stack *Stack

	// wd is the deadline for write operations.
	wd *deadline
}

var (
	_ net.PacketConn = &UDPConn{}
	_ net.Conn       = &UDPConn{}
)

// newUDPConn creates a [*UDPConn] instance with the given [PortAddr].
func newUDPConn(stack *Stack, addr PortAddr) *UDPConn {
	return &UDPConn{
		addr:  addr,
		eof:   make(chan struct{}),
		input: make(chan *Datagram, portInputQueue),
		rd:    newDeadline(),
		stack: stack,
		wd:    newDeadline(),
	}
}

// Close closes the [*UDPConn] terminating any pending I/O.
func (c *UDPConn) Close() error {
	c.eofOnce.Do(func() {
		c.stack.closePort(c.addr)
		close(c.eof)
		c.rd.Set(time.Time{})
		c.wd.Set(time.Time{})
	})
	return nil
}

// LocalAddr implements [net.PacketConn].
func (c *UDPConn) LocalAddr() net.Addr {
	return &Addr{c.addr.LocalAddr}
}

// RemoteAddr implements [net.Conn].
func (c *UDPConn) RemoteAddr() net.Addr {
	return &Addr{c.addr.RemoteAddr}
}

// SetDeadline implements [net.PacketConn].
func (c *UDPConn) SetDeadline(t time.Time) error {
	c.rd.Set(t)
	c.wd.Set(t)
	return nil
}

// SetReadDeadline implements [net.PacketConn].
func (c *UDPConn) SetReadDeadline(t time.Time) error {
	c.rd.Set(t)
	return nil
}

// SetWriteDeadline implements [net.PacketConn].
func (c *UDPConn) SetWriteDeadline(t time.Time) error {
	c.wd.Set(t)
	return nil
}

// deliver enqueues an inbound datagram or drops it when the
// input queue is full or the port is closed.
func (c *UDPConn) deliver(dgram *Datagram) {
	select {
	case <-c.eof:
	case c.input <- dgram:
	default:
	}
}

// ReadFrom implements [net.PacketConn].
//
// Payloads larger than the buffer are truncated.
func (c *UDPConn) ReadFrom(buf []byte) (int, net.Addr, error) {
	dgram, err := c.readDatagram()
	if err != nil {
		return 0, nil, err
	}
	count := copy(buf, dgram.Payload)
	return count, &Addr{dgram.Src}, nil
}

// Read implements [net.Conn].
func (c *UDPConn) Read(buf []byte) (int, error) {
	count, _, err := c.ReadFrom(buf)
	return count, err
}

// readDatagram receives a datagram from a remote endpoint.
//
// Connected ports discard datagrams not coming from the peer.
//
// The possible errors are [net.ErrClosed] when the port is
// closed and [os.ErrDeadlineExceeded] on read timeout.
func (c *UDPConn) readDatagram() (*Datagram, error) {
	for {
		select {
		case dgram := <-c.input:
			if !c.addr.RemoteAddr.IsValid() || dgram.Src == c.addr.RemoteAddr {
				return dgram, nil
			}

		case <-c.eof:
			return nil, net.ErrClosed

		case <-c.rd.Done():
			return nil, os.ErrDeadlineExceeded
		}
	}
}

// WriteTo implements [net.PacketConn].
func (c *UDPConn) WriteTo(payload []byte, addr net.Addr) (int, error) {
	raddr, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return 0, EINVAL
	}
	if err := c.writeDatagram(payload, raddr); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// Write implements [net.Conn].
func (c *UDPConn) Write(payload []byte) (int, error) {
	if err := c.writeDatagram(payload, netip.AddrPort{}); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// writeDatagram sends a datagram to the given remote address or to
// the connected peer when raddr is the zero value.
//
// We copy the payload since callers may reuse their buffers.
//
// The possible errors are [ENOTCONN] for a non-connected port and
// zero raddr, [EMSGSIZE] for oversized payloads, [net.ErrClosed]
// when the port is closed, [ENETDOWN] when the stack is closed, and
// [os.ErrDeadlineExceeded] on write timeout.
func (c *UDPConn) writeDatagram(payload []byte, raddr netip.AddrPort) error {
	if !raddr.IsValid() {
		raddr = c.addr.RemoteAddr
		if !raddr.IsValid() {
			return ENOTCONN
		}
	}
	if len(payload) > MaxPayloadSize {
		return EMSGSIZE
	}

	src := c.addr.LocalAddr
	if src.Addr().IsUnspecified() {
		src = netip.AddrPortFrom(c.stack.sourceAddr(raddr.Addr()), src.Port())
	}
	dgram := &Datagram{
		Src:     src,
		Dst:     raddr,
		Payload: append([]byte{}, payload...),
	}

	// Short circuit datagrams for ourselves.
	if c.stack.isLocalAddr(raddr.Addr()) {
		c.stack.demux(dgram)
		return nil
	}

	select {
	case c.stack.output <- dgram:
		return nil
	case <-c.eof:
		return net.ErrClosed
	case <-c.stack.eof:
		return ENETDOWN
	case <-c.wd.Done():
		return os.ErrDeadlineExceeded
	}
}
