// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"context"
	"net/netip"

	"github.com/rbmk-project/rtsock/linkcond"
	"github.com/rbmk-project/rtsock/packet"
)

// Adapter is the backend-specific transport used by a [*Conn].
//
// The [*Conn] calls Recv from a single goroutine and Send from
// the goroutine running [*Conn.Receive]. Close may be called
// concurrently with Recv and must unblock it.
type Adapter interface {
	// Recv waits for the next inbound packet from a peer with an
	// established session. After Close, Recv returns an error
	// wrapping [net.ErrClosed].
	Recv(ctx context.Context) (*packet.Packet, error)

	// Send attempts to deliver a payload to the given address once.
	//
	// This method must complete in bounded time.
	Send(ctx context.Context, payload []byte, addr netip.AddrPort) error

	// LocalAddr returns the local bound address.
	LocalAddr() netip.AddrPort

	// Close releases the network resources.
	Close() error
}

// Socket is the packet socket abstraction implemented by [*Conn]
// and [*LinkConditioner].
type Socket interface {
	// Receive waits for an inbound packet while delivering outbound
	// packets. See the package documentation for details.
	Receive(ctx context.Context) (*packet.Packet, error)

	// Sender returns a new [*MessageSender] bound to this socket.
	Sender() *MessageSender

	// WithLinkConditioner consumes the socket and returns a new
	// socket that conditions inbound traffic.
	WithLinkConditioner(config *linkcond.Config) Socket

	// LocalAddr returns the local bound address.
	LocalAddr() netip.AddrPort

	// Close closes the socket and releases its resources.
	Close() error
}
