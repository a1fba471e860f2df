//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Datagram and address definitions.
//

package netsim

import (
	"fmt"
	"net"
	"net/netip"
)

// MaxPayloadSize is the maximum payload of a UDP-over-IPv4 datagram.
const MaxPayloadSize = 65507

// Datagram is a UDP datagram flowing through the simulated network.
type Datagram struct {
	// Src is the source address.
	Src netip.AddrPort

	// Dst is the destination address.
	Dst netip.AddrPort

	// Payload is the datagram payload.
	Payload []byte
}

// String returns a string representation of the datagram.
func (d *Datagram) String() string {
	return fmt.Sprintf("%s -> %s udp length=%d", d.Src, d.Dst, len(d.Payload))
}

// Addr is the [net.Addr] of a simulated UDP endpoint.
type Addr struct {
	// AddrPort is the endpoint address and port.
	AddrPort netip.AddrPort
}

// Ensure [*Addr] implements [net.Addr].
var _ net.Addr = &Addr{}

// Network implements [net.Addr].
func (sa *Addr) Network() string {
	return "udp"
}

// String implements [net.Addr].
func (sa *Addr) String() string {
	return sa.AddrPort.String()
}
