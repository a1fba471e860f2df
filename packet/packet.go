// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet contains [*Packet], the unit exchanged by sockets.
package packet

import (
	"bytes"
	"fmt"
	"net/netip"
)

// Packet is a datagram exchanged with a remote peer: the peer address
// plus an opaque payload.
//
// A [*Packet] is immutable once constructed. Construct using [New].
type Packet struct {
	// addr is the remote peer address.
	addr netip.AddrPort

	// payload is the opaque payload.
	payload []byte
}

// New creates a new [*Packet] for the given peer address and payload.
//
// The [*Packet] takes ownership of the payload: the caller MUST NOT
// modify the slice after calling this function.
func New(addr netip.AddrPort, payload []byte) *Packet {
	return &Packet{addr: addr, payload: payload}
}

// Addr returns the remote peer address. For inbound packets this is
// the sender; for outbound packets this is the destination.
func (p *Packet) Addr() netip.AddrPort {
	return p.addr
}

// Payload returns the packet payload.
//
// The returned slice MUST NOT be modified.
func (p *Packet) Payload() []byte {
	return p.payload
}

// Equal returns whether two packets have the same address and payload.
func (p *Packet) Equal(other *Packet) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.addr == other.addr && bytes.Equal(p.payload, other.payload)
}

// String returns the string representation of the packet.
func (p *Packet) String() string {
	return fmt.Sprintf("%s length=%d", p.addr, len(p.payload))
}
