//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Network stack
//

package netsim

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/netip"
	"sync"

	"github.com/rbmk-project/common/runtimex"
)

// StackConfig contains configuration for creating a new network stack.
type StackConfig struct {
	// Addresses contains the IP addresses for this stack.
	//
	// The config is invalid if there is not at least one address.
	Addresses []string

	// Logger is the optional structured logger.
	Logger *slog.Logger
}

// validate returns an error if the configuration is not valid.
func (cfg *StackConfig) validate() error {
	if len(cfg.Addresses) < 1 {
		return errors.New("at least one address is required")
	}
	return nil
}

// Stack models a UDP-only network stack.
//
// Construct using [NewStack] or [MustNewStack].
type Stack struct {
	// addrs contains the stack network addresses.
	addrs []netip.Addr

	// eof unblocks any blocking operation when the stack is closed.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// input is the input channel for datagrams.
	input chan *Datagram

	// logger is the optional logger.
	logger *slog.Logger

	// nextport tracks the next available ephemeral port.
	nextport uint16

	// output is the output channel for datagrams.
	output chan *Datagram

	// portmu protects nextport and ports.
	portmu sync.RWMutex

	// ports contains the open ports.
	ports map[PortAddr]*UDPConn
}

// NewStack creates a new [*Stack] instance and starts a
// goroutine demuxing incoming traffic. Remember to invoke
// Close to stop the demuxing goroutine.
func NewStack(cfg *StackConfig) (*Stack, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	addrs := make([]netip.Addr, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		pa, err := netip.ParseAddr(addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, pa)
	}

	const firstEphemeralPort = 49152
	ns := &Stack{
		addrs:    addrs,
		eof:      make(chan struct{}),
		input:    make(chan *Datagram),
		logger:   cfg.Logger,
		nextport: firstEphemeralPort,
		output:   make(chan *Datagram),
		ports:    map[PortAddr]*UDPConn{},
	}
	go ns.demuxLoop()
	return ns, nil
}

// MustNewStack is like [NewStack] but panics on error.
func MustNewStack(cfg *StackConfig) *Stack {
	return runtimex.Try1(NewStack(cfg))
}

// Addresses returns the network stack addresses.
func (ns *Stack) Addresses() []netip.Addr {
	return append([]netip.Addr{}, ns.addrs...)
}

// EOF returns the channel to wait for the stack to close.
func (ns *Stack) EOF() <-chan struct{} {
	return ns.eof
}

// Output returns the channel from which to read outgoing datagrams.
func (ns *Stack) Output() <-chan *Datagram {
	return ns.output
}

// Input returns the channel where to write incoming datagrams.
func (ns *Stack) Input() chan<- *Datagram {
	return ns.input
}

// Close closes the network stack and stops all traffic demuxing.
func (ns *Stack) Close() error {
	ns.eofOnce.Do(func() { close(ns.eof) })
	return nil
}

// demuxLoop demuxes incoming traffic to the proper port.
func (ns *Stack) demuxLoop() {
	for {
		select {
		case <-ns.eof:
			return
		case dgram := <-ns.input:
			ns.demux(dgram)
		}
	}
}

// demux delivers a single incoming [*Datagram]. Datagrams for
// addresses or ports we do not own are silently dropped.
func (ns *Stack) demux(dgram *Datagram) {
	if !ns.isLocalAddr(dgram.Dst.Addr()) {
		return
	}
	ns.portmu.RLock()
	port := ns.findPortLocked(dgram)
	ns.portmu.RUnlock()
	if port == nil {
		if ns.logger != nil {
			ns.logger.Debug("datagramDropped", slog.String("datagram", dgram.String()))
		}
		return
	}
	port.deliver(dgram)
}

// findPortLocked finds the port for the given datagram trying, in
// order, the connected port, the port listening on the destination
// address, and the port listening on the unspecified address.
//
// The caller must hold the portmu lock.
func (ns *Stack) findPortLocked(dgram *Datagram) *UDPConn {
	candidates := []PortAddr{
		{LocalAddr: dgram.Dst, RemoteAddr: dgram.Src},
		{LocalAddr: dgram.Dst},
	}
	for _, ipAddr := range []netip.Addr{netip.IPv4Unspecified(), netip.IPv6Unspecified()} {
		candidates = append(candidates, PortAddr{LocalAddr: netip.AddrPortFrom(ipAddr, dgram.Dst.Port())})
	}
	for _, addr := range candidates {
		if port := ns.ports[addr]; port != nil {
			return port
		}
	}
	return nil
}

// isLocalAddr returns true if the address is local to the stack.
func (ns *Stack) isLocalAddr(addr netip.Addr) bool {
	for _, a := range ns.addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// sourceAddr returns the local address to use to reach the given address.
func (ns *Stack) sourceAddr(raddr netip.Addr) netip.Addr {
	for _, addr := range ns.addrs {
		if raddr.Is4() == addr.Is4() {
			return addr
		}
	}
	return ns.addrs[0]
}

// checkNetwork returns an error unless network is a UDP network.
func checkNetwork(network string) error {
	switch network {
	case "udp", "udp4", "udp6":
		return nil
	default:
		return EPROTONOSUPPORT
	}
}

// ListenPacket creates a new listening [net.PacketConn].
//
// When the port is zero, we pick an ephemeral port.
func (ns *Stack) ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}
	laddr, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, EINVAL
	}

	ns.portmu.Lock()
	defer ns.portmu.Unlock()

	if !laddr.Addr().IsUnspecified() && !ns.isLocalAddr(laddr.Addr()) {
		return nil, EADDRNOTAVAIL
	}
	if laddr.Port() <= 0 {
		lport, err := ns.newEphemeralPortNumberLocked()
		if err != nil {
			return nil, err
		}
		laddr = netip.AddrPortFrom(laddr.Addr(), lport)
	}
	port, err := ns.newPortLocked(PortAddr{LocalAddr: laddr})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// DialContext creates a new connected UDP [net.Conn].
func (ns *Stack) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}
	raddr, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, EINVAL
	}
	if raddr.Addr().IsUnspecified() || raddr.Port() <= 0 {
		return nil, EHOSTUNREACH
	}

	ns.portmu.Lock()
	defer ns.portmu.Unlock()

	lport, err := ns.newEphemeralPortNumberLocked()
	if err != nil {
		return nil, err
	}
	laddr := netip.AddrPortFrom(ns.sourceAddr(raddr.Addr()), lport)
	port, err := ns.newPortLocked(PortAddr{LocalAddr: laddr, RemoteAddr: raddr})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// newEphemeralPortNumberLocked returns a new local port, if possible.
//
// The caller must hold the portmu lock.
func (ns *Stack) newEphemeralPortNumberLocked() (uint16, error) {
	if ns.nextport >= math.MaxUint16 {
		return 0, EADDRINUSE
	}
	port := ns.nextport
	ns.nextport++
	return port, nil
}

// portInUseLocked returns whether a listening port conflicts with laddr.
//
// The caller must hold the portmu lock.
func (ns *Stack) portInUseLocked(laddr netip.AddrPort) bool {
	for addr := range ns.ports {
		if addr.LocalAddr.Port() != laddr.Port() {
			continue
		}
		if addr.LocalAddr.Addr() == laddr.Addr() ||
			addr.LocalAddr.Addr().IsUnspecified() || laddr.Addr().IsUnspecified() {
			return true
		}
	}
	return false
}

// newPortLocked creates a new [*UDPConn] instance.
//
// The caller must hold the portmu lock.
func (ns *Stack) newPortLocked(addr PortAddr) (*UDPConn, error) {
	if ns.portInUseLocked(addr.LocalAddr) {
		return nil, EADDRINUSE
	}
	port := newUDPConn(ns, addr)
	ns.ports[addr] = port
	if ns.logger != nil {
		ns.logger.Debug("portOpen", slog.String("port", addr.String()))
	}
	return port, nil
}

// closePort removes the given port.
func (ns *Stack) closePort(addr PortAddr) {
	ns.portmu.Lock()
	delete(ns.ports, addr)
	ns.portmu.Unlock()
	if ns.logger != nil {
		ns.logger.Debug("portClose", slog.String("port", addr.String()))
	}
}
