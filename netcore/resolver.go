//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
//
// Endpoint resolution.
//

package netcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"github.com/rbmk-project/dnscore"
	"github.com/rbmk-project/rtsock/errclass"
)

// ErrInvalidDomain indicates that an endpoint contains
// neither an IP address nor a valid domain name.
var ErrInvalidDomain = errors.New("invalid domain name")

// ErrNoAddresses indicates that a lookup returned no usable addresses.
var ErrNoAddresses = errors.New("no usable addresses")

// ResolveAddrPort resolves an endpoint in the form "host:port" to a
// [netip.AddrPort]. An empty host means the IPv4 unspecified address
// and an IP address host short circuits the lookup. Otherwise, we
// resolve the domain and return the first address.
func (nx *Network) ResolveAddrPort(ctx context.Context, address string) (netip.AddrPort, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return netip.AddrPort{}, err
	}
	portnum, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid port %q: %w", port, err)
	}

	// handle the cases where we don't need to resolve
	if host == "" {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(portnum)), nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), uint16(portnum)), nil
	}
	if _, ok := dns.IsDomainName(host); !ok {
		return netip.AddrPort{}, fmt.Errorf("%w: %q", ErrInvalidDomain, host)
	}

	addrs, err := nx.lookupHost(ctx, host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	for _, entry := range addrs {
		if addr, err := netip.ParseAddr(entry); err == nil {
			return netip.AddrPortFrom(addr.Unmap(), uint16(portnum)), nil
		}
	}
	return netip.AddrPort{}, ErrNoAddresses
}

// lookupHost resolves a domain name to IP addresses.
func (nx *Network) lookupHost(ctx context.Context, domain string) ([]string, error) {
	if nx.LookupHostTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nx.LookupHostTimeout)
		defer cancel()
	}

	// Emit structured event before the lookup
	t0 := nx.emitLookupHostStart(ctx, domain)

	// Perform the actual lookup
	addrs, err := nx.doLookupHost(ctx, domain)

	// Emit structured event after the lookup
	nx.emitLookupHostDone(ctx, domain, t0, addrs, err)

	return addrs, err
}

// doLookupHost performs the DNS lookup.
func (nx *Network) doLookupHost(ctx context.Context, domain string) ([]string, error) {
	// if there is a custom LookupHostFunc, use it
	if nx.LookupHostFunc != nil {
		return nx.LookupHostFunc(ctx, domain)
	}

	// if there is a configured DNS server, query it
	if nx.DNSServer != "" {
		reso := &dnscore.Resolver{
			Config:    dnscore.NewConfig(),
			Transport: &dnscore.Transport{DialContext: nx.dialContext},
		}
		reso.Config.AddServer(dnscore.NewServerAddr(dnscore.ProtocolUDP, nx.DNSServer))
		return reso.LookupHost(ctx, domain)
	}

	// otherwise fallback to the system resolver
	reso := &net.Resolver{}
	return reso.LookupHost(ctx, domain)
}

// dialContext dials a connection with the DNS server.
func (nx *Network) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if nx.DialContextFunc != nil {
		return nx.DialContextFunc(ctx, network, address)
	}
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, address)
}

// emitLookupHostStart emits a structured event before the lookup.
func (nx *Network) emitLookupHostStart(ctx context.Context, domain string) time.Time {
	t0 := nx.timeNow()
	if nx.Logger != nil {
		nx.Logger.InfoContext(
			ctx,
			"lookupHostStart",
			slog.String("dnsServer", nx.DNSServer),
			slog.String("domain", domain),
			slog.Time("t", t0),
		)
	}
	return t0
}

// emitLookupHostDone emits a structured event after the lookup.
func (nx *Network) emitLookupHostDone(ctx context.Context,
	domain string, t0 time.Time, addrs []string, err error) {
	if nx.Logger != nil {
		nx.Logger.InfoContext(
			ctx,
			"lookupHostDone",
			slog.Any("addrs", addrs),
			slog.String("dnsServer", nx.DNSServer),
			slog.String("domain", domain),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t0", t0),
			slog.Time("t", nx.timeNow()),
		)
	}
}
