//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Simulated DNS-over-UDP server.
//

package netsim

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/miekg/dns"
)

// DNSServer is a minimal authoritative DNS-over-UDP server answering
// A and AAAA queries, used to test name resolution.
//
// The zero value is not ready to use; construct using [NewDNSServer].
type DNSServer struct {
	// mu protects names.
	mu sync.RWMutex

	// names maps canonical names to records.
	names map[string][]dns.RR
}

// NewDNSServer creates a new [*DNSServer] with no records.
func NewDNSServer() *DNSServer {
	return &DNSServer{names: make(map[string][]dns.RR)}
}

// AddAddresses adds A/AAAA records mapping the given
// domain name to the given IPv4/IPv6 addresses.
func (ds *DNSServer) AddAddresses(domain string, addrs ...netip.Addr) {
	name := dns.CanonicalName(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for _, addr := range addrs {
		header := dns.RR_Header{
			Name:  name,
			Class: dns.ClassINET,
			Ttl:   3600,
		}
		var rr dns.RR
		switch {
		case addr.Is4():
			header.Rrtype = dns.TypeA
			rr = &dns.A{Hdr: header, A: addr.AsSlice()}
		default:
			header.Rrtype = dns.TypeAAAA
			rr = &dns.AAAA{Hdr: header, AAAA: addr.AsSlice()}
		}
		ds.names[name] = append(ds.names[name], rr)
	}
}

// Serve answers queries received by conn until conn is closed, in
// which case it returns nil. Malformed queries are ignored.
func (ds *DNSServer) Serve(conn net.PacketConn) error {
	buf := make([]byte, dns.MaxMsgSize)
	for {
		count, addr, err := conn.ReadFrom(buf)
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		rawResp, ok := ds.handle(buf[:count])
		if !ok {
			continue
		}
		if _, err := conn.WriteTo(rawResp, addr); err != nil {
			return err
		}
	}
}

// handle builds the response to a raw query.
func (ds *DNSServer) handle(rawQuery []byte) ([]byte, bool) {
	query := &dns.Msg{}
	if err := query.Unpack(rawQuery); err != nil {
		return nil, false
	}
	if query.Response || query.Opcode != dns.OpcodeQuery || len(query.Question) != 1 {
		return nil, false
	}
	response := &dns.Msg{}
	response.SetReply(query)

	q0 := query.Question[0]
	switch {
	case q0.Qclass != dns.ClassINET:
		response.Rcode = dns.RcodeRefused
	case q0.Qtype == dns.TypeA || q0.Qtype == dns.TypeAAAA:
		var found bool
		response.Answer, found = ds.lookup(q0.Qtype, dns.CanonicalName(q0.Name))
		if !found {
			response.Rcode = dns.RcodeNameError
		}
	default:
		response.Rcode = dns.RcodeNameError
	}

	rawResp, err := response.Pack()
	if err != nil {
		return nil, false
	}
	return rawResp, true
}

// lookup returns the records of the given type for a name and
// whether we know about the name at all.
func (ds *DNSServer) lookup(qtype uint16, name string) ([]dns.RR, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	all, found := ds.names[name]
	var rrs []dns.RR
	for _, rr := range all {
		if rr.Header().Rrtype == qtype {
			rrs = append(rrs, rr)
		}
	}
	return rrs, found
}
