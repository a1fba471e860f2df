//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/Psiphon-Labs/psiphon-tunnel-core/blob/master/psiphon/common/inproxy/webrtc.go
//
// WebRTC socket backend.
//

// Package rtcsock implements a [socket.Socket] over unordered,
// unreliable WebRTC data channels.
//
// Peers obtain a session by POSTing a JSON-encoded offer to the HTTP
// session endpoint, which replies with the JSON-encoded answer. All
// the sessions share a single UDP socket. Once the first data channel
// of a session is open, the session is identified by the remote
// address of the selected ICE candidate pair.
package rtcsock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
	"github.com/rbmk-project/rtsock/closepool"
	"github.com/rbmk-project/rtsock/netcore"
	"github.com/rbmk-project/rtsock/netipx"
	"github.com/rbmk-project/rtsock/packet"
	"github.com/rbmk-project/rtsock/sockerr"
	"github.com/rbmk-project/rtsock/socket"
)

const (
	// MaxPayloadSize is the maximum size of a data channel message.
	MaxPayloadSize = 65535

	// MaxBufferedAmount is the maximum number of bytes queued on a
	// data channel before we refuse sending.
	MaxBufferedAmount = 1 << 20

	// inboundQueueSize is the size of the inbound messages queue.
	inboundQueueSize = 128
)

// Listen binds the UDP socket carrying the WebRTC traffic, starts the
// HTTP session endpoint, and returns the corresponding [*socket.Conn].
// Failing to bind yields an error wrapping a [*sockerr.BindError].
func Listen(ctx context.Context, config *Config) (*socket.Conn, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	netx := config.network()

	bindAddr, err := netx.ResolveAddrPort(ctx, config.Address)
	if err != nil {
		return nil, &sockerr.BindError{Address: config.Address, Err: err}
	}

	var publicAddr netip.AddrPort
	if config.PublicAddress != "" {
		publicAddr, err = netx.ResolveAddrPort(ctx, config.PublicAddress)
		if err != nil {
			return nil, err
		}
	}

	pconn, listener, err := bindSockets(ctx, netx, bindAddr, config)
	if err != nil {
		return nil, err
	}
	var pool closepool.Pool
	pool.Add(pconn)
	laddr := netipx.AddrToAddrPort(pconn.LocalAddr())

	factory := &loggerFactory{logger: config.Logger}
	mux := webrtc.NewICEUDPMux(factory.NewLogger("udpmux"), pconn)
	pool.Add(mux)

	settings := webrtc.SettingEngine{LoggerFactory: factory}
	settings.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	settings.SetICEUDPMux(mux)
	settings.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})
	settings.SetDTLSInsecureSkipHelloVerify(true)
	if publicAddr.IsValid() {
		settings.SetNAT1To1IPs([]string{publicAddr.Addr().String()}, webrtc.ICECandidateTypeHost)
	}

	var iceServers []webrtc.ICEServer
	if len(config.ICEServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: config.ICEServers})
	}

	ad := &adapter{
		api:           webrtc.NewAPI(webrtc.WithSettingEngine(settings)),
		eof:           make(chan struct{}),
		gatherTimeout: config.gatherTimeout(),
		inbound:       make(chan *packet.Packet, inboundQueueSize),
		laddr:         laddr,
		logger:        config.Logger,
		maxSessions:   config.maxSessions(),
		pcConfig:      webrtc.Configuration{ICEServers: iceServers},
		peers:         make(map[netip.AddrPort]*session),
		sessions:      make(map[*session]struct{}),
	}
	pool.AddFunc(ad.closeSessions)

	handler := http.NewServeMux()
	handler.Handle(config.sessionPath(), &sessionHandler{
		answer:  ad.answer,
		logger:  config.Logger,
		timeNow: time.Now,
	})
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	pool.Add(srv)
	go srv.Serve(listener)

	ad.sessionAddr = listener.Addr().String()
	ad.pool = &pool
	ad.log(slog.LevelInfo, "rtcListen",
		slog.String("localAddr", laddr.String()),
		slog.String("sessionAddr", ad.sessionAddr),
	)

	return socket.New(ad, &socket.Config{Logger: config.Logger, Protocol: "webrtc"}), nil
}

// bindSockets binds the UDP socket and the TCP listener serving the
// session endpoint. Without a SessionAddress, both use the same port,
// and automatic port assignment selects the first port of the range
// where both binds succeed.
func bindSockets(ctx context.Context,
	netx *netcore.Network, bindAddr netip.AddrPort, config *Config) (net.PacketConn, net.Listener, error) {
	if config.SessionAddress == "" && bindAddr.Port() == 0 {
		return netx.ProbeListenPacketAndListener(ctx, bindAddr.Addr(), config.portRange())
	}

	var (
		pconn net.PacketConn
		err   error
	)
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
		return nil, nil, err
	}

	sessionAddr := config.SessionAddress
	if sessionAddr == "" {
		sessionAddr = bindAddr.String()
	}
	listener, err := netx.Listen(ctx, "tcp", sessionAddr)
	if err != nil {
		pconn.Close()
		return nil, nil, &sockerr.BindError{Address: sessionAddr, Err: err}
	}
	return pconn, listener, nil
}

// session is a peer connection and its first data channel.
type session struct {
	// addr is the remote address, valid once dc is not nil.
	addr netip.AddrPort

	// closeOnce ensures we close just once.
	closeOnce sync.Once

	// dc is the open data channel or nil. Protected by adapter.mu.
	dc *webrtc.DataChannel

	// pc is the peer connection.
	pc *webrtc.PeerConnection
}

// adapter implements [socket.Adapter] for WebRTC.
type adapter struct {
	// api creates peer connections sharing the UDP socket.
	api *webrtc.API

	// eof is closed by Close.
	eof chan struct{}

	// eofOnce ensures we close eof just once.
	eofOnce sync.Once

	// gatherTimeout bounds ICE gathering while answering.
	gatherTimeout time.Duration

	// inbound receives messages from all the data channels.
	inbound chan *packet.Packet

	// laddr is the bound UDP address.
	laddr netip.AddrPort

	// logger is the possibly nil logger.
	logger *slog.Logger

	// maxSessions is the maximum number of sessions.
	maxSessions int

	// mu protects peers, sessions and session.dc.
	mu sync.Mutex

	// pcConfig is the peer connection configuration.
	pcConfig webrtc.Configuration

	// peers maps remote addresses to open sessions.
	peers map[netip.AddrPort]*session

	// pool contains the resources to release on Close.
	pool *closepool.Pool

	// sessionAddr is the bound session endpoint address.
	sessionAddr string

	// sessions contains all the sessions including those
	// that are still negotiating.
	sessions map[*session]struct{}
}

var _ socket.Adapter = &adapter{}

// answer implements [answerFunc].
func (ad *adapter) answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	sess, err := ad.newSession()
	if err != nil {
		return nil, err
	}
	answer, err := ad.negotiate(ctx, sess, offer)
	if err != nil {
		ad.closeSession(sess)
		return nil, err
	}
	return answer, nil
}

// newSession creates and registers a new session.
func (ad *adapter) newSession() (*session, error) {
	ad.mu.Lock()
	defer ad.mu.Unlock()
	select {
	case <-ad.eof:
		return nil, net.ErrClosed
	default:
	}
	if len(ad.sessions) >= ad.maxSessions {
		return nil, errTooManySessions
	}

	pc, err := ad.api.NewPeerConnection(ad.pcConfig)
	if err != nil {
		return nil, err
	}
	sess := &session{pc: pc}
	ad.sessions[sess] = struct{}{}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		ad.log(slog.LevelDebug, "rtcConnectionState", slog.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			// Closing from within the callback would deadlock.
			go ad.closeSession(sess)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			ad.onOpen(sess, dc)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			ad.onMessage(sess, dc, msg)
		})
	})
	return sess, nil
}

// negotiate sets the remote offer and returns the local answer
// once ICE gathering is complete.
func (ad *adapter) negotiate(
	ctx context.Context, sess *session, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := sess.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidOffer, err)
	}
	answer, err := sess.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	// Without trickle ICE, the answer must contain all the candidates.
	gathered := webrtc.GatheringCompletePromise(sess.pc)
	if err := sess.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	timer := time.NewTimer(ad.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ad.eof:
		return nil, net.ErrClosed
	}
	return sess.pc.LocalDescription(), nil
}

// onOpen binds the session to the remote address of the
// selected candidate pair.
func (ad *adapter) onOpen(sess *session, dc *webrtc.DataChannel) {
	addr, err := selectedRemoteAddr(sess.pc)
	if err != nil {
		ad.log(slog.LevelWarn, "rtcSessionAddr", slog.Any("err", err))
		ad.closeSession(sess)
		return
	}

	ad.mu.Lock()
	if _, found := ad.sessions[sess]; !found || sess.dc != nil {
		// Either closed or already bound to another data channel.
		ad.mu.Unlock()
		dc.Close()
		return
	}
	stale := ad.peers[addr]
	sess.addr, sess.dc = addr, dc
	ad.peers[addr] = sess
	ad.mu.Unlock()

	if stale != nil {
		ad.closeSession(stale)
	}
	ad.log(slog.LevelInfo, "rtcSessionOpen",
		slog.String("localAddr", ad.laddr.String()),
		slog.String("remoteAddr", addr.String()),
	)
}

// onMessage delivers a message received on the session data channel.
func (ad *adapter) onMessage(sess *session, dc *webrtc.DataChannel, msg webrtc.DataChannelMessage) {
	ad.mu.Lock()
	bound := sess.dc == dc
	addr := sess.addr
	ad.mu.Unlock()
	if !bound {
		return
	}
	select {
	case ad.inbound <- packet.New(addr, msg.Data):
	case <-ad.eof:
	}
}

// selectedRemoteAddr returns the remote address of the selected ICE pair.
func selectedRemoteAddr(pc *webrtc.PeerConnection) (netip.AddrPort, error) {
	sctp := pc.SCTP()
	if sctp == nil {
		return netip.AddrPort{}, errors.New("rtcsock: no SCTP transport")
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil {
		return netip.AddrPort{}, err
	}
	if pair == nil || pair.Remote == nil {
		return netip.AddrPort{}, errors.New("rtcsock: no selected candidate pair")
	}
	addr, err := netip.ParseAddr(pair.Remote.Address)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr.Unmap(), pair.Remote.Port), nil
}

// closeSession unregisters and closes a session.
func (ad *adapter) closeSession(sess *session) {
	sess.closeOnce.Do(func() {
		ad.mu.Lock()
		delete(ad.sessions, sess)
		if sess.dc != nil && ad.peers[sess.addr] == sess {
			delete(ad.peers, sess.addr)
		}
		ad.mu.Unlock()

		sess.pc.Close()
		if sess.dc != nil {
			ad.log(slog.LevelInfo, "rtcSessionClose", slog.String("remoteAddr", sess.addr.String()))
		}
	})
}

// closeSessions closes all the sessions.
func (ad *adapter) closeSessions() error {
	ad.mu.Lock()
	sessions := make([]*session, 0, len(ad.sessions))
	for sess := range ad.sessions {
		sessions = append(sessions, sess)
	}
	ad.mu.Unlock()
	for _, sess := range sessions {
		ad.closeSession(sess)
	}
	return nil
}

// Recv implements [socket.Adapter].
func (ad *adapter) Recv(ctx context.Context) (*packet.Packet, error) {
	select {
	case pkt := <-ad.inbound:
		return pkt, nil
	case <-ad.eof:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements [socket.Adapter].
//
// The data channel queues the message, so Send does not block.
func (ad *adapter) Send(ctx context.Context, payload []byte, addr netip.AddrPort) error {
	ad.mu.Lock()
	sess := ad.peers[addr]
	ad.mu.Unlock()
	if sess == nil {
		return sockerr.ErrNoSession
	}
	if len(payload) > MaxPayloadSize {
		return sockerr.ErrMessageTooLarge
	}
	if sess.dc.BufferedAmount()+uint64(len(payload)) > MaxBufferedAmount {
		return sockerr.ErrBufferFull
	}
	return sess.dc.Send(payload)
}

// LocalAddr implements [socket.Adapter].
func (ad *adapter) LocalAddr() netip.AddrPort {
	return ad.laddr
}

// Close implements [socket.Adapter].
func (ad *adapter) Close() error {
	ad.eofOnce.Do(func() { close(ad.eof) })
	return ad.pool.Close()
}

func (ad *adapter) log(level slog.Level, msg string, attrs ...slog.Attr) {
	if ad.logger != nil {
		ad.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
