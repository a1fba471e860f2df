// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/rbmk-project/rtsock/errclass"
	"github.com/rbmk-project/rtsock/packet"
	"github.com/rbmk-project/rtsock/quicsock"
	"github.com/rbmk-project/rtsock/rtcsock"
	"github.com/rbmk-project/rtsock/socket"
	"github.com/rbmk-project/rtsock/udpsock"
)

// flushTimeout is how long we keep receiving after the last echo.
const flushTimeout = 250 * time.Millisecond

// serve opens the configured socket and echoes packets.
func serve(ctx context.Context, config *serverConfig, stdout, stderr io.Writer) error {
	logger, err := config.newLogger(stderr)
	if err != nil {
		return err
	}
	sock, err := openSocket(ctx, config, logger)
	if err != nil {
		return err
	}
	defer sock.Close()
	fmt.Fprintf(stdout, "rtsockd: %s backend listening on %s\n", config.Backend, sock.LocalAddr())
	return echo(ctx, sock, config.MaxPackets, logger)
}

// openSocket opens the socket of the configured backend and
// applies the link condition, if any.
func openSocket(ctx context.Context, config *serverConfig, logger *slog.Logger) (socket.Socket, error) {
	cond, err := config.linkCondition()
	if err != nil {
		return nil, err
	}

	var conn *socket.Conn
	switch config.Backend {
	case backendRTC:
		config.RTC.Logger = logger
		conn, err = rtcsock.Listen(ctx, &config.RTC)
	case backendQUIC:
		config.QUIC.Logger = logger
		conn, err = quicsock.Listen(ctx, &config.QUIC)
	default:
		config.UDP.Logger = logger
		conn, err = udpsock.Listen(ctx, &config.UDP)
	}
	if err != nil {
		return nil, err
	}

	if cond == nil {
		return conn, nil
	}
	return conn.WithLinkConditioner(cond), nil
}

// echo sends every received packet back to its peer until ctx is done,
// the socket is closed, or we have echoed maxPackets packets.
func echo(ctx context.Context, sock socket.Socket, maxPackets int, logger *slog.Logger) error {
	sender := sock.Sender()
	defer sender.Close()

	for count := 0; maxPackets <= 0 || count < maxPackets; {
		pkt, err := sock.Receive(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, net.ErrClosed):
			return err
		case err != nil:
			// Receive errors are recoverable: log and keep going.
			logger.Warn("echoError", slog.Any("err", err), slog.String("errClass", errclass.New(err)))
			continue
		}
		if err := sender.Send(packet.New(pkt.Addr(), pkt.Payload())); err != nil {
			return err
		}
		count++
	}

	flush(ctx, sock, flushTimeout, logger)
	return nil
}

// flush keeps receiving until the timeout expires, since outbound
// packets only flow while receiving. We drop the inbound packets
// received meanwhile because we are done echoing.
func flush(ctx context.Context, sock socket.Socket, timeout time.Duration, logger *slog.Logger) {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		pkt, err := sock.Receive(fctx)
		switch {
		case fctx.Err() != nil, errors.Is(err, net.ErrClosed):
			return
		case err != nil:
			logger.Warn("echoError", slog.Any("err", err), slog.String("errClass", errclass.New(err)))
		default:
			logger.Debug("echoDrop",
				slog.Int("ioBytesCount", len(pkt.Payload())),
				slog.String("remoteAddr", pkt.Addr().String()),
			)
		}
	}
}
