//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/netem/blob/main/linkfwdfull.go
//
// Link between two network stacks.
//

package netsim

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rbmk-project/rtsock/linkcond"
)

// LinkDevice is a [*Stack] as seen by a [*Link].
type LinkDevice interface {
	EOF() <-chan struct{}
	Input() chan<- *Datagram
	Output() <-chan *Datagram
}

var _ LinkDevice = &Stack{}

// LinkConfig configures a [*Link].
//
// The zero value is a perfect link.
type LinkConfig struct {
	// Condition is the optional loss and delay applied, independently,
	// in each direction. If nil, the link is perfect.
	Condition *linkcond.Config

	// Logger is the optional structured logger.
	Logger *slog.Logger
}

// Link models a point-to-point link between two [*Stack] instances.
//
// Construct using [NewLink].
type Link struct {
	// config is the link config.
	config LinkConfig

	// eof unblocks any blocking channel operation.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once
}

// NewLink creates a new [*Link] between two [LinkDevice] and starts
// moving datagrams between them. Use Close to shut down the background
// goroutines. A nil config is equivalent to a zero [LinkConfig].
//
// This function panics if the condition config is not valid.
func NewLink(left, right LinkDevice, config *LinkConfig) *Link {
	if config == nil {
		config = &LinkConfig{}
	}
	if config.Condition == nil {
		config = &LinkConfig{Condition: linkcond.Perfect(), Logger: config.Logger}
	}
	if err := config.Condition.Validate(); err != nil {
		panic(err)
	}
	lnk := &Link{
		config: *config,
		eof:    make(chan struct{}),
	}
	go lnk.forward(left, right)
	go lnk.forward(right, left)
	return lnk
}

// Close stops background goroutines moving traffic.
func (lnk *Link) Close() error {
	lnk.eofOnce.Do(func() { close(lnk.eof) })
	return nil
}

// forward moves datagrams from src to dst through a holding area
// that drops and delays them according to the link condition.
//
// The timer only runs when there are datagrams waiting.
func (lnk *Link) forward(src, dst LinkDevice) {
	cond := linkcond.New[*Datagram](lnk.config.Condition, nil)
	const idle = time.Hour
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		now := time.Now()
		for {
			dgram, found := cond.Pop(now)
			if !found {
				break
			}
			select {
			case dst.Input() <- dgram:
			case <-lnk.eof:
				return
			case <-src.EOF():
				return
			case <-dst.EOF():
				return
			}
		}

		if next, found := cond.NextRelease(); found {
			timer.Reset(max(0, next.Sub(now)))
		} else {
			timer.Reset(idle)
		}

		select {
		case dgram := <-src.Output():
			if !cond.Offer(time.Now(), dgram) && lnk.config.Logger != nil {
				lnk.config.Logger.Debug("linkDrop", slog.String("datagram", dgram.String()))
			}
		case <-timer.C:
		case <-lnk.eof:
			return
		case <-src.EOF():
			return
		case <-dst.EOF():
			return
		}
	}
}
