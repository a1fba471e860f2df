//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/x/blob/main/netsim/geolink/geolink.go
//

/*
Package linkcond models a degraded network link.

A [*Conditioner] is a holding area for items (typically packets) that
arrive from a link. Each offered item is either dropped, according to
the configured loss probability, or scheduled for release after the
configured latency and jitter. Items are released by polling the
[*Conditioner] with the current time.

Jitter causes reordering unless [Config] disables it, in which case
release times are forced to be monotonic.

The [Config] presets model common connection qualities.
*/
package linkcond

import (
	"container/heap"
	"math/rand/v2"
	"time"
)

// Rand is the source of randomness used by a [*Conditioner].
//
// The [*rand.Rand] type implements this interface.
type Rand interface {
	Float64() float64
	Int64N(n int64) int64
}

// Conditioner is a holding area for items flowing through a degraded link.
//
// A [*Conditioner] IS NOT goroutine safe.
//
// Construct using [New].
type Conditioner[T any] struct {
	// config is the link configuration.
	config Config

	// held contains the items waiting for release.
	held heldItems[T]

	// lastRelease is the latest scheduled release time.
	lastRelease time.Time

	// rng is the source of randomness.
	rng Rand

	// seq is the arrival sequence number of the next item.
	seq uint64
}

// New creates a new [*Conditioner] using the given [*Config] and [Rand].
//
// A nil [Rand] means using a [*rand.Rand] seeded from the runtime.
//
// The config must be valid; see [*Config.Validate].
func New[T any](config *Config, rng Rand) *Conditioner[T] {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Conditioner[T]{config: *config, rng: rng}
}

// Offer hands an item arrived at the given time to the [*Conditioner].
//
// The return value is false if the item was dropped.
func (c *Conditioner[T]) Offer(now time.Time, item T) bool {
	if c.config.IncomingLoss > 0 && c.rng.Float64() < c.config.IncomingLoss {
		return false
	}

	release := now.Add(c.delay())
	if !c.config.AllowReorder && release.Before(c.lastRelease) {
		release = c.lastRelease
	}
	if release.After(c.lastRelease) {
		c.lastRelease = release
	}

	heap.Push(&c.held, heldItem[T]{release: release, seq: c.seq, value: item})
	c.seq++
	return true
}

// delay returns the latency to apply to the next item.
func (c *Conditioner[T]) delay() time.Duration {
	delay := c.config.IncomingLatency
	if jitter := c.config.IncomingJitter; jitter > 0 {
		delay += time.Duration(c.rng.Int64N(int64(2*jitter)+1)) - jitter
	}
	return max(0, delay)
}

// Pop returns the next item whose release time is not after now. The
// boolean is false when no item is ready.
func (c *Conditioner[T]) Pop(now time.Time) (T, bool) {
	if len(c.held) <= 0 || c.held[0].release.After(now) {
		var zero T
		return zero, false
	}
	return heap.Pop(&c.held).(heldItem[T]).value, true
}

// NextRelease returns the earliest release time among held items. The
// boolean is false when there are no held items.
func (c *Conditioner[T]) NextRelease() (time.Time, bool) {
	if len(c.held) <= 0 {
		return time.Time{}, false
	}
	return c.held[0].release, true
}

// Len returns the number of held items.
func (c *Conditioner[T]) Len() int {
	return len(c.held)
}

// heldItem is an item waiting for release.
type heldItem[T any] struct {
	release time.Time
	seq     uint64
	value   T
}

// heldItems implements [heap.Interface] ordering by release time
// and then by arrival sequence.
type heldItems[T any] []heldItem[T]

var _ heap.Interface = &heldItems[int]{}

func (h heldItems[T]) Len() int { return len(h) }

func (h heldItems[T]) Less(i, j int) bool {
	if h[i].release.Equal(h[j].release) {
		return h[i].seq < h[j].seq
	}
	return h[i].release.Before(h[j].release)
}

func (h heldItems[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *heldItems[T]) Push(x any) {
	*h = append(*h, x.(heldItem[T]))
}

func (h *heldItems[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = heldItem[T]{}
	*h = old[:n-1]
	return item
}
