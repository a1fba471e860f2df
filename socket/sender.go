// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"github.com/rbmk-project/rtsock/mpscq"
	"github.com/rbmk-project/rtsock/packet"
	"github.com/rbmk-project/rtsock/sockerr"
)

// MessageSender enqueues outbound packets for a [Socket].
//
// A [*MessageSender] is safe for concurrent use by multiple goroutines
// and may outlive the [Socket]: once the [Socket] is closed, Send fails
// with an error wrapping [sockerr.ErrQueueClosed].
//
// Construct using [Socket.Sender] or [*MessageSender.Clone].
type MessageSender struct {
	// producer is the queue producer or nil if the queue was
	// already closed when we created this sender.
	producer *mpscq.Producer[*packet.Packet]
}

// newMessageSender creates a [*MessageSender] for the given queue.
func newMessageSender(queue *mpscq.Queue[*packet.Packet]) *MessageSender {
	producer, _ := queue.NewProducer() // nil producer means closed
	return &MessageSender{producer: producer}
}

// Send enqueues the given packet without blocking.
func (ms *MessageSender) Send(pkt *packet.Packet) error {
	if ms.producer == nil {
		return sockerr.ErrQueueClosed
	}
	if err := ms.producer.Push(pkt); err != nil {
		return sockerr.ErrQueueClosed
	}
	return nil
}

// Clone returns a new [*MessageSender] bound to the same [Socket].
//
// Cloning a closed [*MessageSender] returns a sender whose Send
// always fails with [sockerr.ErrQueueClosed].
func (ms *MessageSender) Clone() *MessageSender {
	if ms.producer == nil {
		return &MessageSender{}
	}
	producer, _ := ms.producer.Clone() // nil producer means closed
	return &MessageSender{producer: producer}
}

// Close releases this sender. Subsequent calls to Send fail
// with [sockerr.ErrQueueClosed]. This method is idempotent.
func (ms *MessageSender) Close() error {
	if ms.producer == nil {
		return nil
	}
	return ms.producer.Close()
}
