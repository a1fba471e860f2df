// SPDX-License-Identifier: GPL-3.0-or-later

package mpscq_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rbmk-project/rtsock/mpscq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitReady waits for the queue to become ready or fails the test.
func waitReady[T any](t *testing.T, q *mpscq.Queue[T]) {
	t.Helper()
	select {
	case <-q.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the queue to become ready")
	}
}

func TestQueue(t *testing.T) {
	t.Run("fifo order", func(t *testing.T) {
		q := mpscq.New[int]()
		p, err := q.NewProducer()
		require.NoError(t, err)

		for i := 0; i < 10; i++ {
			require.NoError(t, p.Push(i))
		}
		assert.Equal(t, 10, q.Len())

		for i := 0; i < 10; i++ {
			waitReady(t, q)
			v, ok := q.Pop()
			require.True(t, ok)
			assert.Equal(t, i, v)
		}
		_, ok := q.Pop()
		assert.False(t, ok)
	})

	t.Run("push after consumer close fails", func(t *testing.T) {
		q := mpscq.New[int]()
		p, err := q.NewProducer()
		require.NoError(t, err)
		require.NoError(t, p.Push(1))

		q.Close()
		q.Close() // idempotent

		assert.ErrorIs(t, p.Push(2), mpscq.ErrClosed)
		assert.Equal(t, 0, q.Len())

		_, err = q.NewProducer()
		assert.ErrorIs(t, err, mpscq.ErrClosed)

		_, err = p.Clone()
		assert.ErrorIs(t, err, mpscq.ErrClosed)
	})

	t.Run("released producer cannot push", func(t *testing.T) {
		q := mpscq.New[int]()
		p, err := q.NewProducer()
		require.NoError(t, err)
		require.NoError(t, p.Close())
		require.NoError(t, p.Close()) // idempotent
		assert.ErrorIs(t, p.Push(1), mpscq.ErrClosed)
	})

	t.Run("producers gone only after all references are released and drained", func(t *testing.T) {
		q := mpscq.New[string]()
		assert.False(t, q.ProducersGone(), "a fresh queue is not abandoned")

		p1, err := q.NewProducer()
		require.NoError(t, err)
		p2, err := p1.Clone()
		require.NoError(t, err)

		require.NoError(t, p2.Push("x"))
		require.NoError(t, p1.Close())
		assert.False(t, q.ProducersGone())

		require.NoError(t, p2.Close())
		assert.False(t, q.ProducersGone(), "must drain pending items first")

		waitReady(t, q)
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, "x", v)

		waitReady(t, q)
		assert.True(t, q.ProducersGone())
	})

	t.Run("concurrent producers", func(t *testing.T) {
		const producers, count = 8, 100
		q := mpscq.New[[2]int]()

		var wg sync.WaitGroup
		for id := 0; id < producers; id++ {
			p, err := q.NewProducer()
			require.NoError(t, err)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer p.Close()
				for seq := 0; seq < count; seq++ {
					assert.NoError(t, p.Push([2]int{id, seq}))
				}
			}()
		}
		wg.Wait()

		// Each producer's items must come out in the order it pushed them.
		next := make([]int, producers)
		for {
			v, ok := q.Pop()
			if !ok {
				break
			}
			assert.Equal(t, next[v[0]], v[1])
			next[v[0]]++
		}
		for id := 0; id < producers; id++ {
			assert.Equal(t, count, next[id])
		}
		assert.True(t, q.ProducersGone())
	})
}
