// SPDX-License-Identifier: GPL-3.0-or-later

package closepool_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/rbmk-project/rtsock/closepool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder records the order in which resources are closed.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) closer(name string, err error) closepool.Func {
	return func() error {
		r.mu.Lock()
		r.names = append(r.names, name)
		r.mu.Unlock()
		return err
	}
}

func TestPool(t *testing.T) {
	t.Run("closes in reverse order", func(t *testing.T) {
		var (
			pool closepool.Pool
			rec  recorder
		)
		pool.Add(rec.closer("udp socket", nil))
		pool.AddFunc(rec.closer("peer connection", nil))
		assert.Equal(t, 2, pool.Len())

		require.NoError(t, pool.Close())
		assert.Equal(t, []string{"peer connection", "udp socket"}, rec.names)
		assert.Equal(t, 0, pool.Len())
	})

	t.Run("joins the errors", func(t *testing.T) {
		var (
			pool closepool.Pool
			rec  recorder
		)
		expectedErr1 := errors.New("close error #1")
		expectedErr2 := errors.New("close error #2")
		pool.Add(rec.closer("first", expectedErr1))
		pool.Add(rec.closer("second", nil))
		pool.Add(rec.closer("third", expectedErr2))

		err := pool.Close()
		assert.ErrorIs(t, err, expectedErr1)
		assert.ErrorIs(t, err, expectedErr2)
		assert.Equal(t, errors.Join(expectedErr2, expectedErr1).Error(), err.Error())
		assert.Len(t, rec.names, 3)
	})

	t.Run("closing twice is a no-op", func(t *testing.T) {
		var (
			pool closepool.Pool
			rec  recorder
		)
		pool.Add(rec.closer("only", nil))
		require.NoError(t, pool.Close())
		require.NoError(t, pool.Close())
		assert.Equal(t, []string{"only"}, rec.names)
	})

	t.Run("concurrent usage", func(t *testing.T) {
		var (
			pool closepool.Pool
			rec  recorder
			wg   sync.WaitGroup
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 25; j++ {
					pool.Add(rec.closer("x", nil))
				}
			}()
		}
		wg.Wait()

		require.NoError(t, pool.Close())
		assert.Len(t, rec.names, 100)
	})
}
