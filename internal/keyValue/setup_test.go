package keyValue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLocalSetGet(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(zaptest.NewLogger(t).Sugar())

	v, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	v, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = store.GetDel(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestLocalExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(zaptest.NewLogger(t).Sugar())

	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "k", "v", time.Second))

	now = now.Add(2 * time.Second)
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "", v, "expired keys must read as missing before the sweep runs")

	store.sweep()
	store.mutex.RLock()
	assert.Empty(t, store.hashmap)
	store.mutex.RUnlock()
}

func TestLocalSetNX(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(zaptest.NewLogger(t).Sugar())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.SetNX(ctx, "claim", "x", time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
