package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Get_missInvokesLoader(t *testing.T) {
	c := New[string](time.Minute)

	calls := 0
	v, err := c.Get("k", func(key string) (string, bool, error) {
		calls++
		assert.Equal(t, "k", key)
		return "value", true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)

	// Second get is a hit, loader not called again.
	v, err = c.Get("k", func(string) (string, bool, error) {
		calls++
		return "other", true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)
}

func TestCache_Get_noLazyExpiryOnRead(t *testing.T) {
	c := New[int](time.Millisecond)
	c.Put("k", 42)

	time.Sleep(5 * time.Millisecond)

	// Entry is stale but Sweep has not run, so the read still returns it.
	v, err := c.Get("k", func(string) (int, bool, error) {
		t.Fatal("loader should not run for a present entry")
		return 0, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCache_Get_uncacheableNotStored(t *testing.T) {
	c := New[string](time.Minute)

	calls := 0
	for i := 0; i < 2; i++ {
		v, err := c.Get("k", func(string) (string, bool, error) {
			calls++
			return "transient", false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "transient", v)
	}
	assert.Equal(t, 2, calls, "uncacheable values must hit the loader every time")
	assert.Equal(t, 0, c.Len())
}

func TestCache_Get_loaderErrorNotStored(t *testing.T) {
	c := New[string](time.Minute)
	wantErr := errors.New("backend down")

	_, err := c.Get("k", func(string) (string, bool, error) {
		return "", false, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, c.Len())

	// A later successful load still works.
	v, err := c.Get("k", func(string) (string, bool, error) {
		return "ok", true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCache_Sweep(t *testing.T) {
	expiration := 600 * time.Second
	c := New[string](expiration)
	c.Put("k", "cached")

	// Just inside the TTL: sweep keeps the entry, get returns it unchanged.
	removed := c.Sweep(time.Now().Add(expiration - time.Second))
	assert.Equal(t, 0, removed)
	v, err := c.Get("k", func(string) (string, bool, error) {
		t.Fatal("loader should not run before expiry")
		return "", false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", v)

	// Just past the TTL: sweep removes it and the next get reloads.
	removed = c.Sweep(time.Now().Add(expiration + time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, c.Len())

	reloads := 0
	v, err = c.Get("k", func(string) (string, bool, error) {
		reloads++
		return "reloaded", true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "reloaded", v)
	assert.Equal(t, 1, reloads)
}

func TestCache_Get_concurrentMissesShareOneLoad(t *testing.T) {
	c := New[int](time.Minute)

	var loads atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	const callers = 16
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get("k", func(string) (int, bool, error) {
				loads.Add(1)
				close(started)
				<-release
				return 7, true, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load(), "concurrent misses must share one loader call")
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}
