/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheGetOrComputeHitAndMiss(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	var computeCount int32
	compute := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&computeCount, 1)
		return 42, nil
	}

	v, err := c.GetOrCompute(context.Background(), "answer", compute)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.EqualValues(t, 1, atomic.LoadInt32(&computeCount))

	// second call is a hit, no recomputation
	v, err = c.GetOrCompute(context.Background(), "answer", compute)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.EqualValues(t, 1, atomic.LoadInt32(&computeCount))
}

func TestCacheSingleFlight(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	var computeCount int32
	computeStarted := make(chan struct{})
	computeUnblock := make(chan struct{})
	compute := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&computeCount, 1)
		close(computeStarted)
		<-computeUnblock
		return 42, nil
	}

	const numGoroutines = 10
	var wg sync.WaitGroup
	results := make([]int, numGoroutines)
	errs := make([]error, numGoroutines)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.GetOrCompute(context.Background(), "key", compute)
	}()
	<-computeStarted

	wg.Add(numGoroutines - 1)
	for i := 1; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "key",
				func(ctx context.Context) (int, error) {
					t.Error("joined caller must not invoke compute")
					return 0, nil
				})
		}(i)
	}

	// let the joiners subscribe before the computation settles
	time.Sleep(50 * time.Millisecond)
	close(computeUnblock)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&computeCount), "compute must be invoked exactly once")
	for i := 0; i < numGoroutines; i++ {
		require.NoError(t, errs[i], "goroutine %d", i)
		require.Equal(t, 42, results[i], "goroutine %d", i)
	}
}

func TestCacheTTLExpiration(t *testing.T) {
	const ttl = 100 * time.Millisecond
	c := New[string, int](Options{DefaultTTL: ttl}, nil)

	var computeCount int32
	compute := func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&computeCount, 1)), nil
	}

	v, err := c.GetOrCompute(context.Background(), "key", compute)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// the value is served from the cache before the TTL elapses
	v, err = c.GetOrCompute(context.Background(), "key", compute)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	time.Sleep(ttl + 20*time.Millisecond)

	// the value is recomputed after the TTL elapses
	v, err = c.GetOrCompute(context.Background(), "key", compute)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestCacheFailureIsNotCached(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	errCompute := errors.New("compute error")
	var computeCount int32
	failingCompute := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&computeCount, 1)
		return 0, errCompute
	}

	_, err := c.GetOrCompute(context.Background(), "key", failingCompute)
	require.ErrorIs(t, err, errCompute)
	require.Equal(t, 0, c.Len())

	// the next caller retries the computation afresh
	v, err := c.GetOrCompute(context.Background(), "key", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.EqualValues(t, 1, atomic.LoadInt32(&computeCount))
}

func TestCacheFailureRejectsAllWaiters(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	errCompute := errors.New("compute error")
	computeStarted := make(chan struct{})
	computeUnblock := make(chan struct{})

	go func() {
		_, _ = c.GetOrCompute(context.Background(), "key", func(ctx context.Context) (int, error) {
			close(computeStarted)
			<-computeUnblock
			return 0, errCompute
		})
	}()
	<-computeStarted

	const numWaiters = 5
	var wg sync.WaitGroup
	errs := make([]error, numWaiters)
	wg.Add(numWaiters)
	for i := 0; i < numWaiters; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrCompute(context.Background(), "key",
				func(ctx context.Context) (int, error) { return 0, nil })
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(computeUnblock)
	wg.Wait()

	for i, err := range errs {
		require.ErrorIs(t, err, errCompute, "waiter %d", i)
	}
	require.Equal(t, 0, c.Len())
}

func TestCacheCancellationNeverCaches(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	v, err := c.GetOrCompute(ctx, "key", func(ctx context.Context) (int, error) {
		cancel()
		return 42, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, v)
	require.Equal(t, 0, c.Len(), "canceled computation must not leave a cache entry")

	// a subsequent call with the same key recomputes
	v, err = c.GetOrCompute(context.Background(), "key", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestCacheWaiterCancellation(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	computeStarted := make(chan struct{})
	computeUnblock := make(chan struct{})
	leaderDone := make(chan struct{})

	var leaderVal int
	var leaderErr error
	go func() {
		defer close(leaderDone)
		leaderVal, leaderErr = c.GetOrCompute(context.Background(), "key", func(ctx context.Context) (int, error) {
			close(computeStarted)
			<-computeUnblock
			return 42, nil
		})
	}()
	<-computeStarted

	// the waiter gives up, the in-flight computation is not affected
	waiterCtx, waiterCancel := context.WithCancel(context.Background())
	waiterCancel()
	_, err := c.GetOrCompute(waiterCtx, "key", func(ctx context.Context) (int, error) {
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	close(computeUnblock)
	<-leaderDone
	require.NoError(t, leaderErr)
	require.Equal(t, 42, leaderVal)
	v, ok := c.Get("key")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestCacheLRUEviction(t *testing.T) {
	c := New[string, int](Options{MaxEntries: 3}, nil)

	for i := 0; i < 3; i++ {
		c.Add("key"+strconv.Itoa(i), i)
	}
	require.Equal(t, 3, c.Len())

	// touch key0 to make key1 the LRU entry
	_, ok := c.Get("key0")
	require.True(t, ok)

	c.Add("key3", 3)
	require.Equal(t, 3, c.Len())
	_, ok = c.Get("key1")
	require.False(t, ok, "the least recently used entry must be evicted")
	_, ok = c.Get("key0")
	require.True(t, ok)
	_, ok = c.Get("key3")
	require.True(t, ok)
}

func TestCachePendingEntriesAreNotEvicted(t *testing.T) {
	c := New[string, int](Options{MaxEntries: 1}, nil)

	computeStarted := make(chan struct{})
	computeUnblock := make(chan struct{})
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = c.GetOrCompute(context.Background(), "pendingKey", func(ctx context.Context) (int, error) {
			close(computeStarted)
			<-computeUnblock
			return 1, nil
		})
	}()
	<-computeStarted

	// filling the cache over capacity must not touch the pending computation
	c.Add("a", 1)
	c.Add("b", 2)

	close(computeUnblock)
	<-leaderDone

	v, ok := c.Get("pendingKey")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestCacheComputePanic(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	require.PanicsWithValue(t, "boom", func() {
		_, _ = c.GetOrCompute(context.Background(), "key", func(ctx context.Context) (int, error) {
			panic("boom")
		})
	})
	require.Equal(t, 0, c.Len())

	// the key is computable again after the panic
	v, err := c.GetOrCompute(context.Background(), "key", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestCacheComputePanicRejectsWaiters(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	computeStarted := make(chan struct{})
	computeUnblock := make(chan struct{})
	go func() {
		defer func() { _ = recover() }()
		_, _ = c.GetOrCompute(context.Background(), "key", func(ctx context.Context) (int, error) {
			close(computeStarted)
			<-computeUnblock
			panic(errors.New("boom"))
		})
	}()
	<-computeStarted

	waiterDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(context.Background(), "key",
			func(ctx context.Context) (int, error) { return 0, nil })
		waiterDone <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(computeUnblock)

	err := <-waiterDone
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	require.EqualError(t, panicErr.Unwrap(), "boom")
}

func TestCacheRemoveAndPurge(t *testing.T) {
	c := New[string, int](Options{}, nil)

	c.Add("a", 1)
	c.Add("b", 2)
	require.Equal(t, 2, c.Len())

	require.True(t, c.Remove("a"))
	require.False(t, c.Remove("a"))
	require.Equal(t, 1, c.Len())

	c.Purge()
	require.Equal(t, 0, c.Len())
}

func TestCacheRunPeriodicCleanup(t *testing.T) {
	c := New[string, int](Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		c.RunPeriodicCleanup(ctx, 10*time.Millisecond)
	}()

	c.AddWithTTL("shortLived", 1, 20*time.Millisecond)
	c.AddWithTTL("longLived", 2, time.Minute)
	c.Add("eternal", 3)

	require.Eventually(t, func() bool {
		return c.Len() == 2
	}, time.Second, 10*time.Millisecond)

	_, ok := c.Get("longLived")
	require.True(t, ok)
	_, ok = c.Get("eternal")
	require.True(t, ok)

	cancel()
	<-cleanupDone
}

func TestCacheConcurrentKeys(t *testing.T) {
	c := New[string, int](Options{DefaultTTL: time.Minute}, nil)

	const numKeys = 10
	const numCallersPerKey = 10
	computeCounts := make([]int32, numKeys)
	vals := make([]int, numKeys*numCallersPerKey)
	errs := make([]error, numKeys*numCallersPerKey)

	var wg sync.WaitGroup
	wg.Add(numKeys * numCallersPerKey)
	for k := 0; k < numKeys; k++ {
		for i := 0; i < numCallersPerKey; i++ {
			go func(k, idx int) {
				defer wg.Done()
				vals[idx], errs[idx] = c.GetOrCompute(context.Background(), fmt.Sprintf("key%d", k),
					func(ctx context.Context) (int, error) {
						atomic.AddInt32(&computeCounts[k], 1)
						time.Sleep(20 * time.Millisecond)
						return k * 10, nil
					})
			}(k, k*numCallersPerKey+i)
		}
	}
	wg.Wait()

	for k := 0; k < numKeys; k++ {
		require.EqualValues(t, 1, atomic.LoadInt32(&computeCounts[k]), "key%d", k)
		for i := 0; i < numCallersPerKey; i++ {
			idx := k*numCallersPerKey + i
			require.NoError(t, errs[idx], "key%d caller %d", k, i)
			require.Equal(t, k*10, vals[idx], "key%d caller %d", k, i)
		}
	}
}
