package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Defaults(t *testing.T) {
	p := New(Config{}, nil)
	defer p.Stop(context.Background())
	assert.Equal(t, 16, p.Workers())
	assert.Equal(t, 1000, cap(p.queues[0]))
}

func TestPool_PreservesOrderPerKey(t *testing.T) {
	p := New(Config{Name: "test", Workers: 4, QueueSize: 8}, nil)

	var mu sync.Mutex
	got := map[string][]int{}
	keys := []string{"s1/1", "s1/2", "s2/1", "s3/9"}
	for i := 0; i < 200; i++ {
		for _, key := range keys {
			key, i := key, i
			require.NoError(t, p.Submit(key, func() {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			}))
		}
	}
	require.NoError(t, p.Stop(context.Background()))

	for _, key := range keys {
		require.Len(t, got[key], 200, key)
		for i, v := range got[key] {
			assert.Equal(t, i, v, key)
		}
	}
	assert.Equal(t, 0, p.Pending())
}

func TestPool_SameKeyNeverConcurrent(t *testing.T) {
	p := New(Config{Workers: 8}, nil)
	var running, maxRunning atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit("same", func() {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		}))
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestPool_RecoversPanics(t *testing.T) {
	p := New(Config{Workers: 1}, nil)
	var ran atomic.Bool
	require.NoError(t, p.Submit("k", func() { panic("boom") }))
	require.NoError(t, p.Submit("k", func() { ran.Store(true) }))
	require.NoError(t, p.Stop(context.Background()))
	assert.True(t, ran.Load())
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := New(Config{Workers: 2}, nil)
	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, p.Submit("k", func() {}), ErrStopped)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_StopTimeout(t *testing.T) {
	p := New(Config{Workers: 1}, nil)
	release := make(chan struct{})
	require.NoError(t, p.Submit("k", func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, p.Pending())
	close(release)
}

func TestPool_StopReleasesBlockedSubmit(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1}, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, p.Submit("k", func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit("k", func() {}))

	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit("k", func() {})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second)

	select {
	case err := <-submitted:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("blocked Submit did not return after Stop")
	}
	assert.Equal(t, 2, p.Pending())
}

func TestPool_KeysSpreadAcrossWorkers(t *testing.T) {
	p := New(Config{Workers: 4}, nil)
	defer p.Stop(context.Background())
	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		seen[p.worker(fmt.Sprintf("session-%d/1", i))] = true
	}
	assert.Len(t, seen, 4)
}
