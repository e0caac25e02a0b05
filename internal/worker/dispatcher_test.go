package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/logger"
)

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d := NewDispatcher(context.Background(), cfg)
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcherRunsUserJobsInOrder(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 2, MaxWorkers: 4, QueueSize: 32})

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, d.Submit(Job{Type: Relay, UserID: 7, Run: func(ctx context.Context) {
			defer wg.Done()
			// later jobs would overtake if the user were dispatched in parallel
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}}))
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestDispatcherNeverOverlapsOneUser(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 4, MaxWorkers: 8, QueueSize: 64})

	var (
		inFlight int32
		overlap  int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, d.Submit(Job{Type: Relay, UserID: 1, Run: func(ctx context.Context) {
			defer wg.Done()
			if atomic.AddInt32(&inFlight, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}}))
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestDispatcherSlowUserDoesNotBlockOthers(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 2, QueueSize: 8})

	release := make(chan struct{})
	require.NoError(t, d.Submit(Job{Type: Select, UserID: 1, Run: func(ctx context.Context) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}}))

	done := make(chan struct{})
	require.NoError(t, d.Submit(Job{Type: Relay, UserID: 2, Run: func(ctx context.Context) {
		close(done)
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second user was blocked by the first")
	}
	close(release)
}

func TestDispatcherQueuesBehindRunningJob(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 2, MaxWorkers: 2, QueueSize: 8})

	started := make(chan struct{})
	release := make(chan struct{})
	second := make(chan struct{})
	require.NoError(t, d.Submit(Job{Type: Select, UserID: 3, Run: func(ctx context.Context) {
		close(started)
		<-release
	}}))
	<-started
	require.NoError(t, d.Submit(Job{Type: Select, UserID: 3, Run: func(ctx context.Context) {
		close(second)
	}}))

	select {
	case <-second:
		t.Fatal("second job ran while the first was still running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, d.Pending())

	close(release)
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("queued job never ran")
	}
}

func TestDispatcherRejectsWhenQueueFull(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, d.Submit(Job{UserID: 1, Run: func(ctx context.Context) {
		close(started)
		<-block
	}}))
	<-started

	// a second user parks the run loop waiting for the only worker
	require.NoError(t, d.Submit(Job{UserID: 2, Run: func(ctx context.Context) {}}))

	require.Eventually(t, func() bool {
		return errors.Is(d.Submit(Job{UserID: 3, Run: func(ctx context.Context) {}}), ErrDispatcherBusy)
	}, 2*time.Second, time.Millisecond)
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 8})

	require.NoError(t, d.Submit(Job{UserID: 5, Run: func(ctx context.Context) {
		panic("boom")
	}}))
	done := make(chan struct{})
	require.NoError(t, d.Submit(Job{UserID: 5, Run: func(ctx context.Context) {
		close(done)
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("user queue stalled after a panic")
	}
}

func TestDispatcherStopCancelsJobs(t *testing.T) {
	d := NewDispatcher(context.Background(), Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 8})

	started := make(chan struct{})
	canceled := make(chan struct{})
	require.NoError(t, d.Submit(Job{UserID: 9, Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	}}))
	<-started

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
	<-canceled
	assert.ErrorIs(t, d.Submit(Job{UserID: 9}), ErrDispatcherStopped)
	assert.Zero(t, d.Workers())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDispatcherLogsJobDroppedByClosedPool(t *testing.T) {
	out := &syncBuffer{}
	logger.SetOutput(out)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 8})
	d.pool.close()

	var ran atomic.Bool
	require.NoError(t, d.Submit(Job{Type: Relay, UserID: 4, Run: func(ctx context.Context) {
		ran.Store(true)
	}}))

	require.Eventually(t, func() bool {
		return d.Pending() == 0 && strings.Contains(out.String(), "dropping job")
	}, 2*time.Second, time.Millisecond)
	assert.False(t, ran.Load())
	assert.Contains(t, out.String(), "user_id=4")
}

func TestPoolShrinksToMinimum(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newJobChannelPool(ctx, 1, 3, time.Hour)
	defer p.close()

	for i := 0; i < 3; i++ {
		p.spawnWorker()
	}
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.idle) == 3
	}, time.Second, 5*time.Millisecond)

	p.mu.Lock()
	for _, meta := range p.idle {
		meta.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()
	p.shutdownExpired()

	require.Eventually(t, func() bool { return p.size() == 1 }, time.Second, 5*time.Millisecond)
}
