package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/starkguessr-go/internal/clock"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll result")
	}
	var zero T
	return zero
}

func TestPollsImmediatelyThenOnEveryTick(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	var n atomic.Int64
	results := make(chan int64, 8)

	p := New("test", func(context.Context) (int64, error) {
		return n.Add(1), nil
	}, Options[int64]{
		Interval: 5 * time.Second,
		Clock:    fc,
		OnResult: func(v int64) { results <- v },
	})
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrRunning)

	assert.Equal(t, int64(1), recv(t, results))
	fc.Advance(5 * time.Second)
	assert.Equal(t, int64(2), recv(t, results))
	fc.Advance(5 * time.Second)
	assert.Equal(t, int64(3), recv(t, results))

	p.Trigger()
	assert.Equal(t, int64(4), recv(t, results))

	p.Stop()
	p.Wait()
	assert.False(t, p.Running())
	assert.Equal(t, 0, fc.Tickers())
}

func TestResultAfterStopIsDiscarded(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int64
	results := make(chan string, 4)

	p := New("test", func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "first", nil
		}
		started <- struct{}{}
		// Ignores cancellation, like an HTTP response already on the wire.
		<-release
		return "superseded", nil
	}, Options[string]{
		Interval: time.Second,
		Clock:    fc,
		OnResult: func(v string) { results <- v },
	})
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, "first", recv(t, results))

	fc.Advance(time.Second)
	recv(t, started)
	p.Stop()
	close(release)
	p.Wait()

	assert.Len(t, results, 0)
	assert.Equal(t, uint64(1), p.Stats().Discarded)
}

func TestRestartStartsNewGeneration(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	results := make(chan int, 4)
	p := New("test", func(context.Context) (int, error) { return 1, nil }, Options[int]{
		Interval: time.Second,
		Clock:    fc,
		OnResult: func(v int) { results <- v },
	})

	require.NoError(t, p.Start(context.Background()))
	recv(t, results)
	p.Stop()
	p.Wait()

	require.NoError(t, p.Start(context.Background()))
	recv(t, results)
	p.Stop()
	p.Wait()
	assert.Equal(t, uint64(2), p.Stats().Polls)
}

func TestErrorsGoToOnError(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	errs := make(chan error, 2)
	boom := errors.New("indexer unavailable")
	p := New("test", func(context.Context) (int, error) { return 0, boom }, Options[int]{
		Interval: time.Second,
		Clock:    fc,
		OnResult: func(int) { t.Error("unexpected result") },
		OnError:  func(err error) { errs <- err },
	})
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, recv(t, errs), boom)

	// The loop keeps going after a failure.
	fc.Advance(time.Second)
	assert.ErrorIs(t, recv(t, errs), boom)
	p.Stop()
	p.Wait()
	assert.Equal(t, uint64(2), p.Stats().Errors)
}

func TestContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New("test", func(context.Context) (int, error) { return 1, nil }, Options[int]{
		Clock: clock.NewFake(time.Unix(0, 0)),
	})
	require.NoError(t, p.Start(ctx))
	cancel()
	p.Wait()
	assert.False(t, p.Running())
}

func TestStopWaitsForRunningCallback(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	entered := make(chan struct{})
	release := make(chan struct{})
	var delivered atomic.Int64

	p := New("test", func(context.Context) (int, error) { return 1, nil }, Options[int]{
		Interval: time.Second,
		Clock:    fc,
		OnResult: func(int) {
			if delivered.Add(1) == 1 {
				close(entered)
				<-release
			}
		},
	})
	require.NoError(t, p.Start(context.Background()))
	recv(t, entered)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	recv(t, stopped)
	n := delivered.Load()
	p.Trigger()
	fc.Advance(time.Second)
	p.Wait()
	assert.Equal(t, n, delivered.Load())
}

func TestUntilEndsRunFromResult(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	var n atomic.Int64
	results := make(chan int64, 8)

	p := New("test", func(context.Context) (int64, error) { return n.Add(1), nil }, Options[int64]{
		Interval: time.Second,
		Clock:    fc,
		OnResult: func(v int64) { results <- v },
		Until:    func(v int64) bool { return v == 2 },
	})
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, int64(1), recv(t, results))
	fc.Advance(time.Second)
	assert.Equal(t, int64(2), recv(t, results))

	p.Wait()
	assert.False(t, p.Running())
	assert.Len(t, results, 0)
}
