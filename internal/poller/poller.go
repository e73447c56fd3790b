// Package poller runs a fetch on a fixed interval and hands each result to a
// callback, discarding results that belong to a stopped or restarted run.
package poller

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/MJE43/starkguessr-go/internal/clock"
)

// ErrRunning is returned by Start on a poller that is already running.
var ErrRunning = errors.New("poller: already running")

// Func fetches one snapshot.
type Func[T any] func(ctx context.Context) (T, error)

// Options configures a Poller.
type Options[T any] struct {
	Interval time.Duration
	Clock    clock.Clock
	OnResult func(T)
	OnError  func(error)
	// Until ends the run after a delivered result for which it returns true.
	// It is the way to stop from inside OnResult, where Stop would block.
	Until  func(T) bool
	Logger *log.Logger
}

// Stats counts poll outcomes since construction.
type Stats struct {
	Polls     uint64 `json:"polls"`
	Errors    uint64 `json:"errors"`
	Discarded uint64 `json:"discarded"`
}

// Poller polls immediately on Start and then once per interval. Polls never
// overlap; ticks that arrive while a fetch is in flight are dropped.
type Poller[T any] struct {
	name  string
	fetch Func[T]
	opts  Options[T]
	kick  chan struct{}

	// deliver is held from the generation check through the callback.
	deliver sync.Mutex

	mu      sync.Mutex
	gen     uint64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	stats   Stats
}

// New returns a stopped poller.
func New[T any](name string, fetch Func[T], opts Options[T]) *Poller[T] {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Poller[T]{
		name:  name,
		fetch: fetch,
		opts:  opts,
		kick:  make(chan struct{}, 1),
	}
}

// Start launches the poll loop. It returns ErrRunning if already started.
func (p *Poller[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrRunning
	}
	p.gen++
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.done = make(chan struct{})
	go p.loop(ctx, p.gen, p.done)
	return nil
}

// Stop cancels the loop and invalidates any in-flight fetch. It waits for a
// callback that is already running, so no result is delivered after Stop
// returns; it does not wait for the loop to exit. Stop must not be called
// from OnResult or OnError.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	p.halt()
	p.mu.Unlock()

	p.deliver.Lock()
	p.deliver.Unlock()
}

// halt requires p.mu.
func (p *Poller[T]) halt() {
	if !p.running {
		return
	}
	p.running = false
	p.gen++
	p.cancel()
}

// Wait blocks until the most recently started loop has exited.
func (p *Poller[T]) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Trigger requests an immediate poll without waiting for the next tick.
func (p *Poller[T]) Trigger() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Running reports whether the loop is active.
func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot of the poll counters.
func (p *Poller[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller[T]) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.running = false
		}
		p.mu.Unlock()
	}()
	t := p.opts.Clock.NewTicker(p.opts.Interval)
	defer t.Stop()

	p.pollOnce(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			p.pollOnce(ctx, gen)
		case <-p.kick:
			p.pollOnce(ctx, gen)
		}
	}
}

func (p *Poller[T]) pollOnce(ctx context.Context, gen uint64) {
	v, err := p.fetch(ctx)

	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	p.stats.Polls++
	current := p.gen == gen && p.running
	if !current {
		p.stats.Discarded++
	} else if err != nil {
		p.stats.Errors++
	}
	p.mu.Unlock()

	if !current {
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.opts.Logger.Printf("%s: poll failed: %v", p.name, err)
		if p.opts.OnError != nil {
			p.opts.OnError(err)
		}
		return
	}
	if p.opts.OnResult != nil {
		p.opts.OnResult(v)
	}
	if p.opts.Until != nil && p.opts.Until(v) {
		p.mu.Lock()
		if p.gen == gen {
			p.halt()
		}
		p.mu.Unlock()
	}
}
