package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/poller"
)

// WatchOptions receives watch events. Callbacks run on the polling or
// action goroutine; they must not block or call Stop.
type WatchOptions struct {
	OnDecision func(game.Decision)
	// OnError receives fatal action failures.
	OnError func(error)
}

// Status is a snapshot of a watch.
type Status struct {
	ID       string        `json:"id"`
	GameID   uint64        `json:"game_id"`
	Running  bool          `json:"running"`
	Decision game.Decision `json:"decision"`
	Game     *game.Game    `json:"game,omitempty"`
	Error    string        `json:"error,omitempty"`
	Polls    poller.Stats  `json:"polls"`
}

// Watch polls one game and runs the reveals the state machine requests.
type Watch struct {
	ID     string
	GameID uint64

	s       *Session
	opts    WatchOptions
	machine *game.Machine
	poll    *poller.Poller[*game.Game]
	ctx     context.Context
	cancel  context.CancelFunc
	actions sync.WaitGroup
	// finished is set once a non-stale ShowResults decision is seen.
	finished atomic.Bool

	mu      sync.Mutex
	last    game.Decision
	lastErr error
}

// Watch starts polling game id every GamePoll. Watching a game that is
// already watched returns the existing watch.
func (s *Session) Watch(ctx context.Context, id uint64, opts WatchOptions) (*Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watches[id]; ok && w.poll.Running() {
		return w, nil
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		ID:     uuid.NewString(),
		GameID: id,
		s:      s,
		opts:   opts,
		machine: game.NewMachine(id, game.Options{
			Player:                        s.cfg.Player,
			AnyParticipantRevealsLocation: s.cfg.AnyParticipantRevealsLocation,
			Now:                           s.cfg.Clock.Now,
		}),
		ctx:    wctx,
		cancel: cancel,
	}
	w.poll = poller.New(
		"watch game",
		func(ctx context.Context) (*game.Game, error) { return s.fetchGame(ctx, id) },
		poller.Options[*game.Game]{
			Interval: s.cfg.GamePoll,
			Clock:    s.cfg.Clock,
			OnResult: w.observe,
			Until:    func(*game.Game) bool { return w.finished.Load() },
			Logger:   s.cfg.Logger,
		},
	)
	if err := w.poll.Start(wctx); err != nil {
		cancel()
		return nil, err
	}
	s.watches[id] = w
	s.cfg.Logger.Printf("watching game %d (%s)", id, w.ID)
	return w, nil
}

// Watching returns the watch for game id, if any.
func (s *Session) Watching(id uint64) (*Watch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	return w, ok
}

// StopWatch stops and forgets the watch for game id.
func (s *Session) StopWatch(id uint64) bool {
	s.mu.Lock()
	w, ok := s.watches[id]
	delete(s.watches, id)
	s.mu.Unlock()
	if ok {
		w.Stop()
	}
	return ok
}

// fetchGame reads the index and falls back to the ledger when the index
// has not caught up or is down.
func (s *Session) fetchGame(ctx context.Context, id uint64) (*game.Game, error) {
	g, err := s.cfg.Index.GetGame(ctx, id)
	if err == nil {
		return g, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	lg, lerr := s.cfg.Ledger.GetGame(ctx, id)
	if lerr != nil {
		return nil, errors.Join(err, lerr)
	}
	return lg, nil
}

// Stop ends polling and cancels any running action. Results of polls still
// in flight are discarded.
func (w *Watch) Stop() {
	w.poll.Stop()
	w.cancel()
}

// Wait blocks until the poll loop and all actions have returned.
func (w *Watch) Wait() {
	w.poll.Wait()
	w.actions.Wait()
}

// Trigger polls immediately.
func (w *Watch) Trigger() { w.poll.Trigger() }

// Status returns the latest decision and error.
func (w *Watch) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		ID:       w.ID,
		GameID:   w.GameID,
		Running:  w.poll.Running(),
		Decision: w.last,
		Polls:    w.poll.Stats(),
	}
	st.Game, _, _ = w.machine.Projection()
	if w.lastErr != nil {
		st.Error = w.lastErr.Error()
	}
	return st
}

func (w *Watch) observe(g *game.Game) {
	d, err := w.machine.Observe(g)
	if err != nil {
		w.s.cfg.Logger.Printf("game %d: %v", w.GameID, err)
		return
	}
	w.mu.Lock()
	w.last = d
	w.mu.Unlock()

	if w.opts.OnDecision != nil {
		w.opts.OnDecision(d)
	}
	if d.Stale {
		return
	}
	if d.Action == game.ActionShowResults {
		w.s.cfg.Logger.Printf("game %d finished", w.GameID)
		w.finished.Store(true)
		return
	}
	if d.Auto && w.s.cfg.AutoReveal {
		w.run(d.Action)
	}
}

// run executes an automatic action off the polling goroutine so a
// confirmation wait never delays the next poll.
func (w *Watch) run(action game.Action) {
	var fn func(context.Context, uint64) error
	switch action {
	case game.ActionRevealLocation:
		fn = w.s.RevealLocation
	case game.ActionRevealGuess:
		fn = w.s.RevealGuess
	default:
		return
	}
	w.actions.Add(1)
	go func() {
		defer w.actions.Done()
		start := time.Now()
		err := fn(w.ctx, w.GameID)
		w.settle(action, err, time.Since(start))
	}()
}

func (w *Watch) settle(action game.Action, err error, took time.Duration) {
	log := w.s.cfg.Logger
	switch {
	case err == nil:
		log.Printf("game %d: %s confirmed in %s", w.GameID, action, took.Round(time.Millisecond))
		w.poll.Trigger()
	case errors.Is(err, game.ErrConflict), errors.Is(err, game.ErrDuplicate):
		// Another observer got there first.
		log.Printf("game %d: %s not needed: %v", w.GameID, action, err)
		w.poll.Trigger()
	case w.ctx.Err() != nil:
		log.Printf("game %d: %s abandoned: watch stopped", w.GameID, action)
	case game.IsTransient(err):
		log.Printf("game %d: %s failed, retrying on next poll: %v", w.GameID, action, err)
		w.machine.Rearm(action)
	default:
		log.Printf("game %d: %s failed: %v", w.GameID, action, err)
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		if w.opts.OnError != nil {
			w.opts.OnError(err)
		}
	}
}

// StartWatch starts (or reuses) a watch on game id and returns its status.
func (s *Session) StartWatch(ctx context.Context, id uint64) (Status, error) {
	w, err := s.Watch(ctx, id, WatchOptions{})
	if err != nil {
		return Status{}, err
	}
	return w.Status(), nil
}

// WatchStatus returns the status of the watch on game id.
func (s *Session) WatchStatus(id uint64) (Status, bool) {
	w, ok := s.Watching(id)
	if !ok {
		return Status{}, false
	}
	return w.Status(), true
}
