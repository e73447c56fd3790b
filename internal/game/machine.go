package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/MJE43/starkguessr-go/internal/scoring"
)

// Options configures a Machine.
type Options struct {
	// Player is the local player's address.
	Player Address

	// AnyParticipantRevealsLocation lets the non-creator issue reveal_location
	// too (the backend hands the creator's secret to any participant).
	AnyParticipantRevealsLocation bool

	// Now is the clock used for deadline checks. Defaults to time.Now.
	Now func() time.Time
}

// Decision is what the local player should do after one observation.
type Decision struct {
	GameID   uint64 `json:"game_id"`
	Observed State  `json:"observed"`
	// Phase is the projected state. It equals Observed except that
	// Active with both commitments in is projected as Revealing.
	Phase  State  `json:"phase"`
	Action Action `json:"action"`
	// Auto marks actions that need no user input and may be run directly.
	Auto      bool             `json:"auto"`
	Reason    string           `json:"reason,omitempty"`
	Remaining time.Duration    `json:"remaining"`
	Expired   bool             `json:"expired"`
	Stale     bool             `json:"stale,omitempty"`
	Outcome   *scoring.Outcome `json:"outcome,omitempty"`
}

// Machine tracks one game for one player. It holds no independent state of
// its own beyond the highest phase seen and which one-shot actions were
// already requested; everything else is recomputed from each observation.
type Machine struct {
	gameID uint64
	opts   Options

	mu        sync.Mutex
	seen      bool
	phase     State
	observed  State
	last      *Game
	requested map[Action]bool
}

// NewMachine returns a machine for gameID.
func NewMachine(gameID uint64, opts Options) *Machine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{
		gameID:    gameID,
		opts:      opts,
		requested: make(map[Action]bool),
	}
}

// GameID returns the tracked game.
func (m *Machine) GameID() uint64 { return m.gameID }

// Projection returns the last accepted observation and its phase.
func (m *Machine) Projection() (*Game, State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.phase, m.seen
}

// Rearm allows a one-shot action to be requested again, after its attempt
// failed transiently.
func (m *Machine) Rearm(action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requested, action)
}

// Observe folds a polled game record into the projection and decides the
// next action. Observations that would move the projection backwards (an
// indexer lagging behind an earlier ledger read) are discarded.
func (m *Machine) Observe(g *Game) (Decision, error) {
	if g == nil {
		return Decision{}, fmt.Errorf("game: nil observation for game %d", m.gameID)
	}
	if g.ID != m.gameID {
		return Decision{}, fmt.Errorf("game: observation for game %d sent to machine for game %d", g.ID, m.gameID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	phase := projectPhase(g)
	if m.seen && (phase < m.phase || g.State < m.observed) {
		return Decision{
			GameID:   m.gameID,
			Observed: m.observed,
			Phase:    m.phase,
			Action:   ActionWait,
			Stale:    true,
			Reason:   fmt.Sprintf("discarded stale observation (%s behind %s)", phase, m.phase),
		}, nil
	}
	m.seen = true
	m.phase = phase
	m.observed = g.State
	m.last = g

	d := Decision{GameID: g.ID, Observed: g.State, Phase: phase, Action: ActionWait}
	now := m.opts.Now()
	me := m.opts.Player

	switch phase {
	case AwaitingPlayer:
		switch {
		case me == g.Player1:
			d.Reason = "waiting for an opponent to join"
		case !me.IsZero() && g.Player2.IsZero():
			d.Action = ActionJoin
			d.Reason = "game is open"
		default:
			d.Action = ActionNone
		}

	case Active:
		if !g.IsParticipant(me) {
			d.Action = ActionNone
			d.Reason = "spectating"
			break
		}
		d.Remaining = g.Remaining(now)
		d.Expired = !g.EndTime.IsZero() && !now.Before(g.EndTime)
		mine, ok := g.GuessOf(me)
		if !ok || !mine.HasSubmitted {
			// Past the deadline the guess is still attempted; the ledger
			// decides whether it is accepted.
			d.Action = ActionSubmitGuess
			d.Reason = "awaiting your guess"
			break
		}
		d.Reason = "waiting for the other guess"

	case Revealing:
		if !g.IsParticipant(me) {
			d.Action = ActionNone
			d.Reason = "spectating"
			break
		}
		if !g.LocationRevealed {
			if me != g.Creator() && !m.opts.AnyParticipantRevealsLocation {
				d.Reason = "waiting for the creator to reveal the location"
				break
			}
			m.requestOnce(&d, ActionRevealLocation, "both guesses are in; reveal the location")
			break
		}
		mine, ok := g.GuessOf(me)
		switch {
		case !ok || !mine.HasSubmitted:
			d.Reason = "no guess was submitted"
		case mine.HasRevealed:
			d.Reason = "waiting for the other reveal"
		default:
			m.requestOnce(&d, ActionRevealGuess, "location revealed; reveal your guess")
		}

	case Finished:
		d.Action = ActionShowResults
		if out, ok := outcomeOf(g); ok {
			d.Outcome = &out
		}
	}
	return d, nil
}

func (m *Machine) requestOnce(d *Decision, action Action, reason string) {
	if m.requested[action] {
		d.Action = ActionWait
		d.Reason = string(action) + " already requested"
		return
	}
	m.requested[action] = true
	d.Action = action
	d.Auto = true
	d.Reason = reason
}

// projectPhase applies the one locally derived transition: Active with both
// commitments submitted and the location still hidden is Revealing.
func projectPhase(g *Game) State {
	if g.State == Active && g.BothSubmitted() {
		return Revealing
	}
	return g.State
}

func outcomeOf(g *Game) (scoring.Outcome, bool) {
	var scores []scoring.Score
	for _, pg := range g.Guesses {
		if pg.Score == nil {
			return scoring.Outcome{}, false
		}
		scores = append(scores, scoring.Score{Player: string(pg.Player), Meters: *pg.Score})
	}
	out, err := scoring.Winner(scores)
	if err != nil {
		return scoring.Outcome{}, false
	}
	return out, true
}

// Outcome computes the result of a finished game from the revealed scores.
func Outcome(g *Game) (scoring.Outcome, error) {
	if g.State != Finished {
		return scoring.Outcome{}, Wrap(g.ID, ActionShowResults, fmt.Errorf("%w: game is %s", ErrConflict, g.State))
	}
	out, ok := outcomeOf(g)
	if !ok {
		return scoring.Outcome{}, Wrap(g.ID, ActionShowResults, fmt.Errorf("%w: scores not available", ErrConflict))
	}
	return out, nil
}
