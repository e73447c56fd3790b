package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/MJE43/starkguessr-go/internal/commitment"
	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/ledger"
	"github.com/MJE43/starkguessr-go/internal/locations"
	"github.com/MJE43/starkguessr-go/internal/scoring"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

// chain is an in-memory actions contract that checks commitments the way
// the deployed one does.
type chain struct {
	mu          sync.Mutex
	now         time.Time
	next        uint64
	games       map[uint64]*game.Game
	gets        int
	submits     []string
	timeoutNext bool
	rejectNext  string
	hideIndex   bool
}

func newChain(now time.Time) *chain {
	return &chain{now: now, games: make(map[uint64]*game.Game)}
}

func (c *chain) ledgerCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets + len(c.submits)
}

func (c *chain) snapshot(id uint64) *game.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.games[id]
	if !ok {
		return nil
	}
	return copyGame(g)
}

func copyGame(g *game.Game) *game.Game {
	cp := *g
	cp.Guesses = append([]game.PlayerGuess(nil), g.Guesses...)
	return &cp
}

func u64Of(lo, hi *felt.Felt) uint64 {
	v, err := wire.U256(lo, hi)
	if err != nil {
		panic(err)
	}
	return v.Uint64()
}

func revealed(cd []*felt.Felt) (geo.Fixed, *felt.Felt) {
	f := geo.Fixed{Lat: u64Of(cd[2], cd[3]), Lng: u64Of(cd[4], cd[5])}
	return f, cd[6]
}

func (c *chain) submit(player game.Address, call ledger.Call) (*ledger.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits = append(c.submits, call.Entrypoint)

	if c.timeoutNext {
		c.timeoutNext = false
		return nil, fmt.Errorf("ledger: transaction 0x1: %w", game.ErrConfirmationTimeout)
	}
	if c.rejectNext != "" {
		reason := c.rejectNext
		c.rejectNext = ""
		return nil, &ledger.RevertError{TxHash: "0x1", Reason: reason}
	}
	fail := func(reason string) (*ledger.Receipt, error) {
		return nil, &ledger.RevertError{TxHash: "0xdead", Reason: reason}
	}

	if call.Entrypoint == ledger.EntryCreateGame {
		c.next++
		c.games[c.next] = &game.Game{
			ID:                 c.next,
			Player1:            player,
			State:              game.AwaitingPlayer,
			LocationCommitment: call.Calldata[0],
		}
		return &ledger.Receipt{}, nil
	}

	g, ok := c.games[u64Of(call.Calldata[0], call.Calldata[1])]
	if !ok {
		return fail("Game not found")
	}
	idx := -1
	for i, pg := range g.Guesses {
		if pg.Player == player {
			idx = i
		}
	}

	switch call.Entrypoint {
	case ledger.EntryJoinGame:
		if player == g.Player1 {
			return fail("Cannot join own game")
		}
		if !g.Player2.IsZero() {
			return fail("Game full")
		}
		g.Player2 = player
		g.State = game.Active
		g.EndTime = c.now.Add(3 * time.Minute)
		g.Guesses = []game.PlayerGuess{{Player: g.Player1}, {Player: g.Player2}}

	case ledger.EntrySubmitGuess:
		if idx < 0 {
			return fail("Not a player")
		}
		if g.Guesses[idx].HasSubmitted {
			return fail("Guess already submitted")
		}
		g.Guesses[idx].Commitment = call.Calldata[2]
		g.Guesses[idx].HasSubmitted = true

	case ledger.EntryRevealLocation:
		if g.LocationRevealed {
			return fail("Location already revealed")
		}
		if !g.BothSubmitted() {
			return fail("Invalid state")
		}
		f, salt := revealed(call.Calldata)
		if !commitment.ComputeFixed(f, salt).Equal(g.LocationCommitment) {
			return fail("Invalid reveal: commitment mismatch")
		}
		loc, err := geo.Decode(f)
		if err != nil {
			return fail("Invalid coordinates")
		}
		g.ActualLocation = &loc
		g.LocationRevealed = true
		g.State = game.Revealing

	case ledger.EntryRevealGuess:
		if !g.LocationRevealed {
			return fail("Invalid state")
		}
		if idx < 0 {
			return fail("Not a player")
		}
		pg := &g.Guesses[idx]
		if pg.HasRevealed {
			return fail("Guess already revealed")
		}
		f, salt := revealed(call.Calldata)
		if !commitment.ComputeFixed(f, salt).Equal(pg.Commitment) {
			return fail("Invalid reveal: commitment mismatch")
		}
		guess, err := geo.Decode(f)
		if err != nil {
			return fail("Invalid coordinates")
		}
		score := scoring.MetersOf(scoring.Distance(guess, *g.ActualLocation))
		pg.RevealedGuess = &guess
		pg.HasRevealed = true
		pg.Score = &score
		if g.BothRevealed() {
			out, _ := scoring.Winner([]scoring.Score{
				{Player: string(g.Guesses[0].Player), Meters: *g.Guesses[0].Score},
				{Player: string(g.Guesses[1].Player), Meters: *g.Guesses[1].Score},
			})
			g.Winner = game.Address(out.Winner)
			g.State = game.Finished
		}

	default:
		return fail("unknown entrypoint " + call.Entrypoint)
	}
	return &ledger.Receipt{}, nil
}

// fakeLedger is one player's view of the chain.
type fakeLedger struct {
	c      *chain
	player game.Address
}

func (l *fakeLedger) GetGame(_ context.Context, id uint64) (*game.Game, error) {
	l.c.mu.Lock()
	l.c.gets++
	l.c.mu.Unlock()
	g := l.c.snapshot(id)
	if g == nil {
		return nil, fmt.Errorf("ledger: game %d: %w", id, game.ErrGameNotFound)
	}
	return g, nil
}

func (l *fakeLedger) Submit(_ context.Context, call ledger.Call) (*ledger.Receipt, error) {
	return l.c.submit(l.player, call)
}

func (l *fakeLedger) Actions() *felt.Felt { return wire.FeltFromUint64(0xac7) }

type fakeIndex struct{ c *chain }

func (ix *fakeIndex) GetGame(_ context.Context, id uint64) (*game.Game, error) {
	g := ix.c.snapshot(id)
	if g == nil {
		return nil, fmt.Errorf("torii: game %d: %w", id, game.ErrGameNotFound)
	}
	return g, nil
}

func (ix *fakeIndex) ListGames(_ context.Context, limit int, order game.Order) ([]*game.Game, error) {
	ix.c.mu.Lock()
	defer ix.c.mu.Unlock()
	if ix.c.hideIndex {
		return nil, nil
	}
	var out []*game.Game
	for _, g := range ix.c.games {
		out = append(out, copyGame(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if order == game.OrderAsc {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeBackend struct {
	mu     sync.Mutex
	target locations.Target
	secret *locations.Target
	saved  []locations.SavedLocation
}

func (b *fakeBackend) RandomLocation(context.Context) (locations.Target, error) {
	return b.target, nil
}

func (b *fakeBackend) SaveGameLocation(_ context.Context, s locations.SavedLocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = append(b.saved, s)
	return nil
}

func (b *fakeBackend) Secret(_ context.Context, id uint64) (locations.Target, error) {
	if b.secret == nil {
		return locations.Target{}, fmt.Errorf("locations: game %d: %w", id, game.ErrSecretNotFound)
	}
	return *b.secret, nil
}

func (b *fakeBackend) Panorama(context.Context, uint64) (json.RawMessage, error) {
	return json.RawMessage(`{"panoId":"pano-1"}`), nil
}
