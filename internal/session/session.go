// Package session drives one local player through the game: it owns the
// commit/reveal flows, keeps pre-images in the secret store, and runs the
// polling loops that feed the state machine.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/MJE43/starkguessr-go/internal/clock"
	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/ledger"
	"github.com/MJE43/starkguessr-go/internal/locations"
	"github.com/MJE43/starkguessr-go/internal/poller"
	"github.com/MJE43/starkguessr-go/internal/secrets"
)

// Ledger is the authoritative read and write path.
type Ledger interface {
	GetGame(ctx context.Context, id uint64) (*game.Game, error)
	Submit(ctx context.Context, call ledger.Call) (*ledger.Receipt, error)
	Actions() *felt.Felt
}

// Index is the eventually consistent read model.
type Index interface {
	GetGame(ctx context.Context, id uint64) (*game.Game, error)
	ListGames(ctx context.Context, limit int, order game.Order) ([]*game.Game, error)
}

// Backend is the location service.
type Backend interface {
	RandomLocation(ctx context.Context) (locations.Target, error)
	SaveGameLocation(ctx context.Context, s locations.SavedLocation) error
	Secret(ctx context.Context, gameID uint64) (locations.Target, error)
	Panorama(ctx context.Context, gameID uint64) (json.RawMessage, error)
}

// Config configures a Session.
type Config struct {
	Player  game.Address
	Ledger  Ledger
	Index   Index
	Backend Backend
	Secrets secrets.Store

	// AutoReveal runs reveal_location and reveal_guess from the watch loop
	// as soon as the state machine asks for them.
	AutoReveal bool

	// AnyParticipantRevealsLocation lets the joiner reveal the location with
	// the secret served by the backend.
	AnyParticipantRevealsLocation bool

	// GamePoll defaults to 5 seconds, LobbyPoll to 10 seconds.
	GamePoll  time.Duration
	LobbyPoll time.Duration

	// LobbySize is the number of games fetched per lobby poll. Defaults to 20.
	LobbySize int

	// DiscoverRetries and DiscoverInterval bound the search for a freshly
	// created game in the index. Default 24 retries at 5 seconds.
	DiscoverRetries  int
	DiscoverInterval time.Duration

	Clock  clock.Clock
	Rand   io.Reader
	Logger *log.Logger
}

// Session is safe for concurrent use.
type Session struct {
	cfg Config

	mu      sync.Mutex
	watches map[uint64]*Watch
	lobby   *poller.Poller[[]*game.Game]
	games   []*game.Game
	lobbyAt time.Time
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Session, error) {
	if cfg.Player.IsZero() {
		return nil, errors.New("session: player address is required")
	}
	if cfg.Ledger == nil || cfg.Index == nil || cfg.Secrets == nil {
		return nil, errors.New("session: ledger, index and secret store are required")
	}
	if cfg.GamePoll <= 0 {
		cfg.GamePoll = 5 * time.Second
	}
	if cfg.LobbyPoll <= 0 {
		cfg.LobbyPoll = 10 * time.Second
	}
	if cfg.LobbySize <= 0 {
		cfg.LobbySize = 20
	}
	if cfg.DiscoverRetries <= 0 {
		cfg.DiscoverRetries = 24
	}
	if cfg.DiscoverInterval <= 0 {
		cfg.DiscoverInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Session{cfg: cfg, watches: make(map[uint64]*Watch)}, nil
}

// Player returns the local player's address.
func (s *Session) Player() game.Address { return s.cfg.Player }

// Close stops every loop and closes the secret store.
func (s *Session) Close() error {
	s.mu.Lock()
	watches := make([]*Watch, 0, len(s.watches))
	for _, w := range s.watches {
		watches = append(watches, w)
	}
	s.watches = make(map[uint64]*Watch)
	lobby := s.lobby
	s.lobby = nil
	s.mu.Unlock()

	for _, w := range watches {
		w.Stop()
	}
	if lobby != nil {
		lobby.Stop()
	}
	for _, w := range watches {
		w.Wait()
	}
	if lobby != nil {
		lobby.Wait()
	}
	return s.cfg.Secrets.Close()
}

// --- Reads ---

// Game reads one game from the ledger.
func (s *Session) Game(ctx context.Context, id uint64) (*game.Game, error) {
	g, err := s.cfg.Ledger.GetGame(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: get game %d: %w", id, err)
	}
	return g, nil
}

// Games lists games from the index.
func (s *Session) Games(ctx context.Context, limit int, order game.Order) ([]*game.Game, error) {
	if limit <= 0 {
		limit = s.cfg.LobbySize
	}
	gs, err := s.cfg.Index.ListGames(ctx, limit, order)
	if err != nil {
		return nil, fmt.Errorf("session: list games: %w", err)
	}
	return gs, nil
}

// Results returns the outcome of a finished game.
func (s *Session) Results(ctx context.Context, id uint64) (*game.Game, error) {
	g, err := s.Game(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := game.Outcome(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Panorama returns the imagery reference for a game the player is in.
func (s *Session) Panorama(ctx context.Context, id uint64) (json.RawMessage, error) {
	if s.cfg.Backend == nil {
		return nil, errors.New("session: no location backend configured")
	}
	raw, err := s.cfg.Backend.Panorama(ctx, id)
	if err != nil {
		return nil, game.Wrap(id, game.ActionNone, err)
	}
	return raw, nil
}

// Secrets lists stored pre-images with their salts removed, when the store
// supports listing.
func (s *Session) Secrets(ctx context.Context) ([]secrets.Secret, error) {
	l, ok := s.cfg.Secrets.(secrets.Lister)
	if !ok {
		return nil, nil
	}
	all, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]secrets.Secret, len(all))
	for i, sec := range all {
		out[i] = sec.Redacted()
	}
	return out, nil
}
