package session

import (
	"context"
	"errors"
	"time"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/poller"
)

// StartLobby polls the newest games every LobbyPoll. The latest listing is
// served by Lobby.
func (s *Session) StartLobby(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lobby == nil {
		s.lobby = poller.New(
			"lobby",
			func(ctx context.Context) ([]*game.Game, error) {
				return s.cfg.Index.ListGames(ctx, s.cfg.LobbySize, game.OrderDesc)
			},
			poller.Options[[]*game.Game]{
				Interval: s.cfg.LobbyPoll,
				Clock:    s.cfg.Clock,
				OnResult: s.setLobby,
				Logger:   s.cfg.Logger,
			},
		)
	}
	if err := s.lobby.Start(ctx); err != nil && !errors.Is(err, poller.ErrRunning) {
		return err
	}
	return nil
}

// StopLobby stops the lobby loop.
func (s *Session) StopLobby() {
	s.mu.Lock()
	p := s.lobby
	s.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// Lobby returns the most recent listing and when it was fetched.
func (s *Session) Lobby() ([]*game.Game, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.games, s.lobbyAt
}

func (s *Session) setLobby(gs []*game.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = gs
	s.lobbyAt = s.cfg.Clock.Now()
}
