package torii

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

// --- Response envelope ---

// Response is the GraphQL response envelope.
type Response struct {
	Errors []GraphQLError  `json:"errors,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// HasError returns true if the response contains GraphQL errors.
func (r *Response) HasError() bool {
	return len(r.Errors) > 0
}

// FirstError returns the first error, or nil if none.
func (r *Response) FirstError() *GraphQLError {
	if r.HasError() {
		return &r.Errors[0]
	}
	return nil
}

// Request is a GraphQL request body.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// --- Model nodes ---

type connection[T any] struct {
	Edges []struct {
		Node T `json:"node"`
	} `json:"edges"`
}

func (c connection[T]) nodes() []T {
	out := make([]T, 0, len(c.Edges))
	for _, e := range c.Edges {
		out = append(out, e.Node)
	}
	return out
}

type locationNode struct {
	Lat wire.Value `json:"lat"`
	Lng wire.Value `json:"lng"`
}

// GameNode is a starkguessr-Game model row.
type GameNode struct {
	GameID             wire.Value    `json:"game_id"`
	Player1            wire.Value    `json:"player1"`
	Player2            wire.Value    `json:"player2"`
	GameState          wire.Value    `json:"game_state"`
	EndTime            wire.Value    `json:"end_time"`
	LocationCommitment wire.Value    `json:"location_commitment"`
	ActualLocation     *locationNode `json:"actual_location"`
	LocationRevealed   wire.Value    `json:"location_revealed"`
	Winner             wire.Value    `json:"winner"`
}

// GuessNode is a starkguessr-PlayerGuess model row.
type GuessNode struct {
	GameID        wire.Value    `json:"game_id"`
	Player        wire.Value    `json:"player"`
	Commitment    wire.Value    `json:"commitment"`
	RevealedGuess *locationNode `json:"revealed_guess"`
	HasSubmitted  wire.Value    `json:"has_submitted"`
	HasRevealed   wire.Value    `json:"has_revealed"`
	Score         wire.Value    `json:"score"`
}

type gameData struct {
	Games   connection[GameNode]  `json:"starkguessrGameModels"`
	Guesses connection[GuessNode] `json:"starkguessrPlayerGuessModels"`
}

// --- Conversion ---

func address(v wire.Value) (game.Address, error) {
	f, err := v.Felt()
	if err != nil {
		return "", err
	}
	return game.Address(wire.Address(f)), nil
}

func coordinate(n *locationNode) (*geo.Coordinate, error) {
	if n == nil {
		return nil, nil
	}
	lat, err := n.Lat.Uint64()
	if err != nil {
		return nil, err
	}
	lng, err := n.Lng.Uint64()
	if err != nil {
		return nil, err
	}
	c, err := geo.Decode(geo.Fixed{Lat: lat, Lng: lng})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// toGame converts a game row. Fields the indexer has not materialised yet
// decode as their zero values.
func (n GameNode) toGame() (*game.Game, error) {
	var (
		g   game.Game
		err error
	)
	if g.ID, err = n.GameID.Uint64(); err != nil {
		return nil, fmt.Errorf("torii: game_id: %w", err)
	}
	if g.Player1, err = address(n.Player1); err != nil {
		return nil, fmt.Errorf("torii: game %d player1: %w", g.ID, err)
	}
	if g.Player2, err = address(n.Player2); err != nil {
		return nil, fmt.Errorf("torii: game %d player2: %w", g.ID, err)
	}
	if g.State, err = wire.State(string(n.GameState)); err != nil {
		return nil, fmt.Errorf("torii: game %d: %w", g.ID, err)
	}
	end, err := n.EndTime.Uint64()
	if err != nil {
		return nil, fmt.Errorf("torii: game %d end_time: %w", g.ID, err)
	}
	if end > 0 {
		g.EndTime = time.Unix(int64(end), 0).UTC()
	}
	if n.LocationCommitment != "" {
		if g.LocationCommitment, err = n.LocationCommitment.Felt(); err != nil {
			return nil, fmt.Errorf("torii: game %d location_commitment: %w", g.ID, err)
		}
	}
	if g.LocationRevealed, err = n.LocationRevealed.Bool(); err != nil {
		return nil, fmt.Errorf("torii: game %d location_revealed: %w", g.ID, err)
	}
	if g.LocationRevealed {
		if g.ActualLocation, err = coordinate(n.ActualLocation); err != nil {
			return nil, fmt.Errorf("torii: game %d actual_location: %w", g.ID, err)
		}
	}
	if g.Winner, err = address(n.Winner); err != nil {
		return nil, fmt.Errorf("torii: game %d winner: %w", g.ID, err)
	}
	return &g, nil
}

func (n GuessNode) toGuess() (game.PlayerGuess, error) {
	var (
		pg  game.PlayerGuess
		err error
	)
	if pg.Player, err = address(n.Player); err != nil {
		return pg, fmt.Errorf("torii: guess player: %w", err)
	}
	if n.Commitment != "" {
		if pg.Commitment, err = n.Commitment.Felt(); err != nil {
			return pg, fmt.Errorf("torii: guess %s commitment: %w", pg.Player, err)
		}
	}
	if pg.HasSubmitted, err = n.HasSubmitted.Bool(); err != nil {
		return pg, fmt.Errorf("torii: guess %s has_submitted: %w", pg.Player, err)
	}
	if pg.HasRevealed, err = n.HasRevealed.Bool(); err != nil {
		return pg, fmt.Errorf("torii: guess %s has_revealed: %w", pg.Player, err)
	}
	if pg.HasRevealed {
		if pg.RevealedGuess, err = coordinate(n.RevealedGuess); err != nil {
			return pg, fmt.Errorf("torii: guess %s revealed_guess: %w", pg.Player, err)
		}
		score, err := n.Score.Uint64()
		if err != nil {
			return pg, fmt.Errorf("torii: guess %s score: %w", pg.Player, err)
		}
		pg.Score = &score
	}
	return pg, nil
}

// attachGuesses orders guesses as player1, player2 and drops rows for
// anyone else.
func attachGuesses(g *game.Game, rows []GuessNode) error {
	byPlayer := make(map[game.Address]game.PlayerGuess, len(rows))
	for _, row := range rows {
		pg, err := row.toGuess()
		if err != nil {
			return err
		}
		byPlayer[pg.Player] = pg
	}
	g.Guesses = g.Guesses[:0]
	for _, p := range []game.Address{g.Player1, g.Player2} {
		if p.IsZero() {
			continue
		}
		pg, ok := byPlayer[p]
		if !ok {
			pg = game.PlayerGuess{Player: p}
		}
		g.Guesses = append(g.Guesses, pg)
	}
	return nil
}
