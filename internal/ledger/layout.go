package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/shopspring/decimal"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

// get_game returns the Game struct serialised as 33 felts:
//
//	0-1   game_id (u256)
//	2     player1
//	3     player2
//	4-5   prize_pool (u256)
//	6     game_state
//	7     end_time
//	8     location_commitment
//	9-12  actual_location (lat lo/hi, lng lo/hi)
//	13    location_revealed
//	14-22 player1 guess
//	23-31 player2 guess
//	32    winner
//
// Each guess is commitment, revealed lat lo/hi, lng lo/hi, has_submitted,
// has_revealed, score lo/hi.
const (
	gameFelts   = 33
	guessFelts  = 9
	guess1Start = 14
	guess2Start = 23
)

func location(w []*felt.Felt) (geo.Coordinate, error) {
	lat, err := wire.U256(w[0], w[1])
	if err != nil {
		return geo.Coordinate{}, err
	}
	lng, err := wire.U256(w[2], w[3])
	if err != nil {
		return geo.Coordinate{}, err
	}
	f, err := geo.FixedFromHalves(geo.Split(lat), geo.Split(lng))
	if err != nil {
		return geo.Coordinate{}, err
	}
	return geo.Decode(f)
}

func nonZero(f *felt.Felt) *felt.Felt {
	if f.IsZero() {
		return nil
	}
	return new(felt.Felt).Set(f)
}

func decodeGuess(player game.Address, w []*felt.Felt) (game.PlayerGuess, error) {
	pg := game.PlayerGuess{Player: player, Commitment: nonZero(w[0])}
	var err error
	if pg.HasSubmitted, err = wire.Bool(w[5]); err != nil {
		return pg, fmt.Errorf("has_submitted: %w", err)
	}
	if pg.HasRevealed, err = wire.Bool(w[6]); err != nil {
		return pg, fmt.Errorf("has_revealed: %w", err)
	}
	if !pg.HasRevealed {
		return pg, nil
	}
	c, err := location(w[1:5])
	if err != nil {
		return pg, fmt.Errorf("revealed_guess: %w", err)
	}
	pg.RevealedGuess = &c
	score, err := wire.U256(w[7], w[8])
	if err != nil {
		return pg, fmt.Errorf("score: %w", err)
	}
	if !score.IsUint64() {
		return pg, fmt.Errorf("%w: score exceeds uint64", wire.ErrMalformed)
	}
	s := score.Uint64()
	pg.Score = &s
	return pg, nil
}

// decodeGame parses a get_game result. A record with a zero id and no
// creator is the contract's default value, meaning the game does not exist.
func decodeGame(out []*felt.Felt) (*game.Game, error) {
	if len(out) != gameFelts {
		return nil, fmt.Errorf("%w: get_game returned %d felts, want %d", wire.ErrMalformed, len(out), gameFelts)
	}
	id, err := wire.U256(out[0], out[1])
	if err != nil {
		return nil, fmt.Errorf("ledger: game_id: %w", err)
	}
	if !id.IsUint64() {
		return nil, fmt.Errorf("%w: game_id exceeds uint64", wire.ErrMalformed)
	}
	g := &game.Game{
		ID:      id.Uint64(),
		Player1: game.Address(wire.Address(out[2])),
		Player2: game.Address(wire.Address(out[3])),
		Winner:  game.Address(wire.Address(out[32])),
	}
	if g.ID == 0 && g.Player1.IsZero() {
		return nil, game.ErrGameNotFound
	}

	prize, err := wire.U256(out[4], out[5])
	if err != nil {
		return nil, fmt.Errorf("ledger: game %d prize_pool: %w", g.ID, err)
	}
	g.PrizePool = decimal.NewFromBigInt(prize.ToBig(), -game.PrizeDecimals)

	if g.State, err = wire.StateFelt(out[6]); err != nil {
		return nil, fmt.Errorf("ledger: game %d: %w", g.ID, err)
	}
	if end := out[7].BigInt(new(big.Int)); end.Sign() > 0 {
		if !end.IsInt64() {
			return nil, fmt.Errorf("%w: end_time out of range", wire.ErrMalformed)
		}
		g.EndTime = time.Unix(end.Int64(), 0).UTC()
	}
	g.LocationCommitment = nonZero(out[8])
	if g.LocationRevealed, err = wire.Bool(out[13]); err != nil {
		return nil, fmt.Errorf("ledger: game %d location_revealed: %w", g.ID, err)
	}
	if g.LocationRevealed {
		c, err := location(out[9:13])
		if err != nil {
			return nil, fmt.Errorf("ledger: game %d actual_location: %w", g.ID, err)
		}
		g.ActualLocation = &c
	}

	for i, start := range []int{guess1Start, guess2Start} {
		p := []game.Address{g.Player1, g.Player2}[i]
		if p.IsZero() {
			continue
		}
		pg, err := decodeGuess(p, out[start:start+guessFelts])
		if err != nil {
			return nil, fmt.Errorf("ledger: game %d player%d guess: %w", g.ID, i+1, err)
		}
		g.Guesses = append(g.Guesses, pg)
	}
	return g, nil
}
