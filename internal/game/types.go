// Package game holds the ledger-owned game model, the error taxonomy shared
// by every protocol component, and the state machine that turns polled
// ledger state into the next action for the local player.
package game

import (
	"fmt"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/shopspring/decimal"

	"github.com/MJE43/starkguessr-go/internal/geo"
)

// State is the ledger-declared game state. Values are ordered; a game only
// ever moves forward through them.
type State uint8

const (
	AwaitingPlayer State = iota
	Active
	Revealing
	Finished
)

func (s State) String() string {
	switch s {
	case AwaitingPlayer:
		return "AwaitingPlayer"
	case Active:
		return "Active"
	case Revealing:
		return "Revealing"
	case Finished:
		return "Finished"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Describe returns the lobby label for s.
func (s State) Describe() string {
	switch s {
	case AwaitingPlayer:
		return "Waiting for opponent"
	case Active:
		return "Active - Playing"
	case Revealing:
		return "Revealing guesses"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Address is a canonical lowercase hex account address. The empty string and
// "0x0" both mean "absent".
type Address string

// IsZero reports whether a is unset.
func (a Address) IsZero() bool {
	return a == "" || a == "0x0"
}

// PlayerGuess is one player's commitment and, once revealed, the guess and its
// ledger-computed score in meters.
type PlayerGuess struct {
	Player        Address         `json:"player"`
	Commitment    *felt.Felt      `json:"commitment,omitempty"`
	HasSubmitted  bool            `json:"has_submitted"`
	HasRevealed   bool            `json:"has_revealed"`
	RevealedGuess *geo.Coordinate `json:"revealed_guess,omitempty"`
	Score         *uint64         `json:"score,omitempty"`
}

// Game is the projection of a ledger game record.
type Game struct {
	ID                 uint64          `json:"game_id"`
	Player1            Address         `json:"player1"`
	Player2            Address         `json:"player2"`
	State              State           `json:"state"`
	EndTime            time.Time       `json:"end_time"`
	LocationCommitment *felt.Felt      `json:"location_commitment,omitempty"`
	LocationRevealed   bool            `json:"location_revealed"`
	ActualLocation     *geo.Coordinate `json:"actual_location,omitempty"`
	Guesses            []PlayerGuess   `json:"guesses"`
	Winner             Address         `json:"winner,omitempty"`
	PrizePool          decimal.Decimal `json:"prize_pool"`
}

// PrizeDecimals is the token precision used to render prize_pool.
const PrizeDecimals = 18

// Creator returns the address that created the game and committed the target.
func (g *Game) Creator() Address {
	return g.Player1
}

// IsParticipant reports whether addr is player1 or player2.
func (g *Game) IsParticipant(addr Address) bool {
	if addr.IsZero() {
		return false
	}
	return addr == g.Player1 || addr == g.Player2
}

// GuessOf returns the guess record of addr, if present.
func (g *Game) GuessOf(addr Address) (PlayerGuess, bool) {
	for _, pg := range g.Guesses {
		if pg.Player == addr {
			return pg, true
		}
	}
	return PlayerGuess{}, false
}

// BothSubmitted reports whether exactly two guesses exist and both are
// committed.
func (g *Game) BothSubmitted() bool {
	if len(g.Guesses) != 2 {
		return false
	}
	return g.Guesses[0].HasSubmitted && g.Guesses[1].HasSubmitted
}

// BothRevealed reports whether both guesses have been revealed.
func (g *Game) BothRevealed() bool {
	if len(g.Guesses) != 2 {
		return false
	}
	return g.Guesses[0].HasRevealed && g.Guesses[1].HasRevealed
}

// Remaining returns the time left before EndTime, clamped at zero.
func (g *Game) Remaining(now time.Time) time.Duration {
	if g.EndTime.IsZero() {
		return 0
	}
	d := g.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemaining renders d as m:ss.
func FormatRemaining(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Order is the sort direction for game listings.
type Order string

const (
	OrderDesc Order = "DESC"
	OrderAsc  Order = "ASC"
)
