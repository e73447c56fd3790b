package ledger

import (
	"github.com/NethermindEth/juno/core/felt"
	"github.com/holiman/uint256"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

// Entry points of the actions contract.
const (
	EntryCreateGame     = "create_game"
	EntryJoinGame       = "join_game"
	EntrySubmitGuess    = "submit_guess"
	EntryRevealLocation = "reveal_location"
	EntryRevealGuess    = "reveal_guess"
	EntryGetGame        = "get_game"
)

// Call is one contract invocation.
type Call struct {
	To         *felt.Felt   `json:"contract_address"`
	Entrypoint string       `json:"entrypoint"`
	Calldata   []*felt.Felt `json:"calldata"`
}

// Action maps the call to the protocol step it performs.
func (c Call) Action() game.Action {
	switch c.Entrypoint {
	case EntryCreateGame:
		return game.ActionCreate
	case EntryJoinGame:
		return game.ActionJoin
	case EntrySubmitGuess:
		return game.ActionSubmitGuess
	case EntryRevealLocation:
		return game.ActionRevealLocation
	case EntryRevealGuess:
		return game.ActionRevealGuess
	}
	return game.ActionNone
}

func gameIDArgs(id uint64) []*felt.Felt {
	w := wire.U256Felts(uint256.NewInt(id))
	return []*felt.Felt{w[0], w[1]}
}

// CreateGame builds create_game(location_commitment).
func CreateGame(actions, commitment *felt.Felt) Call {
	return Call{To: actions, Entrypoint: EntryCreateGame, Calldata: []*felt.Felt{commitment}}
}

// JoinGame builds join_game(game_id).
func JoinGame(actions *felt.Felt, id uint64) Call {
	return Call{To: actions, Entrypoint: EntryJoinGame, Calldata: gameIDArgs(id)}
}

// SubmitGuess builds submit_guess(game_id, guess_commitment).
func SubmitGuess(actions *felt.Felt, id uint64, commitment *felt.Felt) Call {
	return Call{To: actions, Entrypoint: EntrySubmitGuess, Calldata: append(gameIDArgs(id), commitment)}
}

// RevealLocation builds reveal_location(game_id, location, salt).
func RevealLocation(actions *felt.Felt, id uint64, f geo.Fixed, salt *felt.Felt) Call {
	return Call{To: actions, Entrypoint: EntryRevealLocation, Calldata: revealArgs(id, f, salt)}
}

// RevealGuess builds reveal_guess(game_id, guess, salt).
func RevealGuess(actions *felt.Felt, id uint64, f geo.Fixed, salt *felt.Felt) Call {
	return Call{To: actions, Entrypoint: EntryRevealGuess, Calldata: revealArgs(id, f, salt)}
}

// revealArgs lays out [id.lo, id.hi, lat.lo, lat.hi, lng.lo, lng.hi, salt],
// the same word order the commitment was hashed in.
func revealArgs(id uint64, f geo.Fixed, salt *felt.Felt) []*felt.Felt {
	out := gameIDArgs(id)
	for _, w := range f.Words() {
		out = append(out, wire.FeltFromU256(w))
	}
	return append(out, new(felt.Felt).Set(salt))
}

// GetGame builds the get_game(game_id) view call.
func GetGame(actions *felt.Felt, id uint64) Call {
	return Call{To: actions, Entrypoint: EntryGetGame, Calldata: gameIDArgs(id)}
}
