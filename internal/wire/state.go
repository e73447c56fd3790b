package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/MJE43/starkguessr-go/internal/game"
)

// State maps a raw game_state to the tagged enum. The indexer reports the
// Cairo variant name ("Active"), older indexer builds and the RPC report the
// variant index as a number or felt ("1", "0x1").
func State(raw string) (game.State, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "AwaitingPlayer":
		return game.AwaitingPlayer, nil
	case "Active":
		return game.Active, nil
	case "Revealing":
		return game.Revealing, nil
	case "Finished":
		return game.Finished, nil
	}

	var code uint64
	var err error
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		code, err = strconv.ParseUint(raw[2:], 16, 8)
	} else {
		code, err = strconv.ParseUint(raw, 10, 8)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: game state %q", ErrMalformed, raw)
	}
	return stateFromCode(code, raw)
}

// StateFelt maps the variant index felt returned by get_game.
func StateFelt(f *felt.Felt) (game.State, error) {
	return State(f.String())
}

func stateFromCode(code uint64, raw string) (game.State, error) {
	switch code {
	case 0:
		return game.AwaitingPlayer, nil
	case 1:
		return game.Active, nil
	case 2:
		return game.Revealing, nil
	case 3:
		return game.Finished, nil
	}
	return 0, fmt.Errorf("%w: unknown game state %q", ErrMalformed, raw)
}
