package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MJE43/starkguessr-go/internal/game"
)

// errPending means a receipt is not final yet.
var errPending = errors.New("ledger: transaction not yet accepted")

// RevertError is a transaction the ledger rejected, either at execution or
// while the relay estimated it.
type RevertError struct {
	TxHash string
	Reason string
}

func (e *RevertError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("ledger: rejected: %s", e.Reason)
	}
	return fmt.Sprintf("ledger: transaction %s reverted: %s", e.TxHash, e.Reason)
}

// Unwrap classifies the revert reason into the protocol taxonomy.
func (e *RevertError) Unwrap() error {
	return classifyReason(e.Reason)
}

// reasonClasses is checked in order; the first matching fragment wins.
var reasonClasses = []struct {
	fragments []string
	err       error
}{
	{[]string{"commitment mismatch", "invalid commitment", "hash mismatch", "invalid reveal", "does not match"}, game.ErrCommitmentMismatch},
	{[]string{"already submitted", "already joined", "guess already", "duplicate"}, game.ErrDuplicate},
	{[]string{"already revealed", "invalid state", "wrong state", "not active", "not revealing", "game full", "game finished"}, game.ErrConflict},
	{[]string{"not a player", "not player", "not participant", "not a participant", "cannot join own"}, game.ErrNotParticipant},
	{[]string{"game not found", "does not exist"}, game.ErrGameNotFound},
}

func classifyReason(reason string) error {
	r := strings.ToLower(reason)
	for _, c := range reasonClasses {
		for _, frag := range c.fragments {
			if strings.Contains(r, frag) {
				return c.err
			}
		}
	}
	return game.ErrRejected
}
