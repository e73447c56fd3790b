package game

import (
	"context"
	"errors"
	"fmt"
)

// Protocol errors. Transport packages wrap these so callers can classify any
// failure with errors.Is regardless of where it was raised.
var (
	// ErrSecretNotFound means no local pre-image exists for a reveal. Salts
	// are never stored anywhere else, so there is no recovery.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrSecretExists means a second commitment was attempted while an
	// unrevealed secret is still stored for the same game and role.
	ErrSecretExists = errors.New("a pending secret already exists for this game")

	// ErrCommitmentMismatch means the revealed pre-image does not hash to the
	// stored commitment. Retrying with the same inputs fails identically.
	ErrCommitmentMismatch = errors.New("revealed values do not match the commitment")

	// ErrConfirmationTimeout means a transaction was sent but not confirmed in
	// time. Its outcome is unknown; re-poll the ledger instead of re-sending.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out: outcome unknown")

	// ErrAccessDenied is returned by the backend for non-participants.
	ErrAccessDenied = errors.New("access denied")

	// ErrConflict means the ledger state already moved past the requested
	// action (for example the location was revealed by another observer).
	ErrConflict = errors.New("ledger state conflicts with action")

	// ErrDuplicate means the ledger already holds this player's commitment or
	// reveal.
	ErrDuplicate = errors.New("action already applied on ledger")

	ErrNotParticipant    = errors.New("player is not a participant in this game")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrGameNotFound      = errors.New("game not found")
	ErrRejected          = errors.New("transaction rejected by ledger")
)

// Action names the protocol step an error belongs to.
type Action string

const (
	ActionNone           Action = ""
	ActionWait           Action = "wait"
	ActionJoin           Action = "join_game"
	ActionCreate         Action = "create_game"
	ActionSubmitGuess    Action = "submit_guess"
	ActionRevealLocation Action = "reveal_location"
	ActionRevealGuess    Action = "reveal_guess"
	ActionShowResults    Action = "show_results"
)

// ActionError carries the context a caller needs to render a fatal failure.
type ActionError struct {
	GameID uint64
	Action Action
	Err    error
}

func (e *ActionError) Error() string {
	if e.GameID == 0 {
		return fmt.Sprintf("%s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("game %d: %s: %v", e.GameID, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Wrap attaches game and action context to err. A nil err stays nil.
func Wrap(gameID uint64, action Action, err error) error {
	if err == nil {
		return nil
	}
	var ae *ActionError
	if errors.As(err, &ae) && ae.GameID == gameID && ae.Action == action {
		return err
	}
	return &ActionError{GameID: gameID, Action: action, Err: err}
}

// IsFatal reports whether err must be surfaced to the user instead of being
// retried on the next poll.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSecretNotFound),
		errors.Is(err, ErrSecretExists),
		errors.Is(err, ErrCommitmentMismatch),
		errors.Is(err, ErrConfirmationTimeout),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrInvalidCoordinate),
		errors.Is(err, ErrRejected):
		return true
	}
	return false
}

// IsTransient reports whether err may succeed on a later attempt.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, ErrConflict) && !errors.Is(err, ErrDuplicate)
}
