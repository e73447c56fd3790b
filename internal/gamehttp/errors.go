package gamehttp

import (
	"errors"
	"net/http"

	"github.com/MJE43/starkguessr-go/internal/game"
)

// errorClasses maps protocol errors to responses. The first match wins.
var errorClasses = []struct {
	err    error
	status int
	code   string
}{
	{game.ErrInvalidCoordinate, http.StatusUnprocessableEntity, "INVALID_COORDINATE"},
	{game.ErrSecretNotFound, http.StatusNotFound, "SECRET_NOT_FOUND"},
	{game.ErrGameNotFound, http.StatusNotFound, "GAME_NOT_FOUND"},
	{game.ErrAccessDenied, http.StatusForbidden, "ACCESS_DENIED"},
	{game.ErrNotParticipant, http.StatusForbidden, "NOT_PARTICIPANT"},
	{game.ErrSecretExists, http.StatusConflict, "SECRET_EXISTS"},
	{game.ErrDuplicate, http.StatusConflict, "DUPLICATE"},
	{game.ErrConflict, http.StatusConflict, "CONFLICT"},
	{game.ErrCommitmentMismatch, http.StatusUnprocessableEntity, "COMMITMENT_MISMATCH"},
	{game.ErrRejected, http.StatusUnprocessableEntity, "REJECTED"},
	{game.ErrConfirmationTimeout, http.StatusGatewayTimeout, "UNKNOWN_OUTCOME"},
}

// writeError renders err with the game and action it belongs to.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusBadGateway, "UPSTREAM_ERROR"
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			status, code = c.status, c.code
			break
		}
	}
	body := map[string]any{
		"code":    code,
		"message": err.Error(),
		"fatal":   game.IsFatal(err),
	}
	var ae *game.ActionError
	if errors.As(err, &ae) {
		if ae.GameID != 0 {
			body["game_id"] = ae.GameID
		}
		if ae.Action != game.ActionNone {
			body["action"] = ae.Action
		}
	}
	if status >= 500 {
		s.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, map[string]any{"error": body})
}
