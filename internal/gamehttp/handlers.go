package gamehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/scoring"
)

type coordinateBody struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (b coordinateBody) coordinate() (*geo.Coordinate, bool) {
	if b.Lat == nil && b.Lng == nil {
		return nil, true
	}
	if b.Lat == nil || b.Lng == nil {
		return nil, false
	}
	return &geo.Coordinate{Lat: *b.Lat, Lng: *b.Lng}, true
}

func decodeCoordinate(w http.ResponseWriter, r *http.Request, required bool) (*geo.Coordinate, bool) {
	var body coordinateBody
	if r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errObj("VALIDATION_ERROR", "invalid JSON", ""))
			return nil, false
		}
	}
	c, ok := body.coordinate()
	if !ok || (required && c == nil) {
		writeJSON(w, http.StatusUnprocessableEntity, errObj("VALIDATION_ERROR", "lat and lng are required together", "lat/lng"))
		return nil, false
	}
	if c != nil {
		if err := c.Validate(); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errObj("INVALID_COORDINATE", err.Error(), "lat/lng"))
			return nil, false
		}
	}
	return c, true
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"player": s.sess.Player(),
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

// GET /api/v1/lobby
func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	gs, at := s.sess.Lobby()
	if gs == nil {
		gs = []*game.Game{}
	}
	body := map[string]any{"games": lobbyRows(gs), "count": len(gs)}
	if !at.IsZero() {
		body["updated_at"] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

// GET /api/v1/games?limit=&order=
func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(qInt(r, "limit", 20), 1, 100)
	order := game.OrderDesc
	if r.URL.Query().Get("order") == "asc" {
		order = game.OrderAsc
	}
	gs, err := s.sess.Games(r.Context(), limit, order)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": lobbyRows(gs), "count": len(gs)})
}

type lobbyRow struct {
	*game.Game
	Status string `json:"status"`
	Prize  string `json:"prize"`
}

func lobbyRows(gs []*game.Game) []lobbyRow {
	rows := make([]lobbyRow, len(gs))
	for i, g := range gs {
		rows[i] = lobbyRow{Game: g, Status: g.State.Describe(), Prize: g.PrizePool.StringFixed(4)}
	}
	return rows
}

// POST /api/v1/games  {lat?, lng?}
func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	target, ok := decodeCoordinate(w, r, false)
	if !ok {
		return
	}
	id, err := s.sess.CreateGame(r.Context(), target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"game_id": id})
}

// GET /api/v1/games/{id}
func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.sess.Game(r.Context(), gameID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"game":      g,
		"status":    g.State.Describe(),
		"remaining": game.FormatRemaining(g.Remaining(time.Now())),
	})
}

type resultRow struct {
	Player   game.Address    `json:"player"`
	Guess    *geo.Coordinate `json:"guess,omitempty"`
	Meters   uint64          `json:"meters"`
	Distance string          `json:"distance"`
}

// GET /api/v1/games/{id}/results
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	g, err := s.sess.Game(r.Context(), gameID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := game.Outcome(g)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows := make([]resultRow, 0, len(g.Guesses))
	for _, pg := range g.Guesses {
		row := resultRow{Player: pg.Player, Guess: pg.RevealedGuess}
		if pg.Score != nil {
			row.Meters = *pg.Score
			row.Distance = scoring.FormatDistance(float64(*pg.Score))
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"game_id":  g.ID,
		"location": g.ActualLocation,
		"winner":   out.Winner,
		"draw":     out.Draw,
		"you_won":  out.Winner == string(s.sess.Player()),
		"results":  rows,
		"prize":    g.PrizePool.StringFixed(4),
	})
}

// GET /api/v1/games/{id}/panorama
func (s *Server) handlePanorama(w http.ResponseWriter, r *http.Request) {
	raw, err := s.sess.Panorama(r.Context(), gameID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

// POST /api/v1/games/{id}/join
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, game.ActionJoin, s.sess.JoinGame)
}

// POST /api/v1/games/{id}/guess  {lat, lng}
func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request) {
	guess, ok := decodeCoordinate(w, r, true)
	if !ok {
		return
	}
	id := gameID(r)
	if err := s.sess.SubmitGuess(r.Context(), id, *guess); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": id, "action": game.ActionSubmitGuess, "confirmed": true})
}

// POST /api/v1/games/{id}/reveal-location
func (s *Server) handleRevealLocation(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, game.ActionRevealLocation, s.sess.RevealLocation)
}

// POST /api/v1/games/{id}/reveal-guess
func (s *Server) handleRevealGuess(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, game.ActionRevealGuess, s.sess.RevealGuess)
}

func (s *Server) act(w http.ResponseWriter, r *http.Request, action game.Action, fn func(ctx context.Context, id uint64) error) {
	id := gameID(r)
	if err := fn(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": id, "action": action, "confirmed": true})
}

// POST /api/v1/games/{id}/watch
func (s *Server) handleStartWatch(w http.ResponseWriter, r *http.Request) {
	st, err := s.sess.StartWatch(s.base, gameID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// GET /api/v1/games/{id}/watch
func (s *Server) handleWatchStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sess.WatchStatus(gameID(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, errObj("NOT_WATCHING", "game is not being watched", ""))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DELETE /api/v1/games/{id}/watch
func (s *Server) handleStopWatch(w http.ResponseWriter, r *http.Request) {
	if !s.sess.StopWatch(gameID(r)) {
		writeJSON(w, http.StatusNotFound, errObj("NOT_WATCHING", "game is not being watched", ""))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
