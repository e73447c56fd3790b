package torii

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MJE43/starkguessr-go/internal/game"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{})
	if c.config.URL != "http://localhost:8080" {
		t.Errorf("default url: got %s", c.config.URL)
	}
	if c.config.MaxRetries != 3 {
		t.Errorf("default retries: got %d", c.config.MaxRetries)
	}
}

func gameResponse() map[string]any {
	return map[string]any{
		"data": map[string]any{
			"starkguessrGameModels": map[string]any{
				"edges": []any{map[string]any{"node": map[string]any{
					"game_id":             "0x7",
					"player1":             "0x0000a11ce",
					"player2":             "0xb0b",
					"game_state":          "Revealing",
					"end_time":            1700000090,
					"location_commitment": "0x1234",
					"actual_location":     map[string]any{"lat": "0x846c898", "lng": "0xade7948"},
					"location_revealed":   true,
					"winner":              "0x0",
				}}},
			},
			"starkguessrPlayerGuessModels": map[string]any{
				"edges": []any{
					map[string]any{"node": map[string]any{
						"game_id": "0x7", "player": "0xb0b", "commitment": "0x99",
						"revealed_guess": nil, "has_submitted": true, "has_revealed": false, "score": "0x0",
					}},
					map[string]any{"node": map[string]any{
						"game_id": "0x7", "player": "0xa11ce", "commitment": "0x98",
						"revealed_guess": map[string]any{"lat": "0x846c898", "lng": "0xade7948"},
						"has_submitted": true, "has_revealed": true, "score": 343530,
					}},
				},
			},
		},
	}
}

func TestGetGame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/graphql" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Variables["gameId"] != "7" {
			t.Errorf("gameId variable: got %v", req.Variables["gameId"])
		}
		json.NewEncoder(w).Encode(gameResponse())
	}))
	defer server.Close()

	c := NewClient(Config{URL: server.URL, HTTPClient: server.Client()})
	g, err := c.GetGame(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetGame failed: %v", err)
	}

	if g.ID != 7 || g.State != game.Revealing {
		t.Errorf("unexpected game: id=%d state=%s", g.ID, g.State)
	}
	if g.Player1 != "0xa11ce" {
		t.Errorf("player1 not normalised: %s", g.Player1)
	}
	if !g.Winner.IsZero() {
		t.Errorf("expected no winner, got %s", g.Winner)
	}
	if !g.EndTime.Equal(time.Unix(1700000090, 0)) {
		t.Errorf("end time: got %s", g.EndTime)
	}
	if g.ActualLocation == nil || g.ActualLocation.Lat < 48.856 || g.ActualLocation.Lat > 48.857 {
		t.Errorf("actual location: got %v", g.ActualLocation)
	}
	if len(g.Guesses) != 2 {
		t.Fatalf("expected 2 guesses, got %d", len(g.Guesses))
	}
	// Guesses are ordered player1 first regardless of row order.
	if g.Guesses[0].Player != "0xa11ce" || g.Guesses[1].Player != "0xb0b" {
		t.Errorf("guess order: %s, %s", g.Guesses[0].Player, g.Guesses[1].Player)
	}
	if g.Guesses[0].Score == nil || *g.Guesses[0].Score != 343530 {
		t.Errorf("player1 score: %v", g.Guesses[0].Score)
	}
	if g.Guesses[1].Score != nil || g.Guesses[1].HasRevealed {
		t.Errorf("player2 should be unrevealed")
	}
	if !g.BothSubmitted() {
		t.Errorf("expected both submitted")
	}
}

func TestGetGameNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"starkguessrGameModels":{"edges":[]},"starkguessrPlayerGuessModels":{"edges":[]}}}`))
	}))
	defer server.Close()

	_, err := NewClient(Config{URL: server.URL}).GetGame(context.Background(), 99)
	if !errors.Is(err, game.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestListGamesNumericState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.Query, "direction: ASC") {
			t.Errorf("expected ASC ordering in query")
		}
		w.Write([]byte(`{"data":{"starkguessrGameModels":{"edges":[
			{"node":{"game_id":"1","player1":"0xa","player2":"0x0","game_state":"0","end_time":"0","location_revealed":false,"winner":"0x0"}},
			{"node":{"game_id":"2","player1":"0xa","player2":"0xb","game_state":"0x3","end_time":"0x6553f100","location_revealed":"true","winner":"0xb"}}
		]}}}`))
	}))
	defer server.Close()

	games, err := NewClient(Config{URL: server.URL}).ListGames(context.Background(), 10, game.OrderAsc)
	if err != nil {
		t.Fatalf("ListGames failed: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("expected 2 games, got %d", len(games))
	}
	if games[0].State != game.AwaitingPlayer || !games[0].Player2.IsZero() {
		t.Errorf("game 1: state=%s player2=%s", games[0].State, games[0].Player2)
	}
	if games[1].State != game.Finished || games[1].Winner != "0xb" {
		t.Errorf("game 2: state=%s winner=%s", games[1].State, games[1].Winner)
	}
}

func TestRetryOnHTTP503(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("indexer syncing"))
			return
		}
		json.NewEncoder(w).Encode(gameResponse())
	}))
	defer server.Close()

	c := NewClient(Config{
		URL:            server.URL,
		MaxRetries:     3,
		BaseRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:  50 * time.Millisecond,
	})
	if _, err := c.GetGame(context.Background(), 7); err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetriesExhausted(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(Config{
		URL:            server.URL,
		MaxRetries:     2,
		BaseRetryDelay: time.Millisecond,
		MaxRetryDelay:  2 * time.Millisecond,
	})
	_, err := c.ListGames(context.Background(), 10, game.OrderDesc)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected HTTPError 429, got %v", err)
	}
	if !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("expected max retries message, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(Config{URL: server.URL, BaseRetryDelay: time.Second}).GetGame(ctx, 7)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNoRetryOnGraphQLError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte(`{"errors":[{"message":"Unknown field \"score\"","path":["starkguessrPlayerGuessModels"]}]}`))
	}))
	defer server.Close()

	_, err := NewClient(Config{URL: server.URL, BaseRetryDelay: time.Millisecond}).GetGame(context.Background(), 7)
	var gqlErr *GraphQLError
	if !errors.As(err, &gqlErr) {
		t.Fatalf("expected GraphQLError, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestNoRetryOnHTTP400(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewClient(Config{URL: server.URL, BaseRetryDelay: time.Millisecond}).ListGames(context.Background(), 0, "")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.IsRetryable() {
		t.Fatalf("expected non-retryable HTTPError, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestUnreachableIndexer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(Config{URL: url, MaxRetries: 1, BaseRetryDelay: time.Millisecond}).GetGame(context.Background(), 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
