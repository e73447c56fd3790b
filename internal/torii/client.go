// Package torii reads game records from the Torii indexer's GraphQL endpoint.
//
// The indexer is an eventually consistent replica of the ledger. Everything
// it returns is advisory: callers confirm against a ledger read before acting
// on it.
//
//	client := torii.NewClient(torii.Config{URL: "http://localhost:8080"})
//	g, err := client.GetGame(ctx, 7)
package torii

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/MJE43/starkguessr-go/internal/game"
)

// Config holds configuration for the indexer client.
type Config struct {
	// URL is the Torii base URL. "/graphql" is appended.
	// Defaults to "http://localhost:8080" if empty.
	URL string

	// MaxRetries is the maximum number of retry attempts for retryable errors.
	// Defaults to 3 if zero.
	MaxRetries int

	// BaseRetryDelay is the initial delay before the first retry.
	// Defaults to 500 milliseconds if zero.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff delay.
	// Defaults to 4 seconds if zero.
	MaxRetryDelay time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	// Defaults to a client with 15s timeout.
	HTTPClient *http.Client
}

// Client is a Torii GraphQL client.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a new indexer client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:8080"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 4 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{config: cfg, http: httpClient}
}

// --- Queries ---

const gameQuery = `query GetGame($gameId: String!) {
  starkguessrGameModels(where: { game_id: $gameId }) {
    edges { node {
      game_id player1 player2 game_state end_time location_commitment
      actual_location { lat lng }
      location_revealed winner
    } }
  }
  starkguessrPlayerGuessModels(where: { game_id: $gameId }) {
    edges { node {
      game_id player commitment
      revealed_guess { lat lng }
      has_submitted has_revealed score
    } }
  }
}`

const listQuery = `query ListGames($limit: Int!) {
  starkguessrGameModels(limit: $limit, order: { direction: %s, field: GAME_ID }) {
    edges { node {
      game_id player1 player2 game_state end_time location_commitment location_revealed winner
    } }
  }
}`

// GetGame returns one game with its guesses ordered player1, player2. It
// returns game.ErrGameNotFound if the indexer has no row for id.
func (c *Client) GetGame(ctx context.Context, id uint64) (*game.Game, error) {
	resp, err := c.graphql(ctx, &Request{
		Query:     gameQuery,
		Variables: map[string]any{"gameId": fmt.Sprintf("%d", id)},
	})
	if err != nil {
		return nil, err
	}
	var data gameData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("torii: decode game %d: %w", id, err)
	}
	rows := data.Games.nodes()
	if len(rows) == 0 {
		return nil, fmt.Errorf("torii: game %d: %w", id, game.ErrGameNotFound)
	}
	g, err := rows[0].toGame()
	if err != nil {
		return nil, err
	}
	if g.ID != id {
		return nil, fmt.Errorf("torii: asked for game %d, indexer returned %d", id, g.ID)
	}
	if err := attachGuesses(g, data.Guesses.nodes()); err != nil {
		return nil, err
	}
	return g, nil
}

// ListGames returns up to limit games ordered by id. Guesses are not loaded.
func (c *Client) ListGames(ctx context.Context, limit int, order game.Order) ([]*game.Game, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if order != game.OrderAsc {
		order = game.OrderDesc
	}
	resp, err := c.graphql(ctx, &Request{
		Query:     fmt.Sprintf(listQuery, order),
		Variables: map[string]any{"limit": limit},
	})
	if err != nil {
		return nil, err
	}
	var data gameData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("torii: decode game list: %w", err)
	}
	out := make([]*game.Game, 0, len(data.Games.Edges))
	for _, row := range data.Games.nodes() {
		g, err := row.toGame()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// --- Core request methods ---

// doRequest sends a single GraphQL POST and decodes the envelope.
func (c *Client) doRequest(ctx context.Context, body *Request) (*Response, error) {
	url := strings.TrimRight(c.config.URL, "/") + "/graphql"

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("torii: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("torii: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("torii: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("torii: invalid response JSON: %w", err)
	}
	if out.HasError() {
		return nil, out.FirstError()
	}
	return &out, nil
}

// doRequestWithRetry retries transport failures and retryable HTTP statuses
// with capped exponential backoff. GraphQL errors are returned at once.
func (c *Client) doRequestWithRetry(ctx context.Context, body *Request) (*Response, error) {
	b := retry.NewExponential(c.config.BaseRetryDelay)
	b = retry.WithCappedDuration(c.config.MaxRetryDelay, b)
	b = retry.WithMaxRetries(uint64(c.config.MaxRetries), b)

	var (
		out       *Response
		retryable bool
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		resp, err := c.doRequest(ctx, body)
		if err == nil {
			out = resp
			return nil
		}
		retryable = false
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.IsRetryable() {
				retryable = true
				return retry.RetryableError(err)
			}
			return err
		}
		if errors.Is(err, ErrUnavailable) {
			retryable = true
			return retry.RetryableError(err)
		}
		return err
	})
	switch {
	case err == nil:
		return out, nil
	case retryable && ctx.Err() == nil:
		return nil, fmt.Errorf("torii: max retries exceeded: %w", err)
	}
	return nil, err
}

func (c *Client) graphql(ctx context.Context, req *Request) (*Response, error) {
	return c.doRequestWithRetry(ctx, req)
}
