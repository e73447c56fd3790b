// Package locations is the client for the game backend that hands out random
// target locations, keeps the creator's location secret for reveal, and
// serves street-level imagery references to participants.
package locations

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

	"github.com/NethermindEth/juno/core/felt"
	"github.com/sethvargo/go-retry"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

// ErrMalformed means the backend answered with a body that does not decode.
var ErrMalformed = errors.New("locations: malformed response")

// notIndexed is the backend's answer for a game it has not stored yet.
const notIndexed = "Game not found in database"

// HTTPError represents a non-2xx response from the backend.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("locations: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps 403 to game.ErrAccessDenied and 404 to game.ErrGameNotFound.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusForbidden:
		return game.ErrAccessDenied
	case http.StatusNotFound:
		return game.ErrGameNotFound
	}
	return nil
}

// IsRetryable returns true for server errors and for games the backend has
// not stored yet.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.Message == notIndexed
}

// Config holds configuration for the backend client.
type Config struct {
	// URL is the backend base URL. Defaults to http://localhost:3001.
	URL string

	// Wallet is sent as X-Wallet-Address on access-controlled endpoints.
	Wallet string

	// MaxRetries bounds retries of retryable failures. Defaults to 5.
	MaxRetries int

	// RetryDelay is the spacing between retries. Defaults to 1 second.
	RetryDelay time.Duration

	HTTPClient *http.Client
}

// Client is a backend client.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a backend client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:3001"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{config: cfg, http: httpClient}
}

// --- Endpoints ---

// Target is a location with the one-time salt it will be committed under.
type Target struct {
	Location geo.Coordinate
	Salt     *felt.Felt
}

type targetBody struct {
	Lat  float64    `json:"lat"`
	Lng  float64    `json:"lng"`
	Salt wire.Value `json:"salt"`
}

// RandomLocation asks the backend for a fresh target and salt.
func (c *Client) RandomLocation(ctx context.Context) (Target, error) {
	var body targetBody
	if err := c.get(ctx, "/api/random-location", false, &body); err != nil {
		return Target{}, err
	}
	loc := geo.Coordinate{Lat: body.Lat, Lng: body.Lng}
	if err := loc.Validate(); err != nil {
		return Target{}, fmt.Errorf("locations: random location: %w", err)
	}
	salt, err := body.Salt.Felt()
	if err != nil || salt.IsZero() {
		return Target{}, fmt.Errorf("locations: random location: bad salt %q", body.Salt)
	}
	return Target{Location: loc, Salt: salt}, nil
}

// SavedLocation is what the creator stores for a later reveal.
type SavedLocation struct {
	GameID     uint64
	Location   geo.Coordinate
	Salt       *felt.Felt
	Commitment *felt.Felt
}

// SaveGameLocation stores the creator's secret with the backend.
func (c *Client) SaveGameLocation(ctx context.Context, s SavedLocation) error {
	body := map[string]any{
		"gameId":     s.GameID,
		"lat":        s.Location.Lat,
		"lng":        s.Location.Lng,
		"salt":       s.Salt.String(),
		"commitment": s.Commitment.String(),
	}
	return c.do(ctx, http.MethodPost, "/api/save-game-location", body, false, nil)
}

// Panorama returns the imagery reference for a game. Only participants may
// read it; others get game.ErrAccessDenied.
func (c *Client) Panorama(ctx context.Context, gameID uint64) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, fmt.Sprintf("/api/panorama/%d", gameID), true, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

type secretBody struct {
	SecretLocation *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"secret_location"`
	SecretSalt wire.Value `json:"secret_salt"`
}

// Secret fetches the creator's location and salt for reveal_location.
func (c *Client) Secret(ctx context.Context, gameID uint64) (Target, error) {
	var body secretBody
	if err := c.get(ctx, fmt.Sprintf("/api/game/%d/secret", gameID), true, &body); err != nil {
		return Target{}, err
	}
	if body.SecretLocation == nil || body.SecretSalt == "" {
		return Target{}, fmt.Errorf("locations: game %d: no secret location stored: %w", gameID, game.ErrSecretNotFound)
	}
	salt, err := body.SecretSalt.Felt()
	if err != nil {
		return Target{}, fmt.Errorf("locations: game %d secret salt: %w", gameID, err)
	}
	return Target{
		Location: geo.Coordinate{Lat: body.SecretLocation.Lat, Lng: body.SecretLocation.Lng},
		Salt:     salt,
	}, nil
}

// Revealed returns the actual location once the backend has released it.
func (c *Client) Revealed(ctx context.Context, gameID uint64) (*geo.Coordinate, error) {
	var body struct {
		Revealed bool            `json:"revealed"`
		Location *geo.Coordinate `json:"location"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/game/%d", gameID), true, &body); err != nil {
		return nil, err
	}
	if !body.Revealed || body.Location == nil {
		return nil, nil
	}
	return body.Location, nil
}

// --- Core request methods ---

func (c *Client) get(ctx context.Context, path string, auth bool, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, auth, out)
}

// do sends a request, retrying network failures, server errors and
// not-yet-stored games at a constant interval. Access denials are never
// retried.
func (c *Client) do(ctx context.Context, method, path string, body any, auth bool, out any) error {
	b := retry.WithMaxRetries(uint64(c.config.MaxRetries), retry.NewConstant(c.config.RetryDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.doRequest(ctx, method, path, body, auth, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.IsRetryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		if errors.Is(err, ErrMalformed) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, auth bool, out any) error {
	url := strings.TrimRight(c.config.URL, "/") + path

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("locations: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("locations: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("X-Wallet-Address", c.config.Wallet)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("locations: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("locations: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return nil
}
