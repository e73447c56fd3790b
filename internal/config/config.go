// Package config loads settings from an optional .env file and the
// environment. Command-line flags override individual fields afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MJE43/starkguessr-go/internal/secrets"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

const (
	appConfigDirName = "starkguessr"
	envPrefix        = "STARKGUESSR_"
)

// Config is the full client configuration.
type Config struct {
	RPCURL         string
	ToriiURL       string
	BackendURL     string
	ActionsAddress string
	PlayerAddress  string
	RelayURL       string
	DataDir        string
	SecretBackend  string

	HTTPPort  int
	HTTPToken string

	GamePoll        time.Duration
	LobbyPoll       time.Duration
	ConfirmRetries  int
	ConfirmInterval time.Duration
	AutoReveal      bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		RPCURL:          "http://localhost:5050",
		ToriiURL:        "http://localhost:8080",
		BackendURL:      "http://localhost:3001",
		DataDir:         appDataDir(),
		SecretBackend:   secrets.BackendSQLite,
		HTTPPort:        17890,
		GamePoll:        5 * time.Second,
		LobbyPoll:       10 * time.Second,
		ConfirmRetries:  60,
		ConfirmInterval: 5 * time.Second,
		AutoReveal:      true,
	}
}

// Load reads envFiles (missing files are skipped; none means ".env") and then
// the STARKGUESSR_* environment variables over the defaults. Variables
// already set in the environment win over .env entries.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	c := Default()
	c.RPCURL = envString("RPC_URL", c.RPCURL)
	c.ToriiURL = envString("TORII_URL", c.ToriiURL)
	c.BackendURL = envString("BACKEND_URL", c.BackendURL)
	c.ActionsAddress = envString("ACTIONS_ADDRESS", c.ActionsAddress)
	c.PlayerAddress = envString("PLAYER_ADDRESS", c.PlayerAddress)
	c.RelayURL = envString("RELAY_URL", c.RelayURL)
	c.DataDir = envString("DATA_DIR", c.DataDir)
	c.SecretBackend = envString("SECRET_BACKEND", c.SecretBackend)
	c.HTTPPort = envInt("HTTP_PORT", c.HTTPPort)
	c.HTTPToken = envString("HTTP_TOKEN", c.HTTPToken)
	c.ConfirmRetries = envInt("CONFIRM_RETRIES", c.ConfirmRetries)
	c.AutoReveal = envBool("AUTO_REVEAL", c.AutoReveal)

	var err error
	if c.GamePoll, err = envDuration("GAME_POLL", c.GamePoll); err != nil {
		return Config{}, err
	}
	if c.LobbyPoll, err = envDuration("LOBBY_POLL", c.LobbyPoll); err != nil {
		return Config{}, err
	}
	if c.ConfirmInterval, err = envDuration("CONFIRM_INTERVAL", c.ConfirmInterval); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the fields every command needs. Addresses are normalised
// in place.
func (c *Config) Validate() error {
	var problems []string
	if c.ActionsAddress == "" {
		problems = append(problems, envPrefix+"ACTIONS_ADDRESS is required")
	} else if a, err := wire.NormalizeAddress(c.ActionsAddress); err != nil {
		problems = append(problems, fmt.Sprintf("actions address: %v", err))
	} else {
		c.ActionsAddress = a
	}
	if c.PlayerAddress == "" {
		problems = append(problems, envPrefix+"PLAYER_ADDRESS is required")
	} else if a, err := wire.NormalizeAddress(c.PlayerAddress); err != nil {
		problems = append(problems, fmt.Sprintf("player address: %v", err))
	} else {
		c.PlayerAddress = a
	}
	if c.GamePoll <= 0 || c.LobbyPoll <= 0 || c.ConfirmInterval <= 0 {
		problems = append(problems, "poll and confirmation intervals must be positive")
	}
	if c.ConfirmRetries <= 0 {
		problems = append(problems, "confirmation retries must be positive")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("invalid http port %d", c.HTTPPort))
	}
	switch c.SecretBackend {
	case secrets.BackendSQLite, secrets.BackendKeyring:
	default:
		problems = append(problems, fmt.Sprintf("unknown secret backend %q", c.SecretBackend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// appDataDir returns an OS-appropriate writable directory.
func appDataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, appConfigDirName)
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, "."+appConfigDirName)
	}
	return "."
}

func envString(k, def string) string {
	if s := strings.TrimSpace(os.Getenv(envPrefix + k)); s != "" {
		return s
	}
	return def
}

func envInt(k string, def int) int {
	if s := os.Getenv(envPrefix + k); s != "" {
		var v int
		if _, err := fmt.Sscanf(s, "%d", &v); err == nil {
			return v
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if s := os.Getenv(envPrefix + k); s != "" {
		if v, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return def
}

// envDuration accepts Go durations ("5s") or bare seconds ("5").
func envDuration(k string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(envPrefix + k))
	if s == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, k, err)
	}
	return d, nil
}
