package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/MJE43/starkguessr-go/internal/config"
	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/ledger"
	"github.com/MJE43/starkguessr-go/internal/locations"
	"github.com/MJE43/starkguessr-go/internal/secrets"
	"github.com/MJE43/starkguessr-go/internal/session"
	"github.com/MJE43/starkguessr-go/internal/torii"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

const appName = "starkguessr"

// cfg is loaded once in the app's Before hook.
var cfg config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  appName,
		Usage: "play commit-reveal geo guessing games on Starknet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "optional dotenv file"},
			&cli.StringFlag{Name: "rpc-url", Usage: "Starknet JSON-RPC endpoint"},
			&cli.StringFlag{Name: "torii-url", Usage: "Torii indexer base URL"},
			&cli.StringFlag{Name: "backend-url", Usage: "location backend base URL"},
			&cli.StringFlag{Name: "actions", Usage: "actions contract address"},
			&cli.StringFlag{Name: "player", Usage: "local player account address"},
			&cli.StringFlag{Name: "relay-url", Usage: "transaction relay that signs for the player account"},
			&cli.StringFlag{Name: "data-dir", Usage: "directory for local secrets"},
			&cli.StringFlag{Name: "secret-backend", Usage: "sqlite or keyring"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log protocol steps to stdout"},
		},
		Before: func(c *cli.Context) error {
			loaded, err := config.Load(c.String("env-file"))
			if err != nil {
				return err
			}
			for name, dst := range map[string]*string{
				"rpc-url":        &loaded.RPCURL,
				"torii-url":      &loaded.ToriiURL,
				"backend-url":    &loaded.BackendURL,
				"actions":        &loaded.ActionsAddress,
				"player":         &loaded.PlayerAddress,
				"relay-url":      &loaded.RelayURL,
				"data-dir":       &loaded.DataDir,
				"secret-backend": &loaded.SecretBackend,
			} {
				if c.IsSet(name) {
					*dst = c.String(name)
				}
			}
			cfg = loaded
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			createCommand(),
			joinCommand(),
			guessCommand(),
			revealLocationCommand(),
			revealGuessCommand(),
			watchCommand(),
			listCommand(),
			resultsCommand(),
			secretsCommand(),
			distanceCommand(),
			inviteCommand(),
		},
	}
}

func newLogger(c *cli.Context, prefix string) *log.Logger {
	if !c.Bool("verbose") {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lshortfile)
}

// openSession wires the ledger, index, backend and secret store for the
// configured player.
func openSession(c *cli.Context) (*session.Session, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	ctx := c.Context

	actions, err := wire.ParseFelt(cfg.ActionsAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("actions address: %w", err)
	}
	var exec ledger.Executor
	if cfg.RelayURL != "" {
		exec = ledger.NewRelayExecutor(cfg.RelayURL, cfg.PlayerAddress, &http.Client{Timeout: 60 * time.Second})
	}
	lc, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:          cfg.RPCURL,
		Actions:         actions,
		Executor:        exec,
		ConfirmRetries:  cfg.ConfirmRetries,
		ConfirmInterval: cfg.ConfirmInterval,
		Logger:          newLogger(c, "[LEDGER] "),
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := secrets.Open(ctx, cfg.SecretBackend, cfg.DataDir)
	if err != nil {
		lc.Close()
		return nil, nil, err
	}

	sess, err := session.New(session.Config{
		Player:     game.Address(cfg.PlayerAddress),
		Ledger:     lc,
		Index:      torii.NewClient(torii.Config{URL: cfg.ToriiURL}),
		Backend:    locations.NewClient(locations.Config{URL: cfg.BackendURL, Wallet: cfg.PlayerAddress}),
		Secrets:    store,
		AutoReveal: cfg.AutoReveal,
		GamePoll:   cfg.GamePoll,
		LobbyPoll:  cfg.LobbyPoll,
		Logger:     newLogger(c, "[SESSION] "),
	})
	if err != nil {
		_ = store.Close()
		lc.Close()
		return nil, nil, err
	}
	if exec == nil {
		log.Printf("no relay configured: %s can read games but not send transactions", appName)
	}
	cleanup := func() {
		if err := sess.Close(); err != nil {
			log.Printf("close session: %v", err)
		}
		lc.Close()
	}
	return sess, cleanup, nil
}

// describe renders err for the terminal with the hint a player needs next.
func describe(err error) string {
	msg := "error: " + err.Error()
	switch {
	case errors.Is(err, game.ErrConfirmationTimeout):
		msg += "\nthe transaction may still land; run `" + appName + " watch <game-id>` first. A guess repeated with the same coordinate re-sends its stored commitment only if the ledger has none"
	case errors.Is(err, game.ErrSecretNotFound):
		msg += "\nno stored pre-image for this game; the reveal cannot be reconstructed"
	case errors.Is(err, game.ErrCommitmentMismatch):
		msg += "\nthe stored secret does not match the on-chain commitment"
	case errors.Is(err, game.ErrSecretExists):
		msg += "\na different guess is already stored for this game; repeat the stored coordinate instead"
	}
	return msg
}

