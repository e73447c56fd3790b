package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/sethvargo/go-retry"

	"github.com/MJE43/starkguessr-go/internal/commitment"
	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/ledger"
	"github.com/MJE43/starkguessr-go/internal/locations"
	"github.com/MJE43/starkguessr-go/internal/secrets"
)

var errNotIndexed = errors.New("session: created game not indexed yet")

// CreateGame commits a target location and returns the id the ledger
// assigned. With target nil the backend picks the location and salt;
// otherwise a fresh salt is drawn locally.
//
// The secret is stored before create_game is sent. It is kept under a
// pending key until the new game shows up in the index.
func (s *Session) CreateGame(ctx context.Context, target *geo.Coordinate) (uint64, error) {
	loc, salt, err := s.newTarget(ctx, target)
	if err != nil {
		return 0, game.Wrap(0, game.ActionCreate, err)
	}
	sec, err := secrets.New(0, secrets.RoleCreator, loc, salt)
	if err != nil {
		return 0, game.Wrap(0, game.ActionCreate, err)
	}
	if err := s.cfg.Secrets.SavePending(ctx, sec); err != nil {
		return 0, game.Wrap(0, game.ActionCreate, fmt.Errorf("store location secret: %w", err))
	}

	if _, err := s.cfg.Ledger.Submit(ctx, ledger.CreateGame(s.cfg.Ledger.Actions(), sec.Commitment)); err != nil {
		return 0, game.Wrap(0, game.ActionCreate, err)
	}

	id, err := s.discover(ctx, sec.Commitment)
	if err != nil {
		return 0, game.Wrap(0, game.ActionCreate, err)
	}
	if _, err := s.cfg.Secrets.Promote(ctx, sec.Commitment, id); err != nil {
		return id, game.Wrap(id, game.ActionCreate, fmt.Errorf("bind location secret: %w", err))
	}
	s.cfg.Logger.Printf("game %d created, commitment %s", id, sec.Commitment.String())

	if s.cfg.Backend != nil {
		err := s.cfg.Backend.SaveGameLocation(ctx, locations.SavedLocation{
			GameID:     id,
			Location:   loc,
			Salt:       salt,
			Commitment: sec.Commitment,
		})
		if err != nil {
			s.cfg.Logger.Printf("warning: game %d: backend did not store the location: %v", id, err)
		}
	}
	return id, nil
}

func (s *Session) newTarget(ctx context.Context, target *geo.Coordinate) (geo.Coordinate, *felt.Felt, error) {
	if target != nil {
		if err := target.Validate(); err != nil {
			return geo.Coordinate{}, nil, fmt.Errorf("%w: %v", game.ErrInvalidCoordinate, err)
		}
		salt, err := commitment.NewSalt(s.cfg.Rand)
		if err != nil {
			return geo.Coordinate{}, nil, err
		}
		return *target, salt, nil
	}
	if s.cfg.Backend == nil {
		return geo.Coordinate{}, nil, errors.New("no target given and no location backend configured")
	}
	t, err := s.cfg.Backend.RandomLocation(ctx)
	if err != nil {
		return geo.Coordinate{}, nil, fmt.Errorf("random location: %w", err)
	}
	return t.Location, t.Salt, nil
}

// discover finds the id of the game this player just created by matching
// player1 and the location commitment in the lobby listing.
func (s *Session) discover(ctx context.Context, c *felt.Felt) (uint64, error) {
	var id uint64
	b := retry.WithMaxRetries(uint64(s.cfg.DiscoverRetries), retry.NewConstant(s.cfg.DiscoverInterval))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		gs, err := s.cfg.Index.ListGames(ctx, s.cfg.LobbySize, game.OrderDesc)
		if err != nil {
			s.cfg.Logger.Printf("discover created game: %v", err)
			return retry.RetryableError(err)
		}
		for _, g := range gs {
			if g.Player1 == s.cfg.Player && g.LocationCommitment != nil && g.LocationCommitment.Equal(c) {
				id = g.ID
				return nil
			}
		}
		return retry.RetryableError(errNotIndexed)
	})
	if err != nil {
		return 0, fmt.Errorf("find created game for commitment %s: %w", c.String(), err)
	}
	return id, nil
}

// JoinGame joins an open game as player2.
func (s *Session) JoinGame(ctx context.Context, id uint64) error {
	g, err := s.Game(ctx, id)
	if err != nil {
		return game.Wrap(id, game.ActionJoin, err)
	}
	switch {
	case g.Player1 == s.cfg.Player:
		return game.Wrap(id, game.ActionJoin, fmt.Errorf("%w: cannot join your own game", game.ErrConflict))
	case g.Player2 == s.cfg.Player:
		return game.Wrap(id, game.ActionJoin, fmt.Errorf("%w: already joined", game.ErrDuplicate))
	case g.State != game.AwaitingPlayer || !g.Player2.IsZero():
		return game.Wrap(id, game.ActionJoin, fmt.Errorf("%w: game is %s", game.ErrConflict, g.State))
	}
	if _, err := s.cfg.Ledger.Submit(ctx, ledger.JoinGame(s.cfg.Ledger.Actions(), id)); err != nil {
		return game.Wrap(id, game.ActionJoin, err)
	}
	s.cfg.Logger.Printf("joined game %d", id)
	return nil
}

// SubmitGuess commits guess for game id. The pre-image is stored before the
// transaction is sent. A rejected transaction clears it again; an unknown
// outcome keeps it so the guess can still be revealed if it landed. Calling
// again with the same guess after the ledger shows no commitment re-sends the
// stored one; a different guess fails with game.ErrSecretExists.
func (s *Session) SubmitGuess(ctx context.Context, id uint64, guess geo.Coordinate) error {
	fail := func(err error) error { return game.Wrap(id, game.ActionSubmitGuess, err) }

	if err := guess.Validate(); err != nil {
		return fail(fmt.Errorf("%w: %v", game.ErrInvalidCoordinate, err))
	}
	g, err := s.Game(ctx, id)
	if err != nil {
		return fail(err)
	}
	if !g.IsParticipant(s.cfg.Player) {
		return fail(game.ErrNotParticipant)
	}
	if g.State != game.Active {
		return fail(fmt.Errorf("%w: game is %s", game.ErrConflict, g.State))
	}
	if mine, ok := g.GuessOf(s.cfg.Player); ok && mine.HasSubmitted {
		return fail(fmt.Errorf("%w: guess already submitted", game.ErrDuplicate))
	}
	if rem := g.Remaining(s.cfg.Clock.Now()); rem == 0 && !g.EndTime.IsZero() {
		s.cfg.Logger.Printf("game %d: deadline passed, submitting anyway", id)
	}

	sec, resend, err := s.guessSecret(ctx, id, guess)
	if err != nil {
		return fail(err)
	}
	if resend {
		s.cfg.Logger.Printf("game %d: earlier guess not on the ledger, re-sending its commitment", id)
	}

	_, err = s.cfg.Ledger.Submit(ctx, ledger.SubmitGuess(s.cfg.Ledger.Actions(), id, sec.Commitment))
	if err != nil {
		var rev *ledger.RevertError
		if errors.As(err, &rev) {
			s.clear(ctx, id, secrets.RoleGuess)
		}
		return fail(err)
	}
	s.cfg.Logger.Printf("game %d: guess committed", id)
	return nil
}

// guessSecret returns the pre-image to commit for guess. A stored pre-image
// for the same coordinate is reused (resend is true) so an unconfirmed
// commitment is never replaced by one with a new salt.
func (s *Session) guessSecret(ctx context.Context, id uint64, guess geo.Coordinate) (secrets.Secret, bool, error) {
	stored, err := s.cfg.Secrets.Load(ctx, id, secrets.RoleGuess)
	switch {
	case err == nil:
		enc, err := geo.Encode(guess)
		if err != nil {
			return secrets.Secret{}, false, fmt.Errorf("%w: %v", game.ErrInvalidCoordinate, err)
		}
		if enc != stored.Encoded {
			return secrets.Secret{}, false, fmt.Errorf("store guess secret: %w: stored guess differs", game.ErrSecretExists)
		}
		return stored, true, nil
	case !errors.Is(err, game.ErrSecretNotFound):
		return secrets.Secret{}, false, fmt.Errorf("load guess secret: %w", err)
	}

	salt, err := commitment.NewSalt(s.cfg.Rand)
	if err != nil {
		return secrets.Secret{}, false, err
	}
	sec, err := secrets.New(id, secrets.RoleGuess, guess, salt)
	if err != nil {
		return secrets.Secret{}, false, err
	}
	if err := s.cfg.Secrets.Save(ctx, sec); err != nil {
		return secrets.Secret{}, false, fmt.Errorf("store guess secret: %w", err)
	}
	return sec, false, nil
}

// RevealLocation discloses the target of game id. The local secret is used
// when present; otherwise the backend's copy is fetched. The pre-image is
// checked against the ledger commitment before anything is sent.
func (s *Session) RevealLocation(ctx context.Context, id uint64) error {
	fail := func(err error) error { return game.Wrap(id, game.ActionRevealLocation, err) }

	g, err := s.Game(ctx, id)
	if err != nil {
		return fail(err)
	}
	if g.LocationRevealed {
		return fail(fmt.Errorf("%w: location already revealed", game.ErrConflict))
	}
	if !g.IsParticipant(s.cfg.Player) {
		return fail(game.ErrNotParticipant)
	}

	enc, salt, local, err := s.locationSecret(ctx, id)
	if err != nil {
		return fail(err)
	}
	if err := commitment.VerifyFixed(g.LocationCommitment, enc, salt); err != nil {
		return fail(err)
	}

	if _, err := s.cfg.Ledger.Submit(ctx, ledger.RevealLocation(s.cfg.Ledger.Actions(), id, enc, salt)); err != nil {
		return fail(err)
	}
	if local {
		s.clear(ctx, id, secrets.RoleCreator)
	}
	s.cfg.Logger.Printf("game %d: location revealed", id)
	return nil
}

func (s *Session) locationSecret(ctx context.Context, id uint64) (geo.Fixed, *felt.Felt, bool, error) {
	sec, err := s.cfg.Secrets.Load(ctx, id, secrets.RoleCreator)
	if err == nil {
		return sec.Encoded, sec.Salt, true, nil
	}
	if !errors.Is(err, game.ErrSecretNotFound) || s.cfg.Backend == nil {
		return geo.Fixed{}, nil, false, err
	}
	t, berr := s.cfg.Backend.Secret(ctx, id)
	if berr != nil {
		return geo.Fixed{}, nil, false, berr
	}
	enc, err := geo.Encode(t.Location)
	if err != nil {
		return geo.Fixed{}, nil, false, fmt.Errorf("%w: %v", game.ErrInvalidCoordinate, err)
	}
	return enc, t.Salt, false, nil
}

// RevealGuess discloses the local player's guess for game id. Without a
// stored secret it fails before touching the ledger.
func (s *Session) RevealGuess(ctx context.Context, id uint64) error {
	fail := func(err error) error { return game.Wrap(id, game.ActionRevealGuess, err) }

	sec, err := s.cfg.Secrets.Load(ctx, id, secrets.RoleGuess)
	if err != nil {
		return fail(err)
	}
	g, err := s.Game(ctx, id)
	if err != nil {
		return fail(err)
	}
	mine, ok := g.GuessOf(s.cfg.Player)
	switch {
	case !ok:
		return fail(game.ErrNotParticipant)
	case mine.HasRevealed:
		s.clear(ctx, id, secrets.RoleGuess)
		return fail(fmt.Errorf("%w: guess already revealed", game.ErrDuplicate))
	case !g.LocationRevealed:
		return fail(fmt.Errorf("%w: location not revealed yet", game.ErrConflict))
	}
	if err := commitment.VerifyFixed(mine.Commitment, sec.Encoded, sec.Salt); err != nil {
		return fail(err)
	}

	if _, err := s.cfg.Ledger.Submit(ctx, ledger.RevealGuess(s.cfg.Ledger.Actions(), id, sec.Encoded, sec.Salt)); err != nil {
		return fail(err)
	}
	s.clear(ctx, id, secrets.RoleGuess)
	s.cfg.Logger.Printf("game %d: guess revealed", id)
	return nil
}

func (s *Session) clear(ctx context.Context, id uint64, role secrets.Role) {
	if err := s.cfg.Secrets.Clear(context.WithoutCancel(ctx), id, role); err != nil {
		s.cfg.Logger.Printf("game %d: clear %s secret: %v", id, role, err)
	}
}
