// Package secrets persists commitment pre-images between commit and reveal.
//
// A Secret is the only copy of the salt anywhere, so losing it forfeits the
// game. Records are keyed by (game id, role); the creator's location secret
// is first stored under a pending key derived from its commitment because
// the ledger assigns the game id only after create_game lands.
package secrets

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/zeebo/blake3"

	"github.com/MJE43/starkguessr-go/internal/commitment"
	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
)

// ErrCorrupt means a stored record failed its integrity check.
var ErrCorrupt = errors.New("secrets: stored record is corrupt")

// Role distinguishes the two secrets a player can hold for one game.
type Role string

const (
	RoleCreator Role = "creator"
	RoleGuess   Role = "guess"
)

func (r Role) valid() bool { return r == RoleCreator || r == RoleGuess }

// Secret is the pre-image of one commitment.
type Secret struct {
	GameID     uint64         `json:"game_id"`
	Role       Role           `json:"role"`
	Location   geo.Coordinate `json:"location"`
	Encoded    geo.Fixed      `json:"encoded"`
	Salt       *felt.Felt     `json:"salt"`
	Commitment *felt.Felt     `json:"commitment"`
	CreatedAt  time.Time      `json:"created_at"`
}

// New builds a secret for loc under salt and computes its commitment.
func New(gameID uint64, role Role, loc geo.Coordinate, salt *felt.Felt) (Secret, error) {
	if !role.valid() {
		return Secret{}, fmt.Errorf("secrets: unknown role %q", role)
	}
	enc, err := geo.Encode(loc)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: %v", game.ErrInvalidCoordinate, err)
	}
	if salt == nil {
		return Secret{}, fmt.Errorf("secrets: salt is required")
	}
	return Secret{
		GameID:     gameID,
		Role:       role,
		Location:   loc,
		Encoded:    enc,
		Salt:       new(felt.Felt).Set(salt),
		Commitment: commitment.ComputeFixed(enc, salt),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Redacted returns a copy without the salt, safe to hand to a UI or a log.
func (s Secret) Redacted() Secret {
	s.Salt = nil
	return s
}

// Store is durable per-(game, role) secret storage.
type Store interface {
	// Save stores s under (s.GameID, s.Role). It returns game.ErrSecretExists
	// if an unrevealed secret is already stored there.
	Save(ctx context.Context, s Secret) error
	// Load returns game.ErrSecretNotFound if nothing is stored.
	Load(ctx context.Context, gameID uint64, role Role) (Secret, error)
	// Clear removes the secret. Clearing a missing key is not an error.
	Clear(ctx context.Context, gameID uint64, role Role) error
	// SavePending stores a creator secret before its game id is known.
	SavePending(ctx context.Context, s Secret) error
	// Promote binds the pending secret for commitment to gameID.
	Promote(ctx context.Context, commitment *felt.Felt, gameID uint64) (Secret, error)
	Close() error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context) ([]Secret, error)
}

// Key is the stable composite key for (gameID, role).
func Key(gameID uint64, role Role) string {
	return fmt.Sprintf("game_%d_%s", gameID, role)
}

func pendingKey(c *felt.Felt) string {
	return "pending_" + c.String()
}

func (s Secret) validate() error {
	if !s.Role.valid() {
		return fmt.Errorf("secrets: unknown role %q", s.Role)
	}
	if s.Salt == nil || s.Commitment == nil {
		return fmt.Errorf("secrets: salt and commitment are required")
	}
	if err := s.Location.Validate(); err != nil {
		return fmt.Errorf("%w: %v", game.ErrInvalidCoordinate, err)
	}
	return nil
}

// checksum binds every stored field to the key it was written under.
func (s Secret) checksum(key string) []byte {
	h := blake3.New()
	var buf [8]byte
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte(s.Role))
	for _, v := range []uint64{
		s.GameID,
		math.Float64bits(s.Location.Lat),
		math.Float64bits(s.Location.Lng),
		s.Encoded.Lat,
		s.Encoded.Lng,
	} {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	salt := s.Salt.Bytes()
	com := s.Commitment.Bytes()
	_, _ = h.Write(salt[:])
	_, _ = h.Write(com[:])
	return h.Sum(nil)
}

// verify checks a record read back from storage: its checksum, that the
// encoded words match the coordinate, and that it still hashes to its
// commitment.
func (s Secret) verify(key string, sum []byte) error {
	if string(s.checksum(key)) != string(sum) {
		return fmt.Errorf("%w: checksum mismatch for %s", ErrCorrupt, key)
	}
	enc, err := geo.Encode(s.Location)
	if err != nil || enc != s.Encoded {
		return fmt.Errorf("%w: encoded coordinate mismatch for %s", ErrCorrupt, key)
	}
	if err := commitment.VerifyFixed(s.Commitment, s.Encoded, s.Salt); err != nil {
		return fmt.Errorf("secrets: %s: %w", key, err)
	}
	return nil
}
