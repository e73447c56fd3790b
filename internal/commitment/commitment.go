// Package commitment produces the Poseidon commitments the ledger verifies on
// reveal.
//
// A commitment is PoseidonArray(latLow, latHigh, lngLow, lngHigh, salt) over
// the Stark field, where the four coordinate words come from geo.Encode and
// geo.Split. The element order is wire format: the contract recomputes the
// hash in exactly this order.
package commitment

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

// saltAttempts bounds rejection sampling; each draw succeeds with
// probability > 1/2, so exhausting it means the reader is broken.
const saltAttempts = 128

// NewSalt draws a uniformly random non-zero field element from r. Pass nil to
// use crypto/rand.
func NewSalt(r io.Reader) (*felt.Felt, error) {
	if r == nil {
		r = rand.Reader
	}
	p := wire.Modulus()
	buf := make([]byte, 32)
	for i := 0; i < saltAttempts; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("commitment: read salt entropy: %w", err)
		}
		// p < 2^252, so drop the top four bits before rejecting.
		buf[0] &= 0x0f
		v := new(big.Int).SetBytes(buf)
		if v.Sign() == 0 || v.Cmp(p) >= 0 {
			continue
		}
		return new(felt.Felt).SetBigInt(v), nil
	}
	return nil, fmt.Errorf("commitment: no salt below the field modulus after %d draws", saltAttempts)
}

// Elements returns the hashed sequence [latLow, latHigh, lngLow, lngHigh, salt].
func Elements(f geo.Fixed, salt *felt.Felt) []*felt.Felt {
	w := f.Words()
	return []*felt.Felt{
		wire.FeltFromU256(w[0]),
		wire.FeltFromU256(w[1]),
		wire.FeltFromU256(w[2]),
		wire.FeltFromU256(w[3]),
		new(felt.Felt).Set(salt),
	}
}

// Compute encodes c and returns its commitment under salt.
func Compute(c geo.Coordinate, salt *felt.Felt) (*felt.Felt, error) {
	if salt == nil {
		return nil, fmt.Errorf("commitment: nil salt")
	}
	f, err := geo.Encode(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrInvalidCoordinate, err)
	}
	return ComputeFixed(f, salt), nil
}

// ComputeFixed hashes an already encoded coordinate.
func ComputeFixed(f geo.Fixed, salt *felt.Felt) *felt.Felt {
	return crypto.PoseidonArray(Elements(f, salt)...)
}

// Verify recomputes the commitment for (c, salt) and compares it with want.
// It mirrors the ledger-side check so a bad pre-image is caught before a
// reveal transaction is sent.
func Verify(want *felt.Felt, c geo.Coordinate, salt *felt.Felt) error {
	if want == nil {
		return fmt.Errorf("commitment: no stored commitment to verify against")
	}
	got, err := Compute(c, salt)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return fmt.Errorf("%w: computed %s, stored %s", game.ErrCommitmentMismatch, got.String(), want.String())
	}
	return nil
}

// VerifyFixed is Verify for an encoded coordinate.
func VerifyFixed(want *felt.Felt, f geo.Fixed, salt *felt.Felt) error {
	if want == nil || salt == nil {
		return fmt.Errorf("commitment: missing commitment or salt")
	}
	got := ComputeFixed(f, salt)
	if !got.Equal(want) {
		return fmt.Errorf("%w: computed %s, stored %s", game.ErrCommitmentMismatch, got.String(), want.String())
	}
	return nil
}
