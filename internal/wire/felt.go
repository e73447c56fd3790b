// Package wire decodes raw values read from the ledger RPC and the Torii
// indexer. Both sources deliver felts as hex or decimal strings (sometimes as
// JSON numbers) and the game state as either a variant name or a numeric code;
// everything is normalised here before it reaches the game model.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/holiman/uint256"

	"github.com/MJE43/starkguessr-go/internal/geo"
)

// ErrMalformed is wrapped by every decoding failure in this package.
var ErrMalformed = errors.New("wire: malformed value")

// ParseFelt parses a hex ("0x…") or decimal string into a field element.
func ParseFelt(s string) (*felt.Felt, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty felt", ErrMalformed)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		f, err := new(felt.Felt).SetString(strings.ToLower(s))
		if err != nil {
			return nil, fmt.Errorf("%w: felt %q: %v", ErrMalformed, s, err)
		}
		return f, nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("%w: felt %q", ErrMalformed, s)
	}
	return FeltFromBig(b)
}

// FeltFromBig converts b, rejecting values at or above the field modulus.
func FeltFromBig(b *big.Int) (*felt.Felt, error) {
	if b.Sign() < 0 || b.Cmp(Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: %s outside the field", ErrMalformed, b.String())
	}
	return new(felt.Felt).SetBigInt(b), nil
}

// FeltFromU256 converts a 128-bit-or-less word produced by geo.Split.
func FeltFromU256(v *uint256.Int) *felt.Felt {
	return new(felt.Felt).SetBigInt(v.ToBig())
}

// FeltFromUint64 is a convenience for ids and flags.
func FeltFromUint64(v uint64) *felt.Felt {
	return new(felt.Felt).SetUint64(v)
}

// U256 reassembles a (low, high) felt pair into a u256.
func U256(low, high *felt.Felt) (*uint256.Int, error) {
	lo, overflow := uint256.FromBig(low.BigInt(new(big.Int)))
	if overflow {
		return nil, fmt.Errorf("%w: u256 low overflow", ErrMalformed)
	}
	hi, overflow := uint256.FromBig(high.BigInt(new(big.Int)))
	if overflow {
		return nil, fmt.Errorf("%w: u256 high overflow", ErrMalformed)
	}
	v, err := geo.Join(geo.Halves{Low: lo, High: hi})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// U256Felts splits v into calldata order (low, high).
func U256Felts(v *uint256.Int) [2]*felt.Felt {
	h := geo.Split(v)
	return [2]*felt.Felt{FeltFromU256(h.Low), FeltFromU256(h.High)}
}

// Bool decodes a Cairo bool felt (0 or 1).
func Bool(f *felt.Felt) (bool, error) {
	switch {
	case f.IsZero():
		return false, nil
	case f.Equal(FeltFromUint64(1)):
		return true, nil
	}
	return false, fmt.Errorf("%w: bool felt %s", ErrMalformed, f.String())
}

// Address returns the canonical lowercase hex form of a contract address
// ("0x0" for the zero address).
func Address(f *felt.Felt) string {
	return f.String()
}

// NormalizeAddress canonicalises a user-supplied or indexer-supplied address so
// that different zero paddings compare equal.
func NormalizeAddress(s string) (string, error) {
	f, err := ParseFelt(s)
	if err != nil {
		return "", err
	}
	return Address(f), nil
}

// Value is a JSON scalar the indexer may send as a string or a number.
type Value string

// UnmarshalJSON accepts "0x..", "123", 123 and null.
func (v *Value) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "null":
		*v = ""
		return nil
	case "true", "false":
		*v = Value(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: scalar %s", ErrMalformed, string(b))
	}
	*v = Value(n.String())
	return nil
}

// Felt parses the value as a felt. An empty value is zero.
func (v Value) Felt() (*felt.Felt, error) {
	if v == "" {
		return new(felt.Felt), nil
	}
	return ParseFelt(string(v))
}

// Uint64 parses the value as an unsigned integer.
func (v Value) Uint64() (uint64, error) {
	f, err := v.Felt()
	if err != nil {
		return 0, err
	}
	b := f.BigInt(new(big.Int))
	if !b.IsUint64() {
		return 0, fmt.Errorf("%w: %s exceeds uint64", ErrMalformed, string(v))
	}
	return b.Uint64(), nil
}

// Bool parses the value as a boolean; the indexer sends JSON booleans as
// strings "true"/"false" or as felts.
func (v Value) Bool() (bool, error) {
	switch strings.ToLower(string(v)) {
	case "true":
		return true, nil
	case "false", "":
		return false, nil
	}
	f, err := v.Felt()
	if err != nil {
		return false, err
	}
	return Bool(f)
}
