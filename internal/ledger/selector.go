package ledger

import (
	"math/big"
	"sync"

	"github.com/NethermindEth/juno/core/felt"
	"golang.org/x/crypto/sha3"
)

var (
	mask250   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	selectors sync.Map
)

// Selector returns the entry point selector for name: the Keccak-256 of the
// ASCII name truncated to 250 bits.
func Selector(name string) *felt.Felt {
	if v, ok := selectors.Load(name); ok {
		return new(felt.Felt).Set(v.(*felt.Felt))
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	v := new(big.Int).SetBytes(h.Sum(nil))
	v.And(v, mask250)
	f := new(felt.Felt).SetBigInt(v)
	selectors.Store(name, f)
	return new(felt.Felt).Set(f)
}
