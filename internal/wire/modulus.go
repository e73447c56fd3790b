package wire

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
)

var modulus = fp.Modulus()

// Modulus returns a copy of the Stark field prime
// p = 2^251 + 17*2^192 + 1.
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}
