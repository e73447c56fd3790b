// Package geo converts latitude/longitude pairs to and from the fixed-point
// integer form the ledger stores and hashes.
//
// Each axis is shifted into a non-negative range by adding its domain minimum,
// scaled by 10^6 and truncated:
//
//	latFixed = floor((lat + 90)  * 1e6)
//	lngFixed = floor((lng + 180) * 1e6)
//
// Decoding divides and subtracts the offset again. The round trip is lossy by
// at most 1e-6 degrees per axis. The scale factor and the truncation direction
// are part of the commitment format; changing either breaks verification of
// every commitment produced before the change.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

const (
	// Scale is the fixed-point factor applied to each offset coordinate.
	Scale = 1_000_000

	LatOffset = 90
	LngOffset = 180

	MinLat, MaxLat = -90.0, 90.0
	MinLng, MaxLng = -180.0, 180.0
)

// ErrOutOfRange is returned for coordinates outside [-90,90] x [-180,180] or
// fixed-point values that decode outside that domain.
var ErrOutOfRange = errors.New("geo: coordinate out of range")

// Coordinate is a point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the domain of both axes.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return fmt.Errorf("%w: NaN", ErrOutOfRange)
	}
	if c.Lat < MinLat || c.Lat > MaxLat {
		return fmt.Errorf("%w: lat %v", ErrOutOfRange, c.Lat)
	}
	if c.Lng < MinLng || c.Lng > MaxLng {
		return fmt.Errorf("%w: lng %v", ErrOutOfRange, c.Lng)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lng)
}

// Fixed is the encoded form of a Coordinate.
type Fixed struct {
	Lat uint64 `json:"lat"`
	Lng uint64 `json:"lng"`
}

// Encode converts c to its fixed-point form.
func Encode(c Coordinate) (Fixed, error) {
	if err := c.Validate(); err != nil {
		return Fixed{}, err
	}
	return Fixed{
		Lat: uint64(math.Floor((c.Lat + LatOffset) * Scale)),
		Lng: uint64(math.Floor((c.Lng + LngOffset) * Scale)),
	}, nil
}

// Decode is the inverse of Encode, up to the truncation loss.
func Decode(f Fixed) (Coordinate, error) {
	c := Coordinate{
		Lat: float64(f.Lat)/Scale - LatOffset,
		Lng: float64(f.Lng)/Scale - LngOffset,
	}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// --- u256 split ---

var mask128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

// Halves is a ledger-native u256 split into its low and high 128-bit words.
type Halves struct {
	Low  *uint256.Int
	High *uint256.Int
}

// Split returns the low/high halves of v.
func Split(v *uint256.Int) Halves {
	return Halves{
		Low:  new(uint256.Int).And(v, mask128),
		High: new(uint256.Int).Rsh(v, 128),
	}
}

// Join reassembles a u256 from its halves. It fails if either half does not
// fit in 128 bits.
func Join(h Halves) (*uint256.Int, error) {
	if h.Low == nil || h.High == nil {
		return nil, errors.New("geo: nil u256 half")
	}
	if h.Low.BitLen() > 128 || h.High.BitLen() > 128 {
		return nil, errors.New("geo: u256 half exceeds 128 bits")
	}
	out := new(uint256.Int).Lsh(h.High, 128)
	return out.Or(out, h.Low), nil
}

// Words returns the encoded coordinate in protocol order:
// latLow, latHigh, lngLow, lngHigh.
func (f Fixed) Words() [4]*uint256.Int {
	lat := Split(uint256.NewInt(f.Lat))
	lng := Split(uint256.NewInt(f.Lng))
	return [4]*uint256.Int{lat.Low, lat.High, lng.Low, lng.High}
}

// FixedFromHalves rebuilds a Fixed from ledger halves, rejecting values that
// could not have come from Encode.
func FixedFromHalves(lat, lng Halves) (Fixed, error) {
	latV, err := Join(lat)
	if err != nil {
		return Fixed{}, err
	}
	lngV, err := Join(lng)
	if err != nil {
		return Fixed{}, err
	}
	if !latV.IsUint64() || !lngV.IsUint64() {
		return Fixed{}, fmt.Errorf("%w: fixed value exceeds 64 bits", ErrOutOfRange)
	}
	f := Fixed{Lat: latV.Uint64(), Lng: lngV.Uint64()}
	if f.Lat > (LatOffset*2)*Scale || f.Lng > (LngOffset*2)*Scale {
		return Fixed{}, fmt.Errorf("%w: fixed (%d, %d)", ErrOutOfRange, f.Lat, f.Lng)
	}
	return f, nil
}
