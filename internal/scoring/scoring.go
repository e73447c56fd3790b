// Package scoring computes great-circle distances and decides winners.
//
// The ledger computes and stores the authoritative integer score for every
// reveal; Distance exists for local checks and for previewing a guess.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/MJE43/starkguessr-go/internal/geo"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6_371_000.0

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b geo.Coordinate) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Score is a player's distance to the target in whole meters.
type Score struct {
	Player string `json:"player"`
	Meters uint64 `json:"meters"`
}

// Outcome is the result of comparing scores. Equal best scores are a draw and
// leave Winner empty.
type Outcome struct {
	Winner string  `json:"winner,omitempty"`
	Draw   bool    `json:"draw"`
	Scores []Score `json:"scores"`
}

var ErrNoScores = errors.New("scoring: at least two scores are required")

// Winner picks the player with the strictly smallest distance.
func Winner(scores []Score) (Outcome, error) {
	if len(scores) < 2 {
		return Outcome{}, ErrNoScores
	}
	best := 0
	draw := false
	for i := 1; i < len(scores); i++ {
		switch {
		case scores[i].Meters < scores[best].Meters:
			best = i
			draw = false
		case scores[i].Meters == scores[best].Meters:
			draw = true
		}
	}
	out := Outcome{Scores: append([]Score(nil), scores...), Draw: draw}
	if !draw {
		out.Winner = scores[best].Player
	}
	return out, nil
}

// MetersOf rounds a float distance the way scores are reported.
func MetersOf(d float64) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(math.Round(d))
}

// FormatDistance renders meters for display: "850m", "12.3km", "5,570km".
func FormatDistance(meters float64) string {
	switch {
	case meters < 1000:
		return fmt.Sprintf("%dm", int64(math.Round(meters)))
	case meters < 100_000:
		return fmt.Sprintf("%.1fkm", meters/1000)
	default:
		return humanize.Comma(int64(math.Round(meters/1000))) + "km"
	}
}
