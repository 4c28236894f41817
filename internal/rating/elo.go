// Package rating keeps Elo ratings and win/loss statistics of ranked players.
package rating

import "math"

const (
	// K is the Elo development coefficient.
	K = 32
	// InitialRating is the rating of a participant with no ranked games.
	InitialRating = 1500
)

// Expected is the probability that a player rated a beats one rated b.
func Expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Update returns both new ratings after a decisive game. The exchange is
// zero-sum: whatever a gains, b loses.
func Update(a, b int, aWon bool) (int, int) {
	actual := 0.0
	if aWon {
		actual = 1
	}
	delta := int(math.Round(K * (actual - Expected(a, b))))
	return a + delta, b - delta
}
