package matching

import (
	"math"

	"github.com/okian/installmatch/internal/domain/geo"
)

// SubScores are the independent 0-100 criteria of a candidate.
type SubScores struct {
	Tier         float64 `json:"tier"`
	Distance     float64 `json:"distance"`
	Rating       float64 `json:"rating"`
	Availability float64 `json:"availability"`
	Experience   float64 `json:"experience"`
	Cost         float64 `json:"cost"`
}

const (
	exactDateScore    = 100
	flexibleDateScore = 80
	// flexibleWindowDays is how far a flexible job may move.
	flexibleWindowDays = 3
)

type band struct {
	limit, score float64
}

func banded(v float64, bands []band, otherwise float64) float64 {
	for _, b := range bands {
		if v <= b.limit {
			return b.score
		}
	}
	return otherwise
}

var distanceBands = []band{{5, 100}, {10, 90}, {20, 75}, {30, 60}, {40, 50}}

func distanceScore(d geo.Distance) float64 {
	if !d.Known {
		return 0
	}
	return banded(d.Km(), distanceBands, 40)
}

func ratingScore(rating float64) float64 {
	if math.IsNaN(rating) || rating < 0 {
		return 0
	}
	return math.Min(rating*20, 100)
}

func experienceScore(prior int) float64 {
	switch {
	case prior >= 50:
		return 100
	case prior >= 20:
		return 85
	case prior >= 10:
		return 70
	case prior >= 3:
		return 55
	case prior >= 1:
		return 40
	}
	return 20
}

var costBands = []band{{0.6, 100}, {0.8, 85}, {0.9, 70}, {1.0, 50}}

func costScore(cost, budget int64) float64 {
	if budget <= 0 {
		return 0
	}
	return banded(float64(cost)/float64(budget), costBands, 0)
}
