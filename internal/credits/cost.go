package credits

import (
	"fmt"

	"karatrack-backend/internal/models"
)

// CostOptions are the job parameters that influence the price.
type CostOptions struct {
	ProcessingType models.ProcessingType
	VideoQuality   models.VideoQuality
	IncludeLyrics  bool
	ReviewLyrics   bool
}

var qualityCost = map[models.VideoQuality]int{
	models.Quality480p:  3,
	models.Quality720p:  4,
	models.Quality1080p: 5,
	models.Quality4K:    8,
}

const (
	bothVersionsSurcharge = 2
	reviewSurcharge       = 1
)

// CalculateCost prices a job. It has no side effects; the same options always
// produce the same cost. IncludeLyrics is accepted for completeness but the
// lyric track is part of every base price.
func CalculateCost(opts CostOptions) (int, error) {
	base, ok := qualityCost[opts.VideoQuality]
	if !ok {
		return 0, fmt.Errorf("unknown video quality %q", opts.VideoQuality)
	}
	if !opts.ProcessingType.Valid() {
		return 0, fmt.Errorf("unknown processing type %q", opts.ProcessingType)
	}

	cost := base
	if opts.ProcessingType == models.ProcessingBoth {
		cost += bothVersionsSurcharge
	}
	if opts.ReviewLyrics {
		cost += reviewSurcharge
	}
	return cost, nil
}
