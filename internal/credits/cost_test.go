package credits_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/models"
)

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name string
		opts credits.CostOptions
		want int
	}{
		{"480p remove vocals", credits.CostOptions{ProcessingType: models.ProcessingRemoveVocals, VideoQuality: models.Quality480p, IncludeLyrics: true}, 3},
		{"720p remove vocals", credits.CostOptions{ProcessingType: models.ProcessingRemoveVocals, VideoQuality: models.Quality720p, IncludeLyrics: true}, 4},
		{"1080p isolate backing", credits.CostOptions{ProcessingType: models.ProcessingIsolateBacking, VideoQuality: models.Quality1080p}, 5},
		{"4k remove vocals", credits.CostOptions{ProcessingType: models.ProcessingRemoveVocals, VideoQuality: models.Quality4K}, 8},
		{"1080p both versions", credits.CostOptions{ProcessingType: models.ProcessingBoth, VideoQuality: models.Quality1080p}, 7},
		{"720p with review", credits.CostOptions{ProcessingType: models.ProcessingRemoveVocals, VideoQuality: models.Quality720p, IncludeLyrics: true, ReviewLyrics: true}, 5},
		{"4k both with review", credits.CostOptions{ProcessingType: models.ProcessingBoth, VideoQuality: models.Quality4K, IncludeLyrics: true, ReviewLyrics: true}, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := credits.CalculateCost(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateCost_IsDeterministic(t *testing.T) {
	opts := credits.CostOptions{ProcessingType: models.ProcessingBoth, VideoQuality: models.Quality1080p, ReviewLyrics: true}
	first, err := credits.CalculateCost(opts)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := credits.CalculateCost(opts)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCalculateCost_RejectsUnknownOptions(t *testing.T) {
	_, err := credits.CalculateCost(credits.CostOptions{ProcessingType: models.ProcessingRemoveVocals, VideoQuality: "8k"})
	assert.Error(t, err)

	_, err = credits.CalculateCost(credits.CostOptions{ProcessingType: "karaoke", VideoQuality: models.Quality720p})
	assert.Error(t, err)
}

func TestCatalog(t *testing.T) {
	catalog := credits.NewCatalog(credits.PriceIDs{
		Starter:      "price_starter",
		Pro:          "price_pro",
		Studio:       "price_studio",
		CreditsSmall: "price_small",
	})

	free := catalog.PlanByTier(models.TierFree)
	assert.True(t, free.Watermark)
	assert.False(t, free.LyricEditing)
	assert.True(t, free.AllowsQuality(models.Quality720p))
	assert.False(t, free.AllowsQuality(models.Quality1080p))

	pro := catalog.PlanByTier(models.TierPro)
	assert.True(t, pro.LyricEditing)
	assert.True(t, pro.AllowsQuality(models.Quality4K))
	assert.Equal(t, 100, pro.MonthlyCredits)

	assert.Equal(t, models.TierFree, catalog.PlanByTier("platinum").Tier, "unknown tiers fall back to free")

	plan, ok := catalog.PlanByPriceID("price_studio")
	require.True(t, ok)
	assert.Equal(t, models.TierStudio, plan.Tier)

	_, ok = catalog.PlanByPriceID("")
	assert.False(t, ok)

	pkg, ok := catalog.PackageByID("small")
	require.True(t, ok)
	assert.Equal(t, 10, pkg.Credits)

	pkg, ok = catalog.PackageByPriceID("price_small")
	require.True(t, ok)
	assert.Equal(t, "small", pkg.ID)

	_, ok = catalog.PackageByID("huge")
	assert.False(t, ok)
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	catalog := credits.NewCatalog(credits.PriceIDs{})
	plans := catalog.Plans()
	plans[0].Name = "changed"
	assert.Equal(t, "Free", catalog.Plans()[0].Name)
	assert.Len(t, catalog.Packages(), 3)
}
