package credits

import "karatrack-backend/internal/models"

// Plan is read-only reference data describing a subscription tier.
type Plan struct {
	Tier              models.Tier         `json:"tier"`
	Name              string              `json:"name"`
	MonthlyPriceCents int                 `json:"monthly_price_cents"`
	MonthlyCredits    int                 `json:"monthly_credits"`
	PriceID           string              `json:"-"`
	MaxQuality        models.VideoQuality `json:"max_quality"`
	Watermark         bool                `json:"watermark"`
	LyricEditing      bool                `json:"lyric_editing"`
}

func (p Plan) AllowsQuality(q models.VideoQuality) bool {
	return q.Rank() >= 0 && q.Rank() <= p.MaxQuality.Rank()
}

// Package is a one-time credit purchase.
type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int    `json:"credits"`
	PriceCents int    `json:"price_cents"`
	PriceID    string `json:"-"`
}

// PriceIDs maps catalog entries to their payment-processor price references.
type PriceIDs struct {
	Starter       string
	Pro           string
	Studio        string
	CreditsSmall  string
	CreditsMedium string
	CreditsLarge  string
}

type Catalog struct {
	plans    []Plan
	packages []Package
}

func NewCatalog(prices PriceIDs) *Catalog {
	return &Catalog{
		plans: []Plan{
			{Tier: models.TierFree, Name: "Free", MaxQuality: models.Quality720p, Watermark: true},
			{Tier: models.TierStarter, Name: "Starter", MonthlyPriceCents: 999, MonthlyCredits: 30, PriceID: prices.Starter, MaxQuality: models.Quality1080p},
			{Tier: models.TierPro, Name: "Pro", MonthlyPriceCents: 2499, MonthlyCredits: 100, PriceID: prices.Pro, MaxQuality: models.Quality4K, LyricEditing: true},
			{Tier: models.TierStudio, Name: "Studio", MonthlyPriceCents: 4999, MonthlyCredits: 250, PriceID: prices.Studio, MaxQuality: models.Quality4K, LyricEditing: true},
		},
		packages: []Package{
			{ID: "small", Name: "10 credits", Credits: 10, PriceCents: 499, PriceID: prices.CreditsSmall},
			{ID: "medium", Name: "50 credits", Credits: 50, PriceCents: 1999, PriceID: prices.CreditsMedium},
			{ID: "large", Name: "150 credits", Credits: 150, PriceCents: 4999, PriceID: prices.CreditsLarge},
		},
	}
}

func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

func (c *Catalog) Packages() []Package {
	out := make([]Package, len(c.packages))
	copy(out, c.packages)
	return out
}

// PlanByTier falls back to the free plan for unknown tiers.
func (c *Catalog) PlanByTier(tier models.Tier) Plan {
	for _, p := range c.plans {
		if p.Tier == tier {
			return p
		}
	}
	return c.plans[0]
}

func (c *Catalog) PlanByPriceID(priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

func (c *Catalog) PackageByID(id string) (Package, bool) {
	for _, p := range c.packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

func (c *Catalog) PackageByPriceID(priceID string) (Package, bool) {
	if priceID == "" {
		return Package{}, false
	}
	for _, p := range c.packages {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Package{}, false
}
