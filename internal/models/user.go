package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierStudio  Tier = "studio"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierStudio:
		return true
	}
	return false
}

// User mirrors a row of the profiles table. The tier column is the single
// source of truth for a user's plan; billing webhooks are its only writer.
type User struct {
	ID                    uuid.UUID
	Email                 sql.NullString
	Tier                  Tier
	CreditsRemaining      int
	CreditsUsedThisPeriod int
	StripeCustomerID      sql.NullString
	StripeSubscriptionID  sql.NullString
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
