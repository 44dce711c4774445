package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type TransactionKind string

const (
	KindUsage               TransactionKind = "usage"
	KindPurchase            TransactionKind = "purchase"
	KindSubscriptionRenewal TransactionKind = "subscription_renewal"
	KindUpgrade             TransactionKind = "upgrade"
	KindRefund              TransactionKind = "refund"
	KindBonus               TransactionKind = "bonus"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindUsage, KindPurchase, KindSubscriptionRenewal, KindUpgrade, KindRefund, KindBonus:
		return true
	}
	return false
}

// CreditTransaction is an immutable ledger row. Amount is negative for usage.
type CreditTransaction struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Amount       int
	BalanceAfter int
	Kind         TransactionKind
	Description  string
	ProjectID    uuid.NullUUID
	ExternalRef  sql.NullString
	CreatedAt    time.Time
}
