package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"karatrack-backend/internal/metrics"
	"karatrack-backend/internal/models"
)

var ErrInvalidAmount = errors.New("amount must be positive")

type DebitRequest struct {
	UserID      uuid.UUID
	Amount      int
	ProjectID   uuid.NullUUID
	Description string
}

// DebitResult is the outcome of a debit. Applied=false with a positive
// Shortfall is the normal insufficient-funds answer; nothing was written.
type DebitResult struct {
	Applied       bool
	Balance       int
	Shortfall     int
	TransactionID uuid.UUID
}

type CreditRequest struct {
	UserID      uuid.UUID
	Amount      int
	Kind        models.TransactionKind
	Description string
	ProjectID   uuid.NullUUID
	// ExternalRef identifies the payment object behind the credit. A second
	// credit with the same kind and reference is reported as Duplicate.
	ExternalRef string
	// ResetPeriodUsage zeroes credits_used_this_period in the same write.
	ResetPeriodUsage bool
}

type CreditResult struct {
	Applied       bool
	Duplicate     bool
	Balance       int
	TransactionID uuid.UUID
}

// Store is the persistence contract for the ledger. ApplyDebit and ApplyCredit
// must each run as one atomic unit holding exclusive access to the user's
// balance row. ListTransactions returns the newest rows first.
type Store interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	CreateUserWithGrant(ctx context.Context, userID uuid.UUID, email string, grant int, description string) (*models.User, bool, error)
	ApplyDebit(ctx context.Context, req DebitRequest) (DebitResult, error)
	ApplyCredit(ctx context.Context, req CreditRequest) (CreditResult, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error)
}

type Ledger struct {
	store         Store
	startingGrant int
}

func NewLedger(store Store, startingGrant int) *Ledger {
	return &Ledger{store: store, startingGrant: startingGrant}
}

// Debit atomically takes amount credits from the user if the balance covers it.
func (l *Ledger) Debit(ctx context.Context, req DebitRequest) (DebitResult, error) {
	if req.Amount <= 0 {
		return DebitResult{}, ErrInvalidAmount
	}

	res, err := l.store.ApplyDebit(ctx, req)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("debit", "error").Inc()
		return DebitResult{}, fmt.Errorf("debit credits: %w", err)
	}

	if !res.Applied {
		metrics.LedgerOperations.WithLabelValues("debit", "insufficient").Inc()
		log.Info().
			Str("user_id", req.UserID.String()).
			Int("amount", req.Amount).
			Int("balance", res.Balance).
			Int("shortfall", res.Shortfall).
			Msg("Debit rejected: insufficient credits")
		return res, nil
	}

	metrics.LedgerOperations.WithLabelValues("debit", "applied").Inc()
	log.Info().
		Str("user_id", req.UserID.String()).
		Int("amount", req.Amount).
		Int("balance", res.Balance).
		Msg("Credits debited")
	return res, nil
}

// Credit atomically adds amount credits and records the transaction.
func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if req.Amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}
	if !req.Kind.Valid() || req.Kind == models.KindUsage {
		return CreditResult{}, fmt.Errorf("invalid credit kind %q", req.Kind)
	}

	res, err := l.store.ApplyCredit(ctx, req)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("credit", "error").Inc()
		return CreditResult{}, fmt.Errorf("credit credits: %w", err)
	}

	if res.Duplicate {
		metrics.LedgerOperations.WithLabelValues("credit", "duplicate").Inc()
		log.Info().
			Str("user_id", req.UserID.String()).
			Str("external_ref", req.ExternalRef).
			Str("kind", string(req.Kind)).
			Msg("Credit skipped: already recorded")
		return res, nil
	}

	metrics.LedgerOperations.WithLabelValues("credit", "applied").Inc()
	log.Info().
		Str("user_id", req.UserID.String()).
		Int("amount", req.Amount).
		Str("kind", string(req.Kind)).
		Int("balance", res.Balance).
		Msg("Credits granted")
	return res, nil
}

// EnsureAccount returns the user's profile, creating it with the starting
// grant on first sight.
func (l *Ledger) EnsureAccount(ctx context.Context, userID uuid.UUID, email string) (*models.User, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return nil, err
	}

	user, created, err := l.store.CreateUserWithGrant(ctx, userID, email, l.startingGrant, "Welcome bonus")
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if created {
		log.Info().
			Str("user_id", userID.String()).
			Int("grant", l.startingGrant).
			Msg("Account created")
	}
	return user, nil
}

func (l *Ledger) Account(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return l.store.GetUser(ctx, userID)
}

func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.CreditsRemaining, nil
}

func (l *Ledger) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.ListTransactions(ctx, userID, limit)
}

// Replay folds a user's transactions, oldest first, starting from zero. It
// fails if any recorded BalanceAfter disagrees with the running total.
func Replay(txs []models.CreditTransaction) (int, error) {
	balance := 0
	for _, tx := range txs {
		balance += tx.Amount
		if balance < 0 {
			return balance, fmt.Errorf("transaction %s drives balance negative", tx.ID)
		}
		if tx.BalanceAfter != balance {
			return balance, fmt.Errorf("transaction %s records balance %d, replay gives %d", tx.ID, tx.BalanceAfter, balance)
		}
	}
	return balance, nil
}
