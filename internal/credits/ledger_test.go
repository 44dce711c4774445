package credits_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/memstore"
	"karatrack-backend/internal/models"
)

func newLedger(t *testing.T, grant int) (*credits.Ledger, uuid.UUID) {
	t.Helper()
	ledger := credits.NewLedger(memstore.New(), grant)
	userID := uuid.New()
	_, err := ledger.EnsureAccount(context.Background(), userID, "singer@example.com")
	require.NoError(t, err)
	return ledger, userID
}

// oldestFirst reverses History output for Replay.
func oldestFirst(txs []models.CreditTransaction) []models.CreditTransaction {
	out := make([]models.CreditTransaction, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}
	return out
}

func TestEnsureAccount_GrantsOnce(t *testing.T) {
	ctx := context.Background()
	ledger, userID := newLedger(t, 5)

	user, err := ledger.EnsureAccount(ctx, userID, "singer@example.com")
	require.NoError(t, err)
	assert.Equal(t, 5, user.CreditsRemaining)
	assert.Equal(t, models.TierFree, user.Tier)

	txs, err := ledger.History(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.KindBonus, txs[0].Kind)
	assert.Equal(t, 5, txs[0].BalanceAfter)
}

func TestDebit(t *testing.T) {
	ctx := context.Background()
	ledger, userID := newLedger(t, 10)

	res, err := ledger.Debit(ctx, credits.DebitRequest{UserID: userID, Amount: 4, Description: "Karaoke video"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 6, res.Balance)
	assert.NotEqual(t, uuid.Nil, res.TransactionID)

	user, err := ledger.Account(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 6, user.CreditsRemaining)
	assert.Equal(t, 4, user.CreditsUsedThisPeriod)
}

func TestDebit_InsufficientWritesNothing(t *testing.T) {
	ctx := context.Background()
	ledger, userID := newLedger(t, 3)

	res, err := ledger.Debit(ctx, credits.DebitRequest{UserID: userID, Amount: 5})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 3, res.Balance)
	assert.Equal(t, 2, res.Shortfall)

	txs, err := ledger.History(ctx, userID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "only the welcome grant is recorded")
}

func TestDebit_RejectsNonPositiveAmount(t *testing.T) {
	ledger, userID := newLedger(t, 3)

	_, err := ledger.Debit(context.Background(), credits.DebitRequest{UserID: userID, Amount: 0})
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)
}

func TestCredit_DuplicateReferenceIsSkipped(t *testing.T) {
	ctx := context.Background()
	ledger, userID := newLedger(t, 0)

	req := credits.CreditRequest{
		UserID:      userID,
		Amount:      50,
		Kind:        models.KindPurchase,
		Description: "50 credits",
		ExternalRef: "cs_test_123",
	}
	first, err := ledger.Credit(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, 50, first.Balance)

	second, err := ledger.Credit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 50, second.Balance)

	// The same reference under another kind is a different payment object.
	third, err := ledger.Credit(ctx, credits.CreditRequest{UserID: userID, Amount: 5, Kind: models.KindRefund, ExternalRef: "cs_test_123"})
	require.NoError(t, err)
	assert.True(t, third.Applied)
	assert.Equal(t, 55, third.Balance)
}

func TestCredit_ResetPeriodUsage(t *testing.T) {
	ctx := context.Background()
	ledger, userID := newLedger(t, 10)

	_, err := ledger.Debit(ctx, credits.DebitRequest{UserID: userID, Amount: 4})
	require.NoError(t, err)

	_, err = ledger.Credit(ctx, credits.CreditRequest{
		UserID:           userID,
		Amount:           100,
		Kind:             models.KindSubscriptionRenewal,
		ExternalRef:      "in_1",
		ResetPeriodUsage: true,
	})
	require.NoError(t, err)

	user, err := ledger.Account(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 106, user.CreditsRemaining)
	assert.Equal(t, 0, user.CreditsUsedThisPeriod)
}

func TestCredit_RejectsUsageKind(t *testing.T) {
	ledger, userID := newLedger(t, 0)

	_, err := ledger.Credit(context.Background(), credits.CreditRequest{UserID: userID, Amount: 1, Kind: models.KindUsage})
	assert.Error(t, err)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	ledger, userID := newLedger(t, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Debit(ctx, credits.DebitRequest{UserID: userID, Amount: 6})
			assert.NoError(t, err)
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 4, balance)
}

func TestReplayMatchesBalance(t *testing.T) {
	ctx := context.Background()
	ledger, userID := newLedger(t, 5)

	_, err := ledger.Credit(ctx, credits.CreditRequest{UserID: userID, Amount: 50, Kind: models.KindPurchase, ExternalRef: "cs_1"})
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, credits.DebitRequest{UserID: userID, Amount: 8})
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, credits.CreditRequest{UserID: userID, Amount: 8, Kind: models.KindRefund, ExternalRef: "dispatch:p1"})
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, credits.DebitRequest{UserID: userID, Amount: 3})
	require.NoError(t, err)

	txs, err := ledger.History(ctx, userID, 0)
	require.NoError(t, err)

	replayed, err := credits.Replay(oldestFirst(txs))
	require.NoError(t, err)

	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, balance, replayed)
	assert.Equal(t, 52, replayed)
}

func TestReplayDetectsDrift(t *testing.T) {
	txs := []models.CreditTransaction{
		{ID: uuid.New(), Amount: 5, BalanceAfter: 5},
		{ID: uuid.New(), Amount: -2, BalanceAfter: 4},
	}
	_, err := credits.Replay(txs)
	assert.Error(t, err)

	_, err = credits.Replay([]models.CreditTransaction{{ID: uuid.New(), Amount: -1, BalanceAfter: -1}})
	assert.Error(t, err)
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	ledger, userID := newLedger(t, 5)

	for i := 1; i <= 3; i++ {
		_, err := ledger.Debit(ctx, credits.DebitRequest{UserID: userID, Amount: 1})
		require.NoError(t, err)
	}

	txs, err := ledger.History(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, 2, txs[0].BalanceAfter)
	assert.Equal(t, 3, txs[1].BalanceAfter)
}
