package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
)

func TestCreditRepo_GetOrCreateAccount_GrantsInitialCredits(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 50)
	ctx := context.Background()

	account, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", account.UserID)
	assert.Equal(t, int64(50), account.Balance)
	assert.Equal(t, int64(50), account.TotalEarned)
	assert.Equal(t, int64(0), account.TotalSpent)

	txns, err := repo.ListTransactions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionAddition, txns[0].Category)
	assert.Equal(t, int64(50), txns[0].Amount)
	assert.Equal(t, "signup bonus", txns[0].Description)
}

func TestCreditRepo_GetOrCreateAccount_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 50)
	ctx := context.Background()

	_, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)

	account, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Balance)

	// The signup bonus is recorded exactly once.
	txns, err := repo.ListTransactions(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestCreditRepo_ConsumeCredits_Success(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 50)
	ctx := context.Background()

	_, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)

	res, err := repo.ConsumeCredits(ctx, "user-1", 3, "analyze", "code analysis")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(47), res.NewBalance)
	assert.NotEmpty(t, res.TransactionID)

	txns, err := repo.ListTransactions(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionConsumption, txns[0].Category)
	assert.Equal(t, int64(3), txns[0].Amount)
	assert.Equal(t, "analyze", txns[0].Metadata["feature"])
}

func TestCreditRepo_ConsumeCredits_Insufficient(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 1)
	ctx := context.Background()

	_, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)

	res, err := repo.ConsumeCredits(ctx, "user-1", 1, "analyze", "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.NewBalance)

	// Second debit is refused without mutating the balance further.
	res, err = repo.ConsumeCredits(ctx, "user-1", 1, "analyze", "")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.NewBalance)
	assert.Empty(t, res.TransactionID)

	account, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)
	assert.Equal(t, int64(1), account.TotalSpent)
}

func TestCreditRepo_ConsumeCredits_UnknownUser(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 50)

	res, err := repo.ConsumeCredits(context.Background(), "nobody", 1, "analyze", "")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCreditRepo_ConsumeCredits_RejectsNonPositiveAmount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 50)

	_, err := repo.ConsumeCredits(context.Background(), "user-1", 0, "analyze", "")
	require.Error(t, err)
}

func TestCreditRepo_AddCredits(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 50)
	ctx := context.Background()

	_, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)

	res, err := repo.AddCredits(ctx, "user-1", 100, "purchase: starter pack", "pay_123")
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.NewBalance)
	assert.NotEmpty(t, res.TransactionID)

	txns, err := repo.ListTransactions(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionAddition, txns[0].Category)
	assert.Equal(t, "pay_123", txns[0].ExternalRef)
}

func TestCreditRepo_AddCredits_DuplicateReference(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 0)
	ctx := context.Background()

	_, err := repo.AddCredits(ctx, "user-1", 100, "purchase", "pay_123")
	require.NoError(t, err)

	_, err = repo.AddCredits(ctx, "user-1", 100, "purchase replay", "pay_123")
	require.ErrorIs(t, err, driven.ErrDuplicateReference)

	account, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance)
}

func TestCreditRepo_AddCredits_UnseenUserGetsBareAccount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 50)
	ctx := context.Background()

	// A payment webhook may land before the user's first metered request;
	// the account is created without the signup bonus.
	res, err := repo.AddCredits(ctx, "user-1", 25, "purchase", "")
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.NewBalance)
}

func TestCreditRepo_ListTransactions_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 10)
	ctx := context.Background()

	_, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := repo.ConsumeCredits(ctx, "user-1", 1, "analyze", "")
		require.NoError(t, err)
	}

	txns, err := repo.ListTransactions(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, model.TransactionConsumption, txns[0].Category)
	assert.Equal(t, model.TransactionConsumption, txns[1].Category)
}

func TestCreditRepo_ConsumeCredits_ConcurrentDebitsAreAtomic(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCreditRepo(db, 500)
	ctx := context.Background()

	_, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		allowed      int
		insufficient int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repo.ConsumeCredits(ctx, "user-1", 10, "analyze", "")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Allowed {
				allowed++
			} else {
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	assert.Equal(t, 50, insufficient)

	account, err := repo.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)
	assert.Equal(t, int64(500), account.TotalSpent)
}
