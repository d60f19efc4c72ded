package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ranjithdurai451/spark-code/internal/application"
	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
	"github.com/Ranjithdurai451/spark-code/internal/keypool"
)

// mockCreditStore is an in-test CreditStore with func-field behavior.
type mockCreditStore struct {
	consume func(ctx context.Context, userID string, amount int64, feature, description string) (driven.ConsumeResult, error)
	debits  []int64
}

func (m *mockCreditStore) GetOrCreateAccount(_ context.Context, userID string) (model.CreditAccount, error) {
	return model.CreditAccount{UserID: userID, Balance: 50}, nil
}

func (m *mockCreditStore) ConsumeCredits(ctx context.Context, userID string, amount int64, feature, description string) (driven.ConsumeResult, error) {
	m.debits = append(m.debits, amount)
	if m.consume != nil {
		return m.consume(ctx, userID, amount, feature, description)
	}
	return driven.ConsumeResult{Allowed: true, NewBalance: 50 - amount, TransactionID: "txn-1"}, nil
}

func (m *mockCreditStore) AddCredits(context.Context, string, int64, string, string) (driven.AddResult, error) {
	return driven.AddResult{}, nil
}

func (m *mockCreditStore) ListTransactions(context.Context, string, int) ([]model.CreditTransaction, error) {
	return nil, nil
}

func newManagedGate(t *testing.T, credits driven.CreditStore, keys ...string) *application.AccessGate {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := keypool.New()
	require.NoError(t, pool.Register(model.ServiceGemini, keys))
	invoker := application.NewInvoker(pool, 3, logger)
	creds := application.NewCredentialService(newMockCache(), newTestCipher(t), logger)
	return application.NewAccessGate(credits, creds, invoker, model.KeyModeManaged, logger)
}

func gateErr(t *testing.T, err error) *application.GateError {
	t.Helper()
	var ge *application.GateError
	require.ErrorAs(t, err, &ge)
	return ge
}

func TestGate_Fulfilled(t *testing.T) {
	credits := &mockCreditStore{}
	gate := newManagedGate(t, credits, "k1")

	var usedKey string
	result, err := gate.Run(context.Background(), "user-1", model.FeatureAnalyze, nil,
		func(_ context.Context, key string) error {
			usedKey = key
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "k1", usedKey)
	assert.Equal(t, int64(49), result.Balance)
	assert.Equal(t, "txn-1", result.TransactionID)
	assert.Equal(t, []int64{1}, credits.debits)
}

func TestGate_GenerateCostsTwo(t *testing.T) {
	credits := &mockCreditStore{}
	gate := newManagedGate(t, credits, "k1")

	_, err := gate.Run(context.Background(), "user-1", model.FeatureGenerate, nil,
		func(context.Context, string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, credits.debits)
}

func TestGate_Unauthenticated(t *testing.T) {
	gate := newManagedGate(t, &mockCreditStore{}, "k1")

	_, err := gate.Run(context.Background(), "", model.FeatureAnalyze, nil,
		func(context.Context, string) error {
			t.Fatal("operation must not run unauthenticated")
			return nil
		})
	ge := gateErr(t, err)
	assert.Equal(t, application.CodeUnauthenticated, ge.Code)
	assert.Equal(t, http.StatusUnauthorized, ge.Status)
}

func TestGate_UnknownFeature(t *testing.T) {
	gate := newManagedGate(t, &mockCreditStore{}, "k1")

	_, err := gate.Run(context.Background(), "user-1", model.Feature("transmogrify"), nil,
		func(context.Context, string) error { return nil })
	ge := gateErr(t, err)
	assert.Equal(t, application.CodeUnknownFeature, ge.Code)
}

func TestGate_InsufficientCredits(t *testing.T) {
	credits := &mockCreditStore{
		consume: func(context.Context, string, int64, string, string) (driven.ConsumeResult, error) {
			return driven.ConsumeResult{Allowed: false}, nil
		},
	}
	gate := newManagedGate(t, credits, "k1")

	opRan := false
	_, err := gate.Run(context.Background(), "user-1", model.FeatureAnalyze, nil,
		func(context.Context, string) error {
			opRan = true
			return nil
		})
	ge := gateErr(t, err)
	assert.Equal(t, application.CodeInsufficientCredits, ge.Code)
	assert.Equal(t, http.StatusPaymentRequired, ge.Status)
	assert.False(t, ge.Retryable)
	assert.False(t, opRan, "no upstream call without a successful debit")
}

func TestGate_LedgerUnavailable(t *testing.T) {
	credits := &mockCreditStore{
		consume: func(context.Context, string, int64, string, string) (driven.ConsumeResult, error) {
			return driven.ConsumeResult{}, errors.New("database is locked")
		},
	}
	gate := newManagedGate(t, credits, "k1")

	_, err := gate.Run(context.Background(), "user-1", model.FeatureAnalyze, nil,
		func(context.Context, string) error { return nil })
	ge := gateErr(t, err)
	assert.Equal(t, application.CodeLedgerUnavailable, ge.Code)
	assert.Equal(t, http.StatusInternalServerError, ge.Status)
	assert.True(t, ge.Retryable)
}

func TestGate_QuotaExhaustionAfterRetries(t *testing.T) {
	gate := newManagedGate(t, &mockCreditStore{}, "k1", "k2")

	attempts := 0
	_, err := gate.Run(context.Background(), "user-1", model.FeatureAnalyze, nil,
		func(context.Context, string) error {
			attempts++
			return errors.New("status 429: quota exceeded")
		})
	ge := gateErr(t, err)
	assert.Equal(t, application.CodeQuotaExhausted, ge.Code)
	assert.Equal(t, http.StatusBadGateway, ge.Status)
	assert.True(t, ge.Retryable)
	assert.Equal(t, 3, attempts)
}

func TestGate_UpstreamFailureIsNotRefunded(t *testing.T) {
	credits := &mockCreditStore{}
	gate := newManagedGate(t, credits, "k1")

	result, err := gate.Run(context.Background(), "user-1", model.FeatureAnalyze, nil,
		func(context.Context, string) error {
			return errors.New("status 500: internal error")
		})
	ge := gateErr(t, err)
	assert.Equal(t, application.CodeUpstreamUnavailable, ge.Code)

	// Charge-on-attempt: the debit stands and its transaction id is still
	// reported alongside the failure.
	assert.Equal(t, []int64{1}, credits.debits)
	assert.Equal(t, "txn-1", result.TransactionID)
}

func TestGate_LocalModeUsesUserKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cipher := newTestCipher(t)
	creds := application.NewCredentialService(newMockCache(), cipher, logger)
	invoker := application.NewInvoker(keypool.New(), 3, logger)
	gate := application.NewAccessGate(&mockCreditStore{}, creds, invoker, model.KeyModeLocal, logger)

	bundle := encryptBundle(t, cipher, "user-1", "users-own-key", "")

	var usedKey string
	_, err := gate.Run(context.Background(), "user-1", model.FeatureAnalyze, bundle,
		func(_ context.Context, key string) error {
			usedKey = key
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "users-own-key", usedKey)
}

func TestGate_LocalModeMissingKeys(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	creds := application.NewCredentialService(newMockCache(), newTestCipher(t), logger)
	invoker := application.NewInvoker(keypool.New(), 3, logger)
	gate := application.NewAccessGate(&mockCreditStore{}, creds, invoker, model.KeyModeLocal, logger)

	_, err := gate.Run(context.Background(), "user-1", model.FeatureAnalyze, nil,
		func(context.Context, string) error { return nil })
	ge := gateErr(t, err)
	assert.Equal(t, application.CodeCredentialsInvalid, ge.Code)
	assert.Equal(t, http.StatusUnauthorized, ge.Status)
	assert.Equal(t, "keys expired or invalid", ge.Message)
}

func TestGate_LocalModeForeignBundle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cipher := newTestCipher(t)
	creds := application.NewCredentialService(newMockCache(), cipher, logger)
	invoker := application.NewInvoker(keypool.New(), 3, logger)
	gate := application.NewAccessGate(&mockCreditStore{}, creds, invoker, model.KeyModeLocal, logger)

	bundle := encryptBundle(t, cipher, "someone-else", "stolen-key", "")

	_, err := gate.Run(context.Background(), "user-1", model.FeatureAnalyze, bundle,
		func(context.Context, string) error {
			t.Fatal("operation must not run with a foreign bundle")
			return nil
		})
	ge := gateErr(t, err)
	assert.Equal(t, application.CodeCredentialsInvalid, ge.Code)
}

func TestGate_ExecuteRoutesToJudge0Pool(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := keypool.New()
	require.NoError(t, pool.Register(model.ServiceJudge0, []string{"j0-key"}))
	invoker := application.NewInvoker(pool, 3, logger)
	creds := application.NewCredentialService(newMockCache(), newTestCipher(t), logger)
	gate := application.NewAccessGate(&mockCreditStore{}, creds, invoker, model.KeyModeManaged, logger)

	var usedKey string
	_, err := gate.Run(context.Background(), "user-1", model.FeatureExecute, nil,
		func(_ context.Context, key string) error {
			usedKey = key
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "j0-key", usedKey)
}
