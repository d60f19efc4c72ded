package driven

import (
	"context"
	"errors"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
)

// ErrDuplicateReference is returned by AddCredits when the external payment
// reference was already recorded. The credit must not be applied twice.
var ErrDuplicateReference = errors.New("external reference already recorded")

// ConsumeResult is the outcome of an atomic debit. Allowed=false is an
// ordinary control-flow outcome (insufficient balance), not an error; the
// error return of ConsumeCredits is reserved for datastore failures.
type ConsumeResult struct {
	Allowed       bool
	NewBalance    int64
	TransactionID string
}

// AddResult is the outcome of an atomic credit.
type AddResult struct {
	NewBalance    int64
	TransactionID string
}

// CreditStore defines the driven port for the credit ledger. Both mutations
// are single atomic round-trips: the balance check/update and the ledger
// append happen in one datastore transaction, never as a read-then-write
// sequence from this layer.
type CreditStore interface {
	// GetOrCreateAccount returns the user's account, creating it with the
	// configured initial grant (recorded as an addition transaction) on
	// first sight of the user.
	GetOrCreateAccount(ctx context.Context, userID string) (model.CreditAccount, error)

	// ConsumeCredits atomically checks balance >= amount, decrements, and
	// appends a consumption transaction. Returns Allowed=false without
	// error when the balance is insufficient.
	ConsumeCredits(ctx context.Context, userID string, amount int64, feature, description string) (ConsumeResult, error)

	// AddCredits atomically increments the balance and appends an addition
	// transaction. A non-empty externalRef makes the operation idempotent:
	// a reference seen before returns ErrDuplicateReference and applies
	// nothing.
	AddCredits(ctx context.Context, userID string, amount int64, description, externalRef string) (AddResult, error)

	// ListTransactions returns the user's ledger entries, newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)
}
