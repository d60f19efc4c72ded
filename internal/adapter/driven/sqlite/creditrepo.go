package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CreditStore = (*CreditRepo)(nil)

// CreditRepo is the SQLite implementation of the CreditStore port. Both
// mutations run as single transactions on the writer connection, so the
// balance check, the balance update, and the ledger append are atomic with
// respect to every other mutation in the process.
type CreditRepo struct {
	db           *DB
	initialGrant int64
}

// NewCreditRepo creates a CreditRepo. initialGrant is the number of credits
// granted to an account on first sight of the user.
func NewCreditRepo(db *DB, initialGrant int64) *CreditRepo {
	return &CreditRepo{db: db, initialGrant: initialGrant}
}

// GetOrCreateAccount returns the account for userID, creating it with the
// initial grant (recorded as an addition transaction) if it does not exist.
func (r *CreditRepo) GetOrCreateAccount(ctx context.Context, userID string) (model.CreditAccount, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.CreditAccount{}, fmt.Errorf("begin account tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `INSERT INTO credit_accounts (user_id, balance, total_earned)
		VALUES (?, ?, ?) ON CONFLICT (user_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, insert, userID, r.initialGrant, r.initialGrant)
	if err != nil {
		return model.CreditAccount{}, fmt.Errorf("create account %q: %w", userID, err)
	}

	created, err := res.RowsAffected()
	if err != nil {
		return model.CreditAccount{}, fmt.Errorf("rows affected: %w", err)
	}
	if created == 1 && r.initialGrant > 0 {
		if err := insertTransaction(ctx, tx, model.CreditTransaction{
			ID:          uuid.NewString(),
			UserID:      userID,
			Category:    model.TransactionAddition,
			Amount:      r.initialGrant,
			Description: "signup bonus",
		}); err != nil {
			return model.CreditAccount{}, err
		}
	}

	account, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT user_id, balance, total_earned, total_spent, created_at, updated_at
		 FROM credit_accounts WHERE user_id = ?`, userID))
	if err != nil {
		return model.CreditAccount{}, fmt.Errorf("load account %q: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.CreditAccount{}, fmt.Errorf("commit account tx: %w", err)
	}
	return account, nil
}

// ConsumeCredits atomically debits amount from the user's balance and
// appends a consumption transaction. An insufficient balance (or a missing
// account) returns Allowed=false without error and without any mutation.
func (r *CreditRepo) ConsumeCredits(ctx context.Context, userID string, amount int64, feature, description string) (driven.ConsumeResult, error) {
	if amount <= 0 {
		return driven.ConsumeResult{}, fmt.Errorf("consume amount must be positive, got %d", amount)
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return driven.ConsumeResult{}, fmt.Errorf("begin consume tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The balance guard lives in the UPDATE itself: zero rows affected
	// means the check failed, and nothing was written.
	const debit = `UPDATE credit_accounts
		SET balance = balance - ?, total_spent = total_spent + ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND balance >= ?`
	res, err := tx.ExecContext(ctx, debit, amount, amount, userID, amount)
	if err != nil {
		return driven.ConsumeResult{}, fmt.Errorf("debit %d from %q: %w", amount, userID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return driven.ConsumeResult{}, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		var balance int64
		err := tx.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE user_id = ?`, userID).Scan(&balance)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return driven.ConsumeResult{}, fmt.Errorf("read balance for %q: %w", userID, err)
		}
		return driven.ConsumeResult{Allowed: false, NewBalance: balance}, nil
	}

	txn := model.CreditTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Category:    model.TransactionConsumption,
		Amount:      amount,
		Description: description,
		Metadata:    map[string]string{"feature": feature},
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return driven.ConsumeResult{}, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return driven.ConsumeResult{}, fmt.Errorf("read balance for %q: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return driven.ConsumeResult{}, fmt.Errorf("commit consume tx: %w", err)
	}

	return driven.ConsumeResult{Allowed: true, NewBalance: balance, TransactionID: txn.ID}, nil
}

// AddCredits atomically credits amount to the user's balance and appends an
// addition transaction. A non-empty externalRef already present in the
// ledger returns ErrDuplicateReference with no mutation.
func (r *CreditRepo) AddCredits(ctx context.Context, userID string, amount int64, description, externalRef string) (driven.AddResult, error) {
	if amount <= 0 {
		return driven.AddResult{}, fmt.Errorf("add amount must be positive, got %d", amount)
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return driven.AddResult{}, fmt.Errorf("begin add tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if externalRef != "" {
		var seen bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM credit_transactions WHERE external_ref = ?)`, externalRef).Scan(&seen)
		if err != nil {
			return driven.AddResult{}, fmt.Errorf("check external ref %q: %w", externalRef, err)
		}
		if seen {
			return driven.AddResult{}, fmt.Errorf("external ref %q: %w", externalRef, driven.ErrDuplicateReference)
		}
	}

	// A credit may arrive (payment webhook) before the user's first metered
	// request; make sure the account row exists with a zero balance.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_accounts (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return driven.AddResult{}, fmt.Errorf("ensure account %q: %w", userID, err)
	}

	const credit = `UPDATE credit_accounts
		SET balance = balance + ?, total_earned = total_earned + ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, credit, amount, amount, userID); err != nil {
		return driven.AddResult{}, fmt.Errorf("credit %d to %q: %w", amount, userID, err)
	}

	txn := model.CreditTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Category:    model.TransactionAddition,
		Amount:      amount,
		Description: description,
		ExternalRef: externalRef,
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return driven.AddResult{}, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return driven.AddResult{}, fmt.Errorf("read balance for %q: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return driven.AddResult{}, fmt.Errorf("commit add tx: %w", err)
	}

	return driven.AddResult{NewBalance: balance, TransactionID: txn.ID}, nil
}

// ListTransactions returns the user's ledger entries, newest first.
func (r *CreditRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `SELECT id, user_id, category, amount, description, metadata, external_ref, created_at
		FROM credit_transactions WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := r.db.Reader.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %q: %w", userID, err)
	}
	defer rows.Close()

	txns := []model.CreditTransaction{}
	for rows.Next() {
		var (
			txn         model.CreditTransaction
			metadata    string
			externalRef sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Category, &txn.Amount,
			&txn.Description, &metadata, &externalRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &txn.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata for transaction %q: %w", txn.ID, err)
			}
		}
		txn.ExternalRef = externalRef.String

		txn.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for transaction %q: %w", txn.ID, err)
		}

		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return txns, nil
}

// insertTransaction appends one ledger entry inside the caller's transaction.
func insertTransaction(ctx context.Context, tx *sql.Tx, txn model.CreditTransaction) error {
	metadata := "{}"
	if len(txn.Metadata) > 0 {
		data, err := json.Marshal(txn.Metadata)
		if err != nil {
			return fmt.Errorf("marshal transaction metadata: %w", err)
		}
		metadata = string(data)
	}

	const insert = `INSERT INTO credit_transactions (id, user_id, category, amount, description, metadata, external_ref)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''))`
	if _, err := tx.ExecContext(ctx, insert,
		txn.ID, txn.UserID, txn.Category, txn.Amount, txn.Description, metadata, txn.ExternalRef); err != nil {
		return fmt.Errorf("insert %s transaction for %q: %w", txn.Category, txn.UserID, err)
	}
	return nil
}

// scanAccount reads one credit_accounts row.
func scanAccount(row *sql.Row) (model.CreditAccount, error) {
	var (
		account   model.CreditAccount
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&account.UserID, &account.Balance, &account.TotalEarned,
		&account.TotalSpent, &createdAt, &updatedAt); err != nil {
		return model.CreditAccount{}, err
	}

	var err error
	account.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return model.CreditAccount{}, fmt.Errorf("parse created_at: %w", err)
	}
	account.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return model.CreditAccount{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return account, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
