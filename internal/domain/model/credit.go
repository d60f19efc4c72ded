package model

import "time"

// TransactionCategory distinguishes ledger entries that add credits from
// entries that consume them.
type TransactionCategory string

const (
	TransactionAddition    TransactionCategory = "addition"
	TransactionConsumption TransactionCategory = "consumption"
)

// CreditAccount is a user's prepaid balance. The datastore enforces
// balance == total_earned - total_spent on every mutation; this layer
// never computes the balance itself.
type CreditAccount struct {
	UserID      string
	Balance     int64
	TotalEarned int64
	TotalSpent  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreditTransaction is one append-only ledger entry. Entries are never
// mutated or deleted. ExternalRef carries the payment-gateway reference
// for purchases and is empty for everything else.
type CreditTransaction struct {
	ID          string
	UserID      string
	Category    TransactionCategory
	Amount      int64
	Description string
	Metadata    map[string]string
	ExternalRef string
	CreatedAt   time.Time
}
