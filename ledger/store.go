package ledger

import (
	"context"

	"donatenow/models"

	"github.com/shopspring/decimal"
)

// Store is durable keyed storage for causes, donations and stories.
//
// InTx runs fn inside one transaction. If fn returns an error, or ctx ends
// before commit, nothing fn wrote is persisted.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetCause(ctx context.Context, id uint) (*models.Cause, error)
	// ListDonations returns the cause's donations newest first.
	ListDonations(ctx context.Context, causeID uint) ([]models.Donation, error)
	// UserName returns the display name of a user, or "" when unknown.
	UserName(ctx context.Context, userID uint) (string, error)
}

// Tx is the set of primitives available inside a ledger transaction.
type Tx interface {
	// LockCause reads the cause and holds an exclusive per-cause lock until
	// the transaction ends. ErrCauseNotFound when absent.
	LockCause(id uint) (*models.Cause, error)
	// Cause re-reads the cause as seen by this transaction.
	Cause(id uint) (*models.Cause, error)
	InsertDonation(d *models.Donation) error
	// IncrementRaised adds amount to raised server-side, only while the cause
	// is open. ErrCauseClosed otherwise.
	IncrementRaised(causeID uint, amount decimal.Decimal) error
	// CloseCause flips status open -> closed. It reports false when the
	// cause was not open.
	CloseCause(causeID uint) (bool, error)
	// InsertStory fails with ErrStorageConflict when a closure story for the
	// same cause already exists.
	InsertStory(s *models.Story) error
	UserName(userID uint) (string, error)
}
