// Package credit implements the prepaid credit ledger that meters ranking
// checks. Balance mutations are check-then-write atomic in the store because
// usage debits (processor) and purchase credits (payment webhook) run as
// independent invocations.
package credit

import (
	"context"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/models"
)

// Store is the persistence contract for credit accounts and the append-only
// transaction log. Implementations must apply each mutation and its log entry
// in a single atomic operation.
type Store interface {
	// GetAccount returns the account for a user, creating a zero-balance
	// account if none exists.
	GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error)

	// ApplyDebit atomically decrements balance and increments total_used,
	// appending a usage transaction. Returns ErrInsufficientBalance when the
	// balance would go negative.
	ApplyDebit(ctx context.Context, userID string, amount int, description string) (*models.CreditTransaction, error)

	// ApplyCredit atomically increments balance and total_purchased,
	// appending a purchase transaction keyed on reference. Returns
	// applied=false without mutating anything when a transaction for the
	// reference already exists.
	ApplyCredit(ctx context.Context, userID string, amount int, reference, description string) (tx *models.CreditTransaction, applied bool, err error)

	// ApplyAdjustment atomically applies a signed delta, appending an
	// adjustment transaction. Returns ErrInsufficientBalance when the
	// resulting balance would be negative.
	ApplyAdjustment(ctx context.Context, userID string, delta int, reason string) (*models.CreditTransaction, error)

	// ListTransactions returns the newest ledger entries for a user, newest
	// first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error)
}

// ErrInsufficientBalance is the sentinel stores return when a mutation would
// drive the balance negative. The ledger translates it into the categorized
// taxonomy with the caller's amounts attached.
var ErrInsufficientBalance = errInsufficient{}

type errInsufficient struct{}

func (errInsufficient) Error() string { return "insufficient credit balance" }

// Ledger exposes the metering operations of the credit subsystem
type Ledger struct {
	store      Store
	adminToken string
	logger     *logging.Logger
}

// NewLedger creates a credit ledger over a store. adminToken guards manual
// adjustments; an empty token disables them.
func NewLedger(store Store, adminToken string, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Ledger{store: store, adminToken: adminToken, logger: logger}
}

// CreditsNeeded returns the cost of checking keywordCount keywords at the
// given result depth: one credit per upstream page per keyword.
func CreditsNeeded(topResults, keywordCount int) int {
	if topResults <= 0 || keywordCount <= 0 {
		return 0
	}
	return ((topResults + 9) / 10) * keywordCount
}

// Balance returns the current balance for a user
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	account, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Account returns the full metering state for a user
func (l *Ledger) Account(ctx context.Context, userID string) (*models.CreditAccount, error) {
	return l.store.GetAccount(ctx, userID)
}

// Transactions returns the newest ledger entries for a user
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error) {
	return l.store.ListTransactions(ctx, userID, limit)
}

// Debit consumes credits for ranking checks. Fails with INSUFFICIENT_CREDITS
// when the balance cannot cover the amount; no partial debit occurs.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int, description string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, apperrors.NewInvalidParameterError("amount", "must be positive")
	}

	tx, err := l.store.ApplyDebit(ctx, userID, amount, description)
	if err != nil {
		if err == ErrInsufficientBalance {
			account, accErr := l.store.GetAccount(ctx, userID)
			available := 0
			if accErr == nil {
				available = account.Balance
			}
			return nil, apperrors.NewInsufficientCreditsError(amount, available)
		}
		return nil, err
	}

	l.logger.WithFields(map[string]interface{}{
		"userId":       userID,
		"amount":       amount,
		"balanceAfter": tx.BalanceAfter,
	}).Info("Credits debited")

	return tx, nil
}

// Credit applies a purchase from a settled payment. Idempotent on the
// upstream transaction id: applying the same reference twice is a successful
// no-op, because payment notifications are delivered at least once.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int, reference, description string) (*models.CreditTransaction, bool, error) {
	if amount <= 0 {
		return nil, false, apperrors.NewInvalidParameterError("amount", "must be positive")
	}
	if reference == "" {
		return nil, false, apperrors.NewInvalidParameterError("reference", "payment transaction id is required")
	}

	tx, applied, err := l.store.ApplyCredit(ctx, userID, amount, reference, description)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		l.logger.WithFields(map[string]interface{}{
			"userId":    userID,
			"reference": reference,
		}).Info("Duplicate payment transaction ignored")
		return tx, false, nil
	}

	l.logger.WithFields(map[string]interface{}{
		"userId":       userID,
		"amount":       amount,
		"reference":    reference,
		"balanceAfter": tx.BalanceAfter,
	}).Info("Credits applied from payment")

	return tx, true, nil
}

// Adjust applies a manual administrative correction. Requires the configured
// confirmation token and rejects adjustments that would drive the balance
// negative.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta int, reason, confirmationToken string) (*models.CreditTransaction, error) {
	if l.adminToken == "" || confirmationToken != l.adminToken {
		return nil, apperrors.NewInvalidConfirmationError()
	}
	if delta == 0 {
		return nil, apperrors.NewInvalidParameterError("delta", "must be non-zero")
	}
	if reason == "" {
		return nil, apperrors.NewInvalidParameterError("reason", "is required")
	}

	before, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	tx, err := l.store.ApplyAdjustment(ctx, userID, delta, reason)
	if err != nil {
		if err == ErrInsufficientBalance {
			return nil, apperrors.NewInsufficientCreditsError(-delta, before.Balance)
		}
		return nil, err
	}

	l.logger.WithFields(map[string]interface{}{
		"userId":        userID,
		"delta":         delta,
		"reason":        reason,
		"balanceBefore": before.Balance,
		"balanceAfter":  tx.BalanceAfter,
	}).Warn("Manual credit adjustment applied")

	return tx, nil
}
