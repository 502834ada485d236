package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rank-tracker/internal/credit"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// CreditRepository persists credit accounts and the append-only transaction
// ledger. Every mutation and its ledger entry commit in one transaction:
// the balance is written concurrently by usage debits and payment credits,
// and a check-then-write outside a transaction would lose updates.
type CreditRepository struct {
	db *PostgresDB
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *PostgresDB) *CreditRepository {
	return &CreditRepository{db: db}
}

var _ credit.Store = (*CreditRepository)(nil)

// GetAccount returns the account for a user, creating a zero-balance account
// if none exists
func (r *CreditRepository) GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error) {
	query := `
		INSERT INTO credit_accounts (user_id, balance, total_purchased, total_used, updated_at)
		VALUES ($1, 0, 0, 0, NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, balance, total_purchased, total_used, updated_at
	`

	var account models.CreditAccount
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&account.UserID,
		&account.Balance,
		&account.TotalPurchased,
		&account.TotalUsed,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get credit account: %w", err)
	}

	return &account, nil
}

// ApplyDebit atomically decrements balance and increments total_used,
// appending a usage transaction. The floor check happens inside the UPDATE
// so a concurrent credit or debit cannot slip between check and write.
func (r *CreditRepository) ApplyDebit(ctx context.Context, userID string, amount int, description string) (*models.CreditTransaction, error) {
	if _, err := r.GetAccount(ctx, userID); err != nil {
		return nil, err
	}

	var tx *models.CreditTransaction
	err := pgx.BeginFunc(ctx, r.db.Pool(), func(dbTx pgx.Tx) error {
		var balanceAfter int
		err := dbTx.QueryRow(ctx, `
			UPDATE credit_accounts
			SET balance = balance - $2, total_used = total_used + $2, updated_at = NOW()
			WHERE user_id = $1 AND balance >= $2
			RETURNING balance
		`, userID, amount).Scan(&balanceAfter)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return credit.ErrInsufficientBalance
			}
			return fmt.Errorf("failed to debit account: %w", err)
		}

		tx = &models.CreditTransaction{
			ID:           uuid.New().String(),
			UserID:       userID,
			Type:         types.CreditTxUsage,
			Amount:       -amount,
			BalanceAfter: balanceAfter,
			Description:  description,
			CreatedAt:    time.Now(),
		}
		return r.insertTransaction(ctx, dbTx, tx)
	})
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// ApplyCredit atomically increments balance and total_purchased, appending a
// purchase transaction keyed on the upstream payment transaction id. A
// reference that was already applied is a no-op returning the prior entry.
func (r *CreditRepository) ApplyCredit(ctx context.Context, userID string, amount int, reference, description string) (*models.CreditTransaction, bool, error) {
	if _, err := r.GetAccount(ctx, userID); err != nil {
		return nil, false, err
	}

	var tx *models.CreditTransaction
	applied := false

	err := pgx.BeginFunc(ctx, r.db.Pool(), func(dbTx pgx.Tx) error {
		existing, err := r.findByReference(ctx, dbTx, reference)
		if err != nil {
			return err
		}
		if existing != nil {
			tx = existing
			return nil
		}

		var balanceAfter int
		err = dbTx.QueryRow(ctx, `
			UPDATE credit_accounts
			SET balance = balance + $2, total_purchased = total_purchased + $2, updated_at = NOW()
			WHERE user_id = $1
			RETURNING balance
		`, userID, amount).Scan(&balanceAfter)
		if err != nil {
			return fmt.Errorf("failed to credit account: %w", err)
		}

		tx = &models.CreditTransaction{
			ID:           uuid.New().String(),
			UserID:       userID,
			Type:         types.CreditTxPurchase,
			Amount:       amount,
			BalanceAfter: balanceAfter,
			Reference:    reference,
			Description:  description,
			CreatedAt:    time.Now(),
		}
		applied = true
		return r.insertTransaction(ctx, dbTx, tx)
	})
	if err != nil {
		// Unique index on reference backstops concurrent deliveries of the
		// same payment notification; the whole transaction rolled back, so
		// nothing was double-credited.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, findErr := r.getByReference(ctx, reference)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	return tx, applied, nil
}

// ApplyAdjustment atomically applies a signed delta, rejecting adjustments
// that would drive the balance negative
func (r *CreditRepository) ApplyAdjustment(ctx context.Context, userID string, delta int, reason string) (*models.CreditTransaction, error) {
	if _, err := r.GetAccount(ctx, userID); err != nil {
		return nil, err
	}

	var tx *models.CreditTransaction
	err := pgx.BeginFunc(ctx, r.db.Pool(), func(dbTx pgx.Tx) error {
		var balanceAfter int
		err := dbTx.QueryRow(ctx, `
			UPDATE credit_accounts
			SET balance = balance + $2, updated_at = NOW()
			WHERE user_id = $1 AND balance + $2 >= 0
			RETURNING balance
		`, userID, delta).Scan(&balanceAfter)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return credit.ErrInsufficientBalance
			}
			return fmt.Errorf("failed to adjust account: %w", err)
		}

		tx = &models.CreditTransaction{
			ID:           uuid.New().String(),
			UserID:       userID,
			Type:         types.CreditTxAdjustment,
			Amount:       delta,
			BalanceAfter: balanceAfter,
			Description:  reason,
			CreatedAt:    time.Now(),
		}
		return r.insertTransaction(ctx, dbTx, tx)
	})
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// ListTransactions returns the most recent ledger entries for a user
func (r *CreditRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, type, amount, balance_after, reference, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.CreditTransaction
	for rows.Next() {
		tx, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func (r *CreditRepository) insertTransaction(ctx context.Context, dbTx pgx.Tx, tx *models.CreditTransaction) error {
	var reference *string
	if tx.Reference != "" {
		reference = &tx.Reference
	}

	_, err := dbTx.Exec(ctx, `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tx.ID, tx.UserID, tx.Type, tx.Amount, tx.BalanceAfter, reference, tx.Description, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return nil
}

func (r *CreditRepository) findByReference(ctx context.Context, dbTx pgx.Tx, reference string) (*models.CreditTransaction, error) {
	row := dbTx.QueryRow(ctx, `
		SELECT id, user_id, type, amount, balance_after, reference, description, created_at
		FROM credit_transactions
		WHERE reference = $1
	`, reference)

	tx, err := scanCreditTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up transaction reference: %w", err)
	}
	return tx, nil
}

func (r *CreditRepository) getByReference(ctx context.Context, reference string) (*models.CreditTransaction, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT id, user_id, type, amount, balance_after, reference, description, created_at
		FROM credit_transactions
		WHERE reference = $1
	`, reference)

	tx, err := scanCreditTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}

func scanCreditTransaction(row rowScanner) (*models.CreditTransaction, error) {
	var tx models.CreditTransaction
	var reference, description *string

	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Type,
		&tx.Amount,
		&tx.BalanceAfter,
		&reference,
		&description,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reference != nil {
		tx.Reference = *reference
	}
	if description != nil {
		tx.Description = *description
	}

	return &tx, nil
}
