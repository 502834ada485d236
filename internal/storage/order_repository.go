package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

const orderColumns = "id, user_id, invoice_number, credits, status, created_at, paid_at"

// OrderRepository persists credit purchase orders. Orders are created pending
// and settled by the payment webhook.
type OrderRepository struct {
	db *PostgresDB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *PostgresDB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a pending order
func (r *OrderRepository) Create(ctx context.Context, userID, invoiceNumber string, credits int) (*models.CreditOrder, error) {
	query := fmt.Sprintf(`
		INSERT INTO credit_orders (id, user_id, invoice_number, credits, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())
		RETURNING %s
	`, orderColumns)

	row := r.db.Pool().QueryRow(ctx, query, uuid.New().String(), userID, invoiceNumber, credits)
	order, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create credit order: %w", err)
	}

	return order, nil
}

// GetByInvoiceNumber returns the order for an invoice
func (r *OrderRepository) GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*models.CreditOrder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM credit_orders WHERE invoice_number = $1
	`, orderColumns)

	row := r.db.Pool().QueryRow(ctx, query, invoiceNumber)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("order", invoiceNumber)
		}
		return nil, fmt.Errorf("failed to get credit order: %w", err)
	}

	return order, nil
}

// MarkPaid transitions a pending order to paid. Returns false when the order
// was already paid, so duplicate payment notifications settle nothing twice.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE credit_orders
		SET status = 'paid', paid_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func scanOrder(row rowScanner) (*models.CreditOrder, error) {
	var order models.CreditOrder
	var status string

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.InvoiceNumber,
		&order.Credits,
		&status,
		&order.CreatedAt,
		&order.PaidAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = types.OrderStatus(status)
	return &order, nil
}
