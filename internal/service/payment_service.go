package service

import (
	"context"
	"fmt"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/credit"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// NotificationOrderPaid is the only payment notification type that settles an
// order. Everything else is acknowledged and ignored.
const NotificationOrderPaid = "ORDER_PAID"

// OrderStore is the order persistence surface the payment service needs
type OrderStore interface {
	Create(ctx context.Context, userID, invoiceNumber string, credits int) (*models.CreditOrder, error)
	GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*models.CreditOrder, error)
	MarkPaid(ctx context.Context, orderID string) (bool, error)
}

// PaymentService settles credit orders from payment provider notifications
type PaymentService struct {
	orders OrderStore
	ledger *credit.Ledger
	logger *logging.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(orders OrderStore, ledger *credit.Ledger, logger *logging.Logger) *PaymentService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &PaymentService{orders: orders, ledger: ledger, logger: logger}
}

// WebhookEvent is an inbound payment provider notification
type WebhookEvent struct {
	NotificationType string `json:"notificationType"`
	Order            struct {
		InvoiceNumber string `json:"invoiceNumber"`
		Status        string `json:"status"`
	} `json:"order"`
	Transaction struct {
		ID string `json:"id"`
	} `json:"transaction"`
}

// SettlementResult reports what a webhook delivery did
type SettlementResult struct {
	Handled      bool   `json:"handled"`
	Applied      bool   `json:"applied"`
	OrderID      string `json:"orderId,omitempty"`
	CreditsAdded int    `json:"creditsAdded,omitempty"`
	Balance      int    `json:"balance,omitempty"`
}

// CreateOrder opens a pending credit purchase for later settlement
func (s *PaymentService) CreateOrder(ctx context.Context, userID, invoiceNumber string, credits int) (*models.CreditOrder, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidParameterError("userId", "is required")
	}
	if invoiceNumber == "" {
		return nil, apperrors.NewInvalidParameterError("invoiceNumber", "is required")
	}
	if credits <= 0 {
		return nil, apperrors.NewInvalidParameterError("credits", "must be positive")
	}
	return s.orders.Create(ctx, userID, invoiceNumber, credits)
}

// HandleWebhook processes one payment notification. Deliveries are at least
// once, so the whole path is idempotent: a notification for an order already
// marked paid, or a transaction id already in the ledger, is a successful
// no-op.
func (s *PaymentService) HandleWebhook(ctx context.Context, event *WebhookEvent) (*SettlementResult, error) {
	log := s.logger.WithFields(map[string]interface{}{
		"notificationType": event.NotificationType,
		"invoiceNumber":    event.Order.InvoiceNumber,
		"transactionId":    event.Transaction.ID,
	})

	if event.NotificationType != NotificationOrderPaid {
		log.Debug("Ignoring payment notification")
		return &SettlementResult{Handled: false}, nil
	}

	if event.Order.InvoiceNumber == "" {
		return nil, apperrors.NewInvalidParameterError("order.invoiceNumber", "is required")
	}
	if event.Transaction.ID == "" {
		return nil, apperrors.NewInvalidParameterError("transaction.id", "is required")
	}

	order, err := s.orders.GetByInvoiceNumber(ctx, event.Order.InvoiceNumber)
	if err != nil {
		return nil, err
	}

	// An order only becomes paid after its credit committed, so paid means
	// fully settled.
	if order.Status == types.OrderStatusPaid {
		log.WithField("orderId", order.ID).Info("Order already settled, ignoring duplicate notification")
		balance, err := s.ledger.Balance(ctx, order.UserID)
		if err != nil {
			return nil, err
		}
		return &SettlementResult{Handled: true, Applied: false, OrderID: order.ID, Balance: balance}, nil
	}

	// The credit goes first, keyed on the provider transaction id. A failure
	// between the two writes leaves the order pending, and the redelivery
	// re-runs both steps without doubling the credit.
	description := fmt.Sprintf("Purchase of %d credits (invoice %s)", order.Credits, order.InvoiceNumber)
	tx, applied, err := s.ledger.Credit(ctx, order.UserID, order.Credits, event.Transaction.ID, description)
	if err != nil {
		return nil, err
	}

	if _, err := s.orders.MarkPaid(ctx, order.ID); err != nil {
		return nil, err
	}

	balance := tx.BalanceAfter
	if !applied {
		// Duplicate transaction id: the returned entry is the original one,
		// so its balance is stale.
		balance, err = s.ledger.Balance(ctx, order.UserID)
		if err != nil {
			return nil, err
		}
	}

	result := &SettlementResult{
		Handled: true,
		Applied: applied,
		OrderID: order.ID,
		Balance: balance,
	}
	if applied {
		result.CreditsAdded = order.Credits
		log.WithFields(map[string]interface{}{
			"orderId":      order.ID,
			"creditsAdded": order.Credits,
			"balance":      tx.BalanceAfter,
		}).Info("Payment settled")
	}

	return result, nil
}
