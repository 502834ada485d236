package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/credit"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// fakeCreditStore is a minimal in-memory credit.Store for settlement tests
type fakeCreditStore struct {
	mu      sync.Mutex
	balance map[string]int
	byRef   map[string]*models.CreditTransaction
	nextID  int

	// creditErrs fails the next N ApplyCredit calls
	creditErrs int
}

func newFakeCreditStore() *fakeCreditStore {
	return &fakeCreditStore{
		balance: make(map[string]int),
		byRef:   make(map[string]*models.CreditTransaction),
	}
}

func (f *fakeCreditStore) GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.CreditAccount{UserID: userID, Balance: f.balance[userID], UpdatedAt: time.Now()}, nil
}

func (f *fakeCreditStore) ApplyDebit(ctx context.Context, userID string, amount int, description string) (*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance[userID] < amount {
		return nil, credit.ErrInsufficientBalance
	}
	f.balance[userID] -= amount
	f.nextID++
	return &models.CreditTransaction{
		ID:           fmt.Sprintf("tx-%d", f.nextID),
		UserID:       userID,
		Type:         types.CreditTxUsage,
		Amount:       -amount,
		BalanceAfter: f.balance[userID],
		CreatedAt:    time.Now(),
	}, nil
}

func (f *fakeCreditStore) ApplyCredit(ctx context.Context, userID string, amount int, reference, description string) (*models.CreditTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErrs > 0 {
		f.creditErrs--
		return nil, false, errors.New("connection reset by peer")
	}
	if existing, ok := f.byRef[reference]; ok {
		return existing, false, nil
	}
	f.balance[userID] += amount
	f.nextID++
	tx := &models.CreditTransaction{
		ID:           fmt.Sprintf("tx-%d", f.nextID),
		UserID:       userID,
		Type:         types.CreditTxPurchase,
		Amount:       amount,
		BalanceAfter: f.balance[userID],
		Reference:    reference,
		CreatedAt:    time.Now(),
	}
	f.byRef[reference] = tx
	return tx, true, nil
}

func (f *fakeCreditStore) ApplyAdjustment(ctx context.Context, userID string, delta int, reason string) (*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance[userID]+delta < 0 {
		return nil, credit.ErrInsufficientBalance
	}
	f.balance[userID] += delta
	f.nextID++
	return &models.CreditTransaction{
		ID:           fmt.Sprintf("tx-%d", f.nextID),
		UserID:       userID,
		Type:         types.CreditTxAdjustment,
		Amount:       delta,
		BalanceAfter: f.balance[userID],
		CreatedAt:    time.Now(),
	}, nil
}

func (f *fakeCreditStore) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error) {
	return nil, nil
}

// fakeOrderStore is an in-memory OrderStore
type fakeOrderStore struct {
	mu        sync.Mutex
	byInvoice map[string]*models.CreditOrder
	nextID    int

	// markErrs fails the next N MarkPaid calls
	markErrs int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{byInvoice: make(map[string]*models.CreditOrder)}
}

func (f *fakeOrderStore) Create(ctx context.Context, userID, invoiceNumber string, credits int) (*models.CreditOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order := &models.CreditOrder{
		ID:            fmt.Sprintf("order-%d", f.nextID),
		UserID:        userID,
		InvoiceNumber: invoiceNumber,
		Credits:       credits,
		Status:        types.OrderStatusPending,
		CreatedAt:     time.Now(),
	}
	f.byInvoice[invoiceNumber] = order
	return order, nil
}

func (f *fakeOrderStore) GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*models.CreditOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.byInvoice[invoiceNumber]
	if !ok {
		return nil, apperrors.NewNotFoundError("order", invoiceNumber)
	}
	return order, nil
}

func (f *fakeOrderStore) MarkPaid(ctx context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErrs > 0 {
		f.markErrs--
		return false, errors.New("connection reset by peer")
	}
	for _, order := range f.byInvoice {
		if order.ID == orderID {
			if order.Status == types.OrderStatusPaid {
				return false, nil
			}
			order.Status = types.OrderStatusPaid
			now := time.Now()
			order.PaidAt = &now
			return true, nil
		}
	}
	return false, nil
}

func paidEvent(invoice, txID string) *WebhookEvent {
	event := &WebhookEvent{NotificationType: NotificationOrderPaid}
	event.Order.InvoiceNumber = invoice
	event.Order.Status = "PAID"
	event.Transaction.ID = txID
	return event
}

func newPaymentFixture(t *testing.T) (*PaymentService, *fakeCreditStore) {
	t.Helper()
	store := newFakeCreditStore()
	ledger := credit.NewLedger(store, "", nil)
	return NewPaymentService(newFakeOrderStore(), ledger, nil), store
}

func TestHandleWebhookSettlesOrder(t *testing.T) {
	svc, store := newPaymentFixture(t)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, "user-1", "INV-100", 50)
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	result, err := svc.HandleWebhook(ctx, paidEvent("INV-100", "ptx-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Handled || !result.Applied {
		t.Errorf("expected handled and applied, got %+v", result)
	}
	if result.CreditsAdded != 50 || result.Balance != 50 {
		t.Errorf("expected 50 credits added and balance 50, got %+v", result)
	}
	if store.balance["user-1"] != 50 {
		t.Errorf("expected stored balance 50, got %d", store.balance["user-1"])
	}
}

// TestHandleWebhookDuplicateDelivery verifies that redelivering the same
// notification settles nothing twice and still succeeds.
func TestHandleWebhookDuplicateDelivery(t *testing.T) {
	svc, store := newPaymentFixture(t)
	ctx := context.Background()

	svc.CreateOrder(ctx, "user-1", "INV-100", 50)

	if _, err := svc.HandleWebhook(ctx, paidEvent("INV-100", "ptx-1")); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	result, err := svc.HandleWebhook(ctx, paidEvent("INV-100", "ptx-1"))
	if err != nil {
		t.Fatalf("duplicate delivery should succeed: %v", err)
	}
	if result.Applied {
		t.Error("duplicate delivery should not apply")
	}
	if store.balance["user-1"] != 50 {
		t.Errorf("expected balance 50 after duplicate, got %d", store.balance["user-1"])
	}
}

// TestHandleWebhookCreditFailureThenRedelivery verifies that a transient
// ledger failure leaves the order pending, so the provider's redelivery still
// settles it in full.
func TestHandleWebhookCreditFailureThenRedelivery(t *testing.T) {
	store := newFakeCreditStore()
	store.creditErrs = 1
	orders := newFakeOrderStore()
	svc := NewPaymentService(orders, credit.NewLedger(store, "", nil), nil)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "user-1", "INV-100", 100); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.HandleWebhook(ctx, paidEvent("INV-100", "ptx-1")); err == nil {
		t.Fatal("first delivery should surface the ledger failure")
	}

	order, err := orders.GetByInvoiceNumber(ctx, "INV-100")
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if order.Status != types.OrderStatusPending {
		t.Fatalf("order must stay pending after a failed credit, got %s", order.Status)
	}

	result, err := svc.HandleWebhook(ctx, paidEvent("INV-100", "ptx-1"))
	if err != nil {
		t.Fatalf("redelivery should settle the order: %v", err)
	}
	if !result.Applied || result.CreditsAdded != 100 || result.Balance != 100 {
		t.Errorf("expected 100 credits applied on redelivery, got %+v", result)
	}
	if store.balance["user-1"] != 100 {
		t.Errorf("expected balance 100, got %d", store.balance["user-1"])
	}
}

// TestHandleWebhookMarkPaidFailureThenRedelivery verifies that a failure
// after the credit committed does not double-apply it on redelivery.
func TestHandleWebhookMarkPaidFailureThenRedelivery(t *testing.T) {
	store := newFakeCreditStore()
	orders := newFakeOrderStore()
	orders.markErrs = 1
	svc := NewPaymentService(orders, credit.NewLedger(store, "", nil), nil)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "user-1", "INV-100", 50); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.HandleWebhook(ctx, paidEvent("INV-100", "ptx-1")); err == nil {
		t.Fatal("first delivery should surface the order update failure")
	}
	if store.balance["user-1"] != 50 {
		t.Fatalf("credit should have committed before the failure, got %d", store.balance["user-1"])
	}

	result, err := svc.HandleWebhook(ctx, paidEvent("INV-100", "ptx-1"))
	if err != nil {
		t.Fatalf("redelivery should finish the settlement: %v", err)
	}
	if result.Applied {
		t.Error("redelivery must not apply the credit twice")
	}
	if result.Balance != 50 || store.balance["user-1"] != 50 {
		t.Errorf("expected balance to stay at 50, got result %+v, stored %d", result, store.balance["user-1"])
	}

	order, err := orders.GetByInvoiceNumber(ctx, "INV-100")
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if order.Status != types.OrderStatusPaid {
		t.Errorf("redelivery should mark the order paid, got %s", order.Status)
	}
}

func TestHandleWebhookIgnoresOtherNotifications(t *testing.T) {
	svc, store := newPaymentFixture(t)
	ctx := context.Background()

	svc.CreateOrder(ctx, "user-1", "INV-100", 50)

	event := paidEvent("INV-100", "ptx-1")
	event.NotificationType = "ORDER_CANCELLED"

	result, err := svc.HandleWebhook(ctx, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Handled {
		t.Error("non ORDER_PAID notifications should be acknowledged and ignored")
	}
	if store.balance["user-1"] != 0 {
		t.Errorf("balance should be untouched, got %d", store.balance["user-1"])
	}
}

func TestHandleWebhookUnknownInvoice(t *testing.T) {
	svc, _ := newPaymentFixture(t)

	_, err := svc.HandleWebhook(context.Background(), paidEvent("INV-MISSING", "ptx-1"))
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}
