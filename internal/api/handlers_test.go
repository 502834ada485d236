package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/service"
	"github.com/rank-tracker/internal/types"
)

// TestCreateClass_InvalidJSON tests handling of malformed JSON
func TestCreateClass_InvalidJSON(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("POST", "/api/classes", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-123")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestCreateClass_MissingUser tests that the user header is required
func TestCreateClass_MissingUser(t *testing.T) {
	server := createTestServer()

	body, _ := json.Marshal(map[string]interface{}{
		"name":   "Shoes",
		"domain": "example-shop.com",
	})

	req := httptest.NewRequest("POST", "/api/classes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestCreateClass_Defaults tests device and depth defaults on create
func TestCreateClass_Defaults(t *testing.T) {
	server := createTestServer()

	var created *models.Class
	server.classes = &mockClassStore{
		createFunc: func(ctx context.Context, class *models.Class) error {
			created = class
			return nil
		},
	}

	body, _ := json.Marshal(map[string]interface{}{
		"name":   "Shoes",
		"domain": "example-shop.com",
	})

	req := httptest.NewRequest("POST", "/api/classes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-123")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if created == nil {
		t.Fatal("Expected class to be persisted")
	}
	if created.TopResults != 10 {
		t.Errorf("Expected default topResults 10, got %d", created.TopResults)
	}
	if created.Device != types.DeviceDesktop {
		t.Errorf("Expected default device desktop, got %s", created.Device)
	}
}

// TestCreateClass_InvalidDevice tests device validation
func TestCreateClass_InvalidDevice(t *testing.T) {
	server := createTestServer()

	body, _ := json.Marshal(map[string]interface{}{
		"name":   "Shoes",
		"domain": "example-shop.com",
		"device": "smartwatch",
	})

	req := httptest.NewRequest("POST", "/api/classes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-123")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestEnqueueCheck_Accepted tests a successful check request
func TestEnqueueCheck_Accepted(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("POST", "/api/classes/class-123/checks", nil)
	req.Header.Set("X-User-ID", "user-123")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["jobId"] != "job-123" {
		t.Errorf("Expected jobId job-123, got %v", resp["jobId"])
	}
	if resp["status"] != string(types.JobStatusPending) {
		t.Errorf("Expected pending status, got %v", resp["status"])
	}
}

// TestEnqueueCheck_Conflict tests that an active job yields 409 with the
// existing job's id
func TestEnqueueCheck_Conflict(t *testing.T) {
	server := createTestServer()
	server.checkService = &mockCheckService{
		enqueueFunc: func(ctx context.Context, input *service.EnqueueInput) (*models.RankCheckJob, error) {
			return nil, apperrors.NewConflictError("job-existing", types.JobStatusProcessing)
		},
	}

	req := httptest.NewRequest("POST", "/api/classes/class-123/checks", nil)
	req.Header.Set("X-User-ID", "user-123")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Error.Code != apperrors.CodeConflict {
		t.Errorf("Expected CONFLICT code, got %s", resp.Error.Code)
	}
	if resp.Error.Details["existingJobId"] != "job-existing" {
		t.Errorf("Expected existing job id in details, got %v", resp.Error.Details)
	}
}

// TestEnqueueCheck_MissingUser tests that the user header is required
func TestEnqueueCheck_MissingUser(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("POST", "/api/classes/class-123/checks", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestGetActiveCheck_NoneRunning tests the inactive response shape
func TestGetActiveCheck_NoneRunning(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/api/classes/class-123/checks/active", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["active"] != false {
		t.Errorf("Expected active=false, got %v", resp["active"])
	}
}

// TestGetJob_NotFound tests job lookup for an unknown id
func TestGetJob_NotFound(t *testing.T) {
	server := createTestServer()
	server.checkService = &mockCheckService{
		getJobFunc: func(ctx context.Context, jobID string) (*models.RankCheckJob, error) {
			return nil, apperrors.NewNotFoundError("job", jobID)
		},
	}

	req := httptest.NewRequest("GET", "/api/jobs/missing", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

// TestGetKeywordResults_CacheFallback tests the persisted-copy fallback when
// the cache misses
func TestGetKeywordResults_CacheFallback(t *testing.T) {
	server := createTestServer()
	server.keywords = &mockKeywordStore{
		getByIDFunc: func(ctx context.Context, id string) (*models.Keyword, error) {
			return &models.Keyword{
				ID:      id,
				ClassID: "class-123",
				Text:    "running shoes",
				SerpResults: []types.SerpResult{
					{Position: 1, Title: "Shop", URL: "https://example-shop.com"},
				},
			}, nil
		},
	}

	req := httptest.NewRequest("GET", "/api/keywords/kw-1/results", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["cached"] != false {
		t.Errorf("Expected cached=false on fallback, got %v", resp["cached"])
	}
	if results, ok := resp["results"].([]interface{}); !ok || len(results) != 1 {
		t.Errorf("Expected one persisted result, got %v", resp["results"])
	}
}

// TestGetKeywordHistory_InvalidDate tests validation of the from parameter
func TestGetKeywordHistory_InvalidDate(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/api/keywords/kw-1/history?from=yesterday", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestGetBalance tests the credit balance endpoint
func TestGetBalance(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/api/users/user-123/credits", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var account models.CreditAccount
	if err := json.Unmarshal(w.Body.Bytes(), &account); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if account.Balance != 100 {
		t.Errorf("Expected balance 100, got %d", account.Balance)
	}
}

// TestListTransactions tests the credit ledger listing endpoint
func TestListTransactions(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/api/users/user-123/credits/transactions?limit=10", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["count"].(float64) != 2 {
		t.Errorf("Expected 2 transactions, got %v", resp["count"])
	}
}

// TestListTransactions_InvalidLimit tests limit validation
func TestListTransactions_InvalidLimit(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/api/users/user-123/credits/transactions?limit=abc", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestAdjustCredits_InvalidToken tests the confirmation token gate
func TestAdjustCredits_InvalidToken(t *testing.T) {
	server := createTestServer()
	server.ledger = &mockLedger{
		adjustFunc: func(ctx context.Context, userID string, delta int, reason, confirmationToken string) (*models.CreditTransaction, error) {
			return nil, apperrors.NewInvalidConfirmationError()
		},
	}

	body, _ := json.Marshal(map[string]interface{}{
		"delta":             -10,
		"reason":            "refund reversal",
		"confirmationToken": "wrong",
	})

	req := httptest.NewRequest("POST", "/api/users/user-123/credits/adjust", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestPaymentWebhook_Settles tests a successful settlement delivery
func TestPaymentWebhook_Settles(t *testing.T) {
	server := createTestServer()

	// Provider payloads carry extra fields we ignore.
	body := []byte(`{
		"notificationType": "ORDER_PAID",
		"order": {"invoiceNumber": "INV-100", "status": "PAID", "currency": "USD"},
		"transaction": {"id": "ptx-1", "processor": "card"}
	}`)

	req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var result service.SettlementResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !result.Applied {
		t.Error("Expected settlement to be applied")
	}
}

// TestPaymentWebhook_DuplicateDelivery tests that a redelivered notification
// still returns success without applying credits again
func TestPaymentWebhook_DuplicateDelivery(t *testing.T) {
	server := createTestServer()
	server.paymentService = &mockPaymentService{
		handleWebhookFunc: func(ctx context.Context, event *service.WebhookEvent) (*service.SettlementResult, error) {
			return &service.SettlementResult{Handled: true, Applied: false, OrderID: "order-123", Balance: 50}, nil
		},
	}

	body := []byte(`{"notificationType": "ORDER_PAID", "order": {"invoiceNumber": "INV-100"}, "transaction": {"id": "ptx-1"}}`)

	req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for duplicate delivery, got %d", w.Code)
	}

	var result service.SettlementResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result.Applied {
		t.Error("Duplicate delivery must not apply credits")
	}
}

// TestPaymentWebhook_SecretRequired tests the shared-secret check
func TestPaymentWebhook_SecretRequired(t *testing.T) {
	server := createTestServer()
	server.config.WebhookSecret = "s3cret"

	body := []byte(`{"notificationType": "ORDER_PAID", "order": {"invoiceNumber": "INV-100"}, "transaction": {"id": "ptx-1"}}`)

	tests := []struct {
		name     string
		secret   string
		expected int
	}{
		{name: "missing secret", secret: "", expected: http.StatusUnauthorized},
		{name: "wrong secret", secret: "nope", expected: http.StatusUnauthorized},
		{name: "correct secret", secret: "s3cret", expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			if tt.secret != "" {
				req.Header.Set("X-Webhook-Secret", tt.secret)
			}

			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)

			if w.Code != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

// TestCreateOrder tests opening a credit purchase
func TestCreateOrder(t *testing.T) {
	server := createTestServer()

	body, _ := json.Marshal(map[string]interface{}{
		"invoiceNumber": "INV-100",
		"credits":       50,
	})

	req := httptest.NewRequest("POST", "/api/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-123")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var order models.CreditOrder
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if order.Status != types.OrderStatusPending {
		t.Errorf("Expected pending order, got %s", order.Status)
	}
}

// TestRunScheduler tests the manual scheduler trigger
func TestRunScheduler(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("POST", "/api/scheduler/run", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["checkedCount"].(float64) != 3 {
		t.Errorf("Expected 3 checked, got %v", resp["checkedCount"])
	}
}

// TestRunProcessor tests the manual processor trigger
func TestRunProcessor(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("POST", "/api/processor/run", nil)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["idle"] != true {
		t.Errorf("Expected idle=true, got %v", resp["idle"])
	}
}
