// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/scheduler"
	"github.com/rank-tracker/internal/service"
	"github.com/rank-tracker/internal/types"
	"github.com/rank-tracker/internal/worker"
)

// Service interfaces for dependency injection and testing

// CheckServiceInterface defines the interface for check admission operations
type CheckServiceInterface interface {
	Enqueue(ctx context.Context, input *service.EnqueueInput) (*models.RankCheckJob, error)
	GetJob(ctx context.Context, jobID string) (*models.RankCheckJob, error)
	ActiveJob(ctx context.Context, classID string) (*models.RankCheckJob, error)
}

// PaymentServiceInterface defines the interface for payment operations
type PaymentServiceInterface interface {
	CreateOrder(ctx context.Context, userID, invoiceNumber string, credits int) (*models.CreditOrder, error)
	HandleWebhook(ctx context.Context, event *service.WebhookEvent) (*service.SettlementResult, error)
}

// LedgerInterface defines the interface for credit ledger reads and
// adjustments
type LedgerInterface interface {
	Account(ctx context.Context, userID string) (*models.CreditAccount, error)
	Transactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error)
	Adjust(ctx context.Context, userID string, delta int, reason, confirmationToken string) (*models.CreditTransaction, error)
}

// SchedulerInterface defines the interface for the scheduler trigger
type SchedulerInterface interface {
	Run(ctx context.Context) (*scheduler.RunResult, error)
}

// ProcessorInterface defines the interface for the queue processor trigger
type ProcessorInterface interface {
	RunOnce(ctx context.Context) (*worker.RunResult, error)
}

// ClassStoreInterface defines the class persistence the handlers need
type ClassStoreInterface interface {
	Create(ctx context.Context, class *models.Class) error
	GetByID(ctx context.Context, id string) (*models.Class, error)
}

// KeywordStoreInterface defines the keyword persistence the handlers need
type KeywordStoreInterface interface {
	Create(ctx context.Context, keyword *models.Keyword) error
	GetByID(ctx context.Context, id string) (*models.Keyword, error)
	ListByClass(ctx context.Context, classID string) ([]*models.Keyword, error)
}

// ResultCacheInterface defines the cached SERP result reads
type ResultCacheInterface interface {
	Get(ctx context.Context, keywordID string) (results []types.SerpResult, fetchedAt time.Time, found bool, err error)
}

// HistoryReaderInterface defines the ranking history reads
type HistoryReaderInterface interface {
	ListByKeyword(ctx context.Context, keywordID string, from, to time.Time, limit int) ([]*models.RankingHistoryRecord, error)
}

// Server represents the HTTP API server.
type Server struct {
	router         *mux.Router
	httpServer     *http.Server
	checkService   CheckServiceInterface
	paymentService PaymentServiceInterface
	ledger         LedgerInterface
	scheduler      SchedulerInterface
	processor      ProcessorInterface
	classes        ClassStoreInterface
	keywords       KeywordStoreInterface
	resultCache    ResultCacheInterface
	history        HistoryReaderInterface
	config         *ServerConfig
	logger         *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	WebhookSecret   string
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	checkService CheckServiceInterface,
	paymentService PaymentServiceInterface,
	ledger LedgerInterface,
	sched SchedulerInterface,
	processor ProcessorInterface,
	classes ClassStoreInterface,
	keywords KeywordStoreInterface,
	resultCache ResultCacheInterface,
	history HistoryReaderInterface,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router:         mux.NewRouter(),
		checkService:   checkService,
		paymentService: paymentService,
		ledger:         ledger,
		scheduler:      sched,
		processor:      processor,
		classes:        classes,
		keywords:       keywords,
		resultCache:    resultCache,
		history:        history,
		config:         config,
		logger:         logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Middleware order matters: recovery must wrap everything else.
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Class and keyword endpoints
	api.HandleFunc("/classes", s.handleCreateClass).Methods("POST")
	api.HandleFunc("/classes/{id}", s.handleGetClass).Methods("GET")
	api.HandleFunc("/classes/{id}/keywords", s.handleAddKeyword).Methods("POST")
	api.HandleFunc("/classes/{id}/keywords", s.handleListKeywords).Methods("GET")

	// Check endpoints
	api.HandleFunc("/classes/{id}/checks", s.handleEnqueueCheck).Methods("POST")
	api.HandleFunc("/classes/{id}/checks/active", s.handleGetActiveCheck).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")

	// Keyword result endpoints
	api.HandleFunc("/keywords/{id}/results", s.handleGetKeywordResults).Methods("GET")
	api.HandleFunc("/keywords/{id}/history", s.handleGetKeywordHistory).Methods("GET")

	// Credit endpoints
	api.HandleFunc("/users/{id}/credits", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/users/{id}/credits/transactions", s.handleListTransactions).Methods("GET")
	api.HandleFunc("/users/{id}/credits/adjust", s.handleAdjustCredits).Methods("POST")
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")

	// Trigger endpoints, invoked by the worker/scheduler loops or manually
	api.HandleFunc("/scheduler/run", s.handleRunScheduler).Methods("POST")
	api.HandleFunc("/processor/run", s.handleRunProcessor).Methods("POST")

	// Payment webhook endpoint (shared-secret authenticated, not CORS traffic)
	s.router.HandleFunc("/webhooks/payment", s.handlePaymentWebhook).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "rank-tracker",
	})
}

// Router returns the configured router, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
