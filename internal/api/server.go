// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/service"
)

// Service interfaces for dependency injection and testing

// AccountServiceInterface defines account linking and sync operations
type AccountServiceInterface interface {
	LinkAccount(ctx context.Context, userID, provider, publicToken string) (*service.LinkResult, error)
	ListAccounts(ctx context.Context, userID string) ([]*models.Account, error)
	GetAccount(ctx context.Context, userID, accountID string) (*models.Account, error)
	DeleteAccount(ctx context.Context, userID, accountID string) error
	SyncAccount(ctx context.Context, userID, accountID string) (*service.SyncResult, error)
	SyncUser(ctx context.Context, userID string) (*service.UserSyncResult, error)
}

// PortfolioServiceInterface defines valuation operations
type PortfolioServiceInterface interface {
	SummarizeAccount(ctx context.Context, userID, accountID string) (*service.AccountSummary, error)
	SummarizeUser(ctx context.Context, userID string) (*service.UserSummary, error)
}

// HistoryServiceInterface defines value history operations
type HistoryServiceInterface interface {
	AccountHistory(ctx context.Context, userID, accountID string, windowDays int) (*service.HistoryResult, error)
	UserHistory(ctx context.Context, userID string, windowDays int) (*service.HistoryResult, error)
}

// QueryServiceInterface defines transaction query operations
type QueryServiceInterface interface {
	QueryForUser(ctx context.Context, userID string, q service.TransactionQuery) (*service.PaginatedTransactions, error)
}

// HoldingServiceInterface defines manual account and holding operations
type HoldingServiceInterface interface {
	CreateManualAccount(ctx context.Context, userID, name string) (*models.Account, error)
	AddHolding(ctx context.Context, userID, accountID string, in service.HoldingInput) (*models.Holding, error)
	UpdateHolding(ctx context.Context, userID, holdingID string, in service.HoldingUpdate) (*models.Holding, error)
	DeleteHolding(ctx context.Context, userID, holdingID string) error
	ListAccountHoldings(ctx context.Context, userID, accountID string) ([]*models.Holding, error)
	ListHoldings(ctx context.Context, userID string) ([]*service.UnifiedHolding, error)
}

// Services bundles the services the server routes to
type Services struct {
	Accounts  AccountServiceInterface
	Portfolio PortfolioServiceInterface
	History   HistoryServiceInterface
	Query     QueryServiceInterface
	Holdings  HoldingServiceInterface
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host               string
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	RequestsPerSecond  float64 // per caller
	Burst              int
	DefaultHistoryDays int
	Logger             *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services) *Server {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.DefaultHistoryDays <= 0 {
		config.DefaultHistoryDays = 30
	}

	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		logger:   logger.WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

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
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(UserIDMiddleware)

	// Account endpoints
	api.HandleFunc("/accounts/link", s.handleLinkAccount).Methods("POST")
	api.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	api.HandleFunc("/accounts", s.handleCreateManualAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{id}", s.handleDeleteAccount).Methods("DELETE")
	api.HandleFunc("/accounts/{id}/sync", s.handleSyncAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}/summary", s.handleAccountSummary).Methods("GET")
	api.HandleFunc("/accounts/{id}/history", s.handleAccountHistory).Methods("GET")
	api.HandleFunc("/accounts/{id}/holdings", s.handleListAccountHoldings).Methods("GET")
	api.HandleFunc("/accounts/{id}/holdings", s.handleAddHolding).Methods("POST")

	// Holding endpoints
	api.HandleFunc("/holdings", s.handleListHoldings).Methods("GET")
	api.HandleFunc("/holdings/{id}", s.handleUpdateHolding).Methods("PUT")
	api.HandleFunc("/holdings/{id}", s.handleDeleteHolding).Methods("DELETE")

	// Portfolio endpoints
	api.HandleFunc("/portfolio/summary", s.handlePortfolioSummary).Methods("GET")
	api.HandleFunc("/portfolio/history", s.handlePortfolioHistory).Methods("GET")
	api.HandleFunc("/portfolio/sync", s.handleSyncPortfolio).Methods("POST")

	// Transaction endpoints
	api.HandleFunc("/transactions", s.handleQueryTransactions).Methods("GET")
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-aggregator",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
