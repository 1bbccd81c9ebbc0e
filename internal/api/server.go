// Package api provides the HTTP read API and the manual pull trigger.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pnl-tracker/internal/config"
	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
	"github.com/pnl-tracker/internal/service"
)

// QueryServiceInterface defines the read operations the API serves
type QueryServiceInterface interface {
	ResolveAccount(exchange, id string) (models.Account, error)
	LatestBalance(ctx context.Context, account models.Account) (*models.BalanceSnapshot, error)
	BalanceHistory(ctx context.Context, account models.Account, page service.Page) ([]*models.BalanceSnapshot, error)
	LatestReturn(ctx context.Context, account models.Account) (*models.DailyReturn, error)
	ReturnHistory(ctx context.Context, account models.Account, page service.Page) ([]*models.DailyReturn, error)
	TradeHistory(ctx context.Context, account models.Account, page service.Page) ([]*models.Trade, error)
	Accounts(ctx context.Context, exchange string) ([]models.AccountSummary, error)
}

// PullServiceInterface runs the pipeline for one account
type PullServiceInterface interface {
	PullAndReconcile(ctx context.Context, acc config.AccountConfig) (*service.PullResult, error)
}

// AccountFinder looks up a configured account by exchange and id
type AccountFinder interface {
	FindAccount(exchange, id string) (config.AccountConfig, error)
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	queryService QueryServiceInterface
	pullService  PullServiceInterface
	accounts     AccountFinder
	health       HealthChecker
	logger       *logging.Logger
	config       *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  float64 // per client, read endpoints
	PullsPerMinute  float64 // per client, manual pulls
}

// DefaultServerConfig returns timeouts suited to a pull that talks to an exchange
func DefaultServerConfig(cfg config.ServerConfig) *ServerConfig {
	return &ServerConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RequestsPerSec:  10,
		PullsPerMinute:  2,
	}
}

// NewServer creates a new API server instance. pullService may be nil, in
// which case the pull endpoint is not registered.
func NewServer(
	cfg *ServerConfig,
	queryService QueryServiceInterface,
	pullService PullServiceInterface,
	accounts AccountFinder,
	health HealthChecker,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:       mux.NewRouter(),
		queryService: queryService,
		pullService:  pullService,
		accounts:     accounts,
		health:       health,
		logger:       logger,
		config:       cfg,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
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

	reads := api.NewRoute().Subrouter()
	reads.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerSec, 20)))
	reads.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	reads.HandleFunc("/balances/latest", s.handleLatestBalance).Methods("GET")
	reads.HandleFunc("/balances", s.handleBalanceHistory).Methods("GET")
	reads.HandleFunc("/returns/latest", s.handleLatestReturn).Methods("GET")
	reads.HandleFunc("/returns", s.handleReturnHistory).Methods("GET")
	reads.HandleFunc("/trades", s.handleTradeHistory).Methods("GET")

	if s.pullService != nil {
		pulls := api.NewRoute().Subrouter()
		pulls.Use(RateLimitMiddleware(NewRateLimiter(s.config.PullsPerMinute/60, 1)))
		pulls.HandleFunc("/pull/{account}", s.handlePull).Methods("POST")
	}
}

// Router exposes the handler for tests and embedding
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "pnl-tracker",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "pnl-tracker",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
