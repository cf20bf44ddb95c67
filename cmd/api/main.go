package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/auth"
	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/store"
	"go.uber.org/zap"
)

// NewRouter wires every route. API routes require a bearer token when
// jwtSecret is set; health and metrics stay open.
func NewRouter(s *Server, m *metrics.Collector, jwtSecret string) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	if m != nil {
		router.Handle("/metrics", m.Handler()).Methods("GET")
	}

	api := router.PathPrefix("/").Subrouter()
	if jwtSecret != "" {
		api.Use(auth.Middleware([]byte(jwtSecret), s.logger))
	}

	api.HandleFunc("/customers", s.listCustomersHandler).Methods("GET")
	api.HandleFunc("/customers", s.createCustomerHandler).Methods("POST")
	api.HandleFunc("/customers/{id}", s.getCustomerHandler).Methods("GET")

	api.HandleFunc("/quotes", s.quoteHandler).Methods("POST")

	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/cancel", s.cancelLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/installments", s.listInstallmentsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")

	api.HandleFunc("/payments/{id}/receipt", s.receiptHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	return router
}

// runStatusRefresh re-derives loan statuses every interval until ctx is done.
func runStatusRefresh(ctx context.Context, l *ledger.Ledger, interval time.Duration, logger *zap.Logger) {
	refresh := func() {
		n, err := l.RefreshStatuses(ctx)
		if err != nil {
			logger.Error("status refresh failed", zap.Error(err))
			return
		}
		logger.Info("status refresh complete", zap.Int("updated", n))
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "path to .env file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	printConfig := flag.Bool("print-config", false, "print an example configuration and exit")
	flag.Parse()

	if *printConfig {
		if err := config.WriteExample(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configPath, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	policy, err := cfg.Policy()
	if err != nil {
		logger.Fatal("invalid ledger policy", zap.Error(err))
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to initialize SQLite store", zap.Error(err))
	}

	collector := metrics.NewCollector()
	l := ledger.NewLedger(sqliteStore,
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithMetrics(collector),
		ledger.WithPolicy(policy),
		ledger.WithReceiptPrefix(cfg.Receipts.Prefix),
		ledger.WithAutoApprove(cfg.Ledger.AutoApprove),
	)
	server := NewServer(l, sqliteStore, logger.Named("api"))
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("failed to close storage", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Ledger.StatusRefreshInterval > 0 {
		go runStatusRefresh(ctx, l, cfg.Ledger.StatusRefreshInterval, logger.Named("refresh"))
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           NewRouter(server, collector, cfg.Auth.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("address", cfg.Server.Address), zap.Bool("auth", cfg.Auth.JWTSecret != ""))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
