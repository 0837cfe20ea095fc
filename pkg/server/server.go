// Copyright 2025 Clearing Protocol
//
// HTTP Server - thin pass-through façade over the escrow and
// verification services. Exposes exactly create / fund / accept /
// submit (with built-in verify-and-settle) / get / status / events /
// dispute, plus health and metrics.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentclearing/clearinghouse/pkg/domain"
	"github.com/agentclearing/clearinghouse/pkg/escrow"
)

// Server hosts the clearinghouse HTTP API
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
}

// Config holds the server's dependencies
type Config struct {
	ListenAddr   string
	Escrow       *escrow.Service
	Verification *escrow.VerificationService
	Health       *HealthTracker
	Registry     *prometheus.Registry
	Logger       *log.Logger
}

// New builds the server and its routing table
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Server] ", log.LstdFlags)
	}

	escrowHandlers := NewEscrowHandlers(cfg.Escrow, cfg.Verification, cfg.Logger)
	healthHandlers := NewHealthHandlers(cfg.Health, cfg.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/escrow", escrowHandlers.HandleCollection)
	mux.HandleFunc("/api/v1/escrow/", escrowHandlers.HandleContract)
	mux.HandleFunc("/health", healthHandlers.HandleHealth)
	if cfg.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           requestIDMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// ListenAndServe starts serving requests
func (s *Server) ListenAndServe() error {
	s.logger.Printf("HTTP API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestIDMiddleware sets X-Request-ID on every response for log
// correlation: the caller's value when sent, otherwise a new UUID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a structured JSON error
func writeJSONError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// writeDomainError maps a core error 1:1 to a transport code
func writeDomainError(w http.ResponseWriter, logger *log.Logger, err error) {
	var (
		notFound  *domain.ContractNotFoundError
		illegal   *domain.IllegalTransitionError
		assigned  *domain.WorkerAlreadyAssignedError
		duplicate *domain.DuplicateOperationError
		paymentE  *domain.PaymentError
		unknown   *domain.UnknownStateError
	)

	switch {
	case errors.As(err, &notFound):
		writeJSONError(w, notFound.Code(), notFound.Error(), http.StatusNotFound)
	case errors.As(err, &illegal):
		writeJSONError(w, illegal.Code(), illegal.Error(), http.StatusConflict)
	case errors.As(err, &assigned):
		writeJSONError(w, assigned.Code(), assigned.Error(), http.StatusConflict)
	case errors.As(err, &duplicate):
		writeJSONError(w, duplicate.Code(), duplicate.Error(), http.StatusConflict)
	case errors.As(err, &unknown):
		writeJSONError(w, unknown.Code(), unknown.Error(), http.StatusBadRequest)
	case errors.As(err, &paymentE):
		writeJSONError(w, paymentE.Code(), paymentE.Error(), http.StatusBadGateway)
	default:
		logger.Printf("Unhandled error: %v", err)
		writeJSONError(w, "INTERNAL_ERROR", "an unexpected error occurred", http.StatusInternalServerError)
	}
}
