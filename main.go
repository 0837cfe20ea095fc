// Copyright 2025 Clearing Protocol
//
// Clearinghouse service entry point. Wires configuration, the contract
// store, the payment adapter, verifier strategies, the optional
// Firestore audit mirror, and the HTTP API.

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agentclearing/clearinghouse/pkg/config"
	"github.com/agentclearing/clearinghouse/pkg/database"
	"github.com/agentclearing/clearinghouse/pkg/escrow"
	clearingfs "github.com/agentclearing/clearinghouse/pkg/firestore"
	"github.com/agentclearing/clearinghouse/pkg/judge"
	"github.com/agentclearing/clearinghouse/pkg/metrics"
	"github.com/agentclearing/clearinghouse/pkg/payment"
	"github.com/agentclearing/clearinghouse/pkg/sandbox"
	"github.com/agentclearing/clearinghouse/pkg/server"
	"github.com/agentclearing/clearinghouse/pkg/verifier"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config bundle")
	flag.Parse()

	logger := log.New(os.Stdout, "[Clearinghouse] ", log.LstdFlags)

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := server.NewHealthTracker()

	// Database
	dbClient, err := database.NewClient(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	if err := dbClient.MigrateUp(ctx); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	health.SetDatabase("connected")
	store := database.NewStore(dbClient)

	// Payment adapter
	var payments payment.Adapter
	switch cfg.PaymentMode {
	case "evm":
		payments, err = payment.NewEVMAdapter(&payment.EVMConfig{
			URL:          cfg.EthereumURL,
			ChainID:      cfg.EthChainID,
			TokenAddress: cfg.SettlementToken,
		})
		if err != nil {
			logger.Fatalf("Failed to create EVM payment adapter: %v", err)
		}
		health.SetPayments("evm")
	default:
		payments = payment.NewSimulator(nil)
		health.SetPayments("simulated")
	}

	// Optional Firestore audit mirror
	var mirror escrow.EventMirror
	fsClient, err := clearingfs.NewClient(ctx, &clearingfs.ClientConfig{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
		Enabled:         cfg.FirestoreEnabled,
	})
	if err != nil {
		logger.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer fsClient.Close()
	if fsClient.IsEnabled() {
		auditMirror, err := clearingfs.NewAuditMirror(&clearingfs.AuditMirrorConfig{
			Client:    fsClient,
			ServiceID: cfg.ServiceID,
		})
		if err != nil {
			logger.Fatalf("Failed to create audit mirror: %v", err)
		}
		mirror = auditMirror
		health.SetFirestore("connected")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Verifier strategies
	var sandboxes verifier.SandboxAllocator
	if cfg.SandboxURL != "" && cfg.SandboxAPIKey != "" {
		sandboxClient, err := sandbox.NewClient(&sandbox.ClientConfig{
			BaseURL: cfg.SandboxURL,
			APIKey:  cfg.SandboxAPIKey,
		})
		if err != nil {
			logger.Fatalf("Failed to create sandbox client: %v", err)
		}
		sandboxes = sandboxClient
	} else {
		logger.Println("Sandbox service not configured; code_execution verification will report MISSING_SANDBOX_KEY")
	}

	var judgeClient verifier.Judge
	if cfg.JudgeURL != "" && cfg.JudgeAPIKey != "" {
		jc, err := judge.NewClient(&judge.ClientConfig{
			BaseURL:   cfg.JudgeURL,
			APIKey:    cfg.JudgeAPIKey,
			Model:     cfg.JudgeModel,
			MaxTokens: cfg.JudgeMaxTokens,
			Timeout:   cfg.JudgeTimeout,
		})
		if err != nil {
			logger.Fatalf("Failed to create judge client: %v", err)
		}
		judgeClient = jc
	} else {
		logger.Println("Judge service not configured; semantic verification will report LLM_JUDGE_ERROR")
	}

	factory := verifier.NewDefaultFactory(cfg, sandboxes, judgeClient, nil)

	// Services
	escrowSvc, err := escrow.NewService(&escrow.ServiceConfig{
		Store:             store,
		Payments:          payments,
		Metrics:           m,
		Mirror:            mirror,
		DefaultMaxRetries: cfg.DefaultMaxRetries,
		MaxPayloadBytes:   cfg.MaxPayloadBytes,
	})
	if err != nil {
		logger.Fatalf("Failed to create escrow service: %v", err)
	}
	verificationSvc, err := escrow.NewVerificationService(&escrow.VerificationServiceConfig{
		Store:   store,
		Escrow:  escrowSvc,
		Factory: factory,
		Metrics: m,
	})
	if err != nil {
		logger.Fatalf("Failed to create verification service: %v", err)
	}

	// HTTP API
	srv := server.New(&server.Config{
		ListenAddr:   cfg.ListenAddr,
		Escrow:       escrowSvc,
		Verification: verificationSvc,
		Health:       health,
		Registry:     registry,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Println("Shutdown signal received")
	case err := <-errCh:
		logger.Printf("HTTP server stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Forced shutdown: %v", err)
	}
	logger.Println("Clearinghouse stopped")
}
