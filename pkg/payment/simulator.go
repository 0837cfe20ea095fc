// Copyright 2025 Clearing Protocol
//
// Simulated Payment Adapter - generates deterministic-shape fake
// wallets and transaction references without touching a chain. Used by
// tests, the simulation harness, and local development.

package payment

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulator implements Adapter with fake references
type Simulator struct {
	logger *log.Logger

	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewSimulator creates a simulated payment adapter
func NewSimulator(logger *log.Logger) *Simulator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Payment] ", log.LstdFlags)
	}
	return &Simulator{
		logger:   logger,
		balances: make(map[string]decimal.Decimal),
	}
}

// CreateEscrowWallet returns a fake 0x-prefixed wallet address
func (s *Simulator) CreateEscrowWallet(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr := "0x" + uuid.New().String()[:8] + uuid.New().String()[:8] + uuid.New().String()[:8] + uuid.New().String()[:8] + uuid.New().String()[:8]
	addr = addr[:42]
	s.logger.Printf("Created simulated escrow wallet %s", addr)
	return addr, nil
}

// ConfirmFunding records the deposit and returns a fake tx hash
func (s *Simulator) ConfirmFunding(ctx context.Context, wallet string, amount decimal.Decimal, buyerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.balances[wallet] = s.balances[wallet].Add(amount)
	s.mu.Unlock()

	ref := fakeTxHash()
	s.logger.Printf("Simulated funding of %s into %s from buyer %s (ref %s)",
		amount.StringFixed(6), wallet, buyerID, ref)
	return ref, nil
}

// TransferToWorker debits the wallet and returns a fake tx hash
func (s *Simulator) TransferToWorker(ctx context.Context, fromWallet, workerID string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.balances[fromWallet] = s.balances[fromWallet].Sub(amount)
	s.mu.Unlock()

	ref := fakeTxHash()
	s.logger.Printf("Simulated settlement of %s from %s to worker %s (ref %s)",
		amount.StringFixed(6), fromWallet, workerID, ref)
	return ref, nil
}

// Balance reports the simulated wallet balance
func (s *Simulator) Balance(wallet string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[wallet]
}

// fakeTxHash builds a 0x-prefixed 64-hex-char reference
func fakeTxHash() string {
	a := uuid.New()
	b := uuid.New()
	out := make([]byte, 0, 66)
	out = append(out, '0', 'x')
	for _, u := range [][16]byte{a, b} {
		const hexdigits = "0123456789abcdef"
		for _, c := range u {
			out = append(out, hexdigits[c>>4], hexdigits[c&0x0f])
		}
	}
	return string(out[:66])
}
