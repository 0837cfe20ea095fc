// Copyright 2025 Clearing Protocol
//
// Payment Adapter - the escrow-money seam of the core. The core never
// inspects the returned references beyond storing them.

package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Adapter is consumed by the escrow service for wallet creation,
// funding confirmation, and settlement payout. Implementations may be
// a real on-chain client or a deterministic simulator.
type Adapter interface {
	// CreateEscrowWallet provisions a custodial wallet for a contract
	CreateEscrowWallet(ctx context.Context) (string, error)

	// ConfirmFunding verifies the buyer's deposit landed in the wallet
	// and returns an opaque funding reference
	ConfirmFunding(ctx context.Context, wallet string, amount decimal.Decimal, buyerID string) (string, error)

	// TransferToWorker pays the deposit out of the escrow wallet and
	// returns an opaque settlement reference
	TransferToWorker(ctx context.Context, fromWallet, workerID string, amount decimal.Decimal) (string, error)
}
