// Copyright 2025 Clearing Protocol
//
// EVM Payment Adapter - escrow wallets and settlement transfers on an
// EVM chain. Funding is confirmed by observing the escrow wallet's
// balance; settlement is a signed transfer from the custodial key.
// When a settlement token address is configured the adapter moves
// ERC-20 units (six-decimal, USDC-style); otherwise it moves wei.

package payment

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// erc20TransferSelector is the 4-byte selector of transfer(address,uint256)
var erc20TransferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// tokenDecimals is the fixed-point precision of escrow amounts
const tokenDecimals = 6

// EVMAdapter implements Adapter against an EVM chain
type EVMAdapter struct {
	client  *ethclient.Client
	chainID *big.Int
	token   *common.Address // nil means native transfers
	logger  *log.Logger

	// Custodial keys for escrow wallets created by this process.
	// Real key management is out of scope; keys live in memory only.
	mu   sync.Mutex
	keys map[common.Address]*ecdsa.PrivateKey
}

// EVMConfig holds configuration for the EVM adapter
type EVMConfig struct {
	// URL of the EVM JSON-RPC endpoint
	URL string

	// ChainID of the target chain
	ChainID int64

	// TokenAddress is the optional ERC-20 settlement token
	TokenAddress string

	// Logger for adapter operations
	Logger *log.Logger
}

// NewEVMAdapter connects to the chain and creates the adapter
func NewEVMAdapter(cfg *EVMConfig) (*EVMAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("ethereum URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Payment] ", log.LstdFlags)
	}

	client, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum: %w", err)
	}

	adapter := &EVMAdapter{
		client:  client,
		chainID: big.NewInt(cfg.ChainID),
		logger:  cfg.Logger,
		keys:    make(map[common.Address]*ecdsa.PrivateKey),
	}
	if cfg.TokenAddress != "" {
		if !common.IsHexAddress(cfg.TokenAddress) {
			return nil, fmt.Errorf("invalid settlement token address %q", cfg.TokenAddress)
		}
		addr := common.HexToAddress(cfg.TokenAddress)
		adapter.token = &addr
	}

	return adapter, nil
}

// CreateEscrowWallet generates a fresh custodial key pair and returns
// its address.
func (a *EVMAdapter) CreateEscrowWallet(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate escrow key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	a.mu.Lock()
	a.keys[addr] = key
	a.mu.Unlock()

	a.logger.Printf("Created escrow wallet %s", addr.Hex())
	return addr.Hex(), nil
}

// ConfirmFunding checks that the escrow wallet holds at least the
// contract amount and returns a reference pinned to the observed block.
func (a *EVMAdapter) ConfirmFunding(ctx context.Context, wallet string, amount decimal.Decimal, buyerID string) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("invalid escrow wallet address %q", wallet)
	}
	addr := common.HexToAddress(wallet)
	required := toBaseUnits(amount)

	balance, err := a.balanceOf(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("failed to check escrow balance: %w", err)
	}
	if balance.Cmp(required) < 0 {
		return "", fmt.Errorf("escrow wallet %s underfunded: have %s, need %s base units",
			wallet, balance, required)
	}

	header, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch block header: %w", err)
	}

	ref := fmt.Sprintf("%s@%d", header.Hash().Hex(), header.Number.Uint64())
	a.logger.Printf("Confirmed funding of %s into %s from buyer %s at block %d",
		amount.StringFixed(tokenDecimals), wallet, buyerID, header.Number.Uint64())
	return ref, nil
}

// TransferToWorker signs and sends the settlement transfer from the
// custodial escrow key and returns the transaction hash.
func (a *EVMAdapter) TransferToWorker(ctx context.Context, fromWallet, workerID string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(fromWallet) {
		return "", fmt.Errorf("invalid escrow wallet address %q", fromWallet)
	}
	if !common.IsHexAddress(workerID) {
		return "", fmt.Errorf("worker %q is not an EVM address", workerID)
	}
	from := common.HexToAddress(fromWallet)
	to := common.HexToAddress(workerID)

	a.mu.Lock()
	key, ok := a.keys[from]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no custodial key for escrow wallet %s", fromWallet)
	}

	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	value := toBaseUnits(amount)
	var tx *types.Transaction
	if a.token != nil {
		data := packTransfer(to, value)
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       a.token,
			Value:    big.NewInt(0),
			Gas:      90_000,
			GasPrice: gasPrice,
			Data:     data,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      21_000,
			GasPrice: gasPrice,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign settlement tx: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send settlement tx: %w", err)
	}

	a.logger.Printf("Settled %s from %s to worker %s (tx %s)",
		amount.StringFixed(tokenDecimals), fromWallet, workerID, signed.Hash().Hex())
	return signed.Hash().Hex(), nil
}

// balanceOf reads the wallet balance in settlement units
func (a *EVMAdapter) balanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	if a.token == nil {
		return a.client.BalanceAt(ctx, addr, nil)
	}

	// balanceOf(address)
	selector := crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	data := append(append([]byte{}, selector...), common.LeftPadBytes(addr.Bytes(), 32)...)

	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: a.token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// packTransfer encodes transfer(to, value) calldata
func packTransfer(to common.Address, value *big.Int) []byte {
	data := append([]byte{}, erc20TransferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(value.Bytes(), 32)...)
	return data
}

// toBaseUnits converts a six-decimal amount to integer base units
func toBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(tokenDecimals).Truncate(0).BigInt()
}
