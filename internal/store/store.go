// Package store defines the persistence interfaces for the AMM engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/model"
)

// BalanceStore persists account balances. It is the only writer of
// balances; callers go through ledger.Ledger.
type BalanceStore interface {
	// GetAccount returns the account, creating a zero-balance record on
	// first reference.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)

	// ModifyBalance atomically adds or subtracts amount and returns the
	// new balance. A subtract that would underflow fails with
	// model.ErrInsufficientFunds and leaves the balance unchanged.
	ModifyBalance(ctx context.Context, accountID string, amount decimal.Decimal, op model.BalanceOp) (decimal.Decimal, error)
}

// PoolStore persists liquidity pools.
type PoolStore interface {
	// CreatePool persists a new pool at version 1.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves a pool by ID, or model.ErrPoolNotFound.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pools, newest first.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// UpdateReserves writes new reserves only if the pool is still active
	// and at expectedVersion, returning the new version. Otherwise it
	// returns model.ErrPoolInactive or model.ErrVersionConflict and writes
	// nothing.
	UpdateReserves(ctx context.Context, id string, expectedVersion int64, currency, token decimal.Decimal) (int64, error)

	// SetPoolStatus changes a pool's status.
	SetPoolStatus(ctx context.Context, id, status string) error
}

// HoldingStore persists per-(account, pool) token quantities.
type HoldingStore interface {
	// GetHolding returns the holding, or a zero holding if none exists.
	GetHolding(ctx context.Context, accountID, poolID string) (*model.Holding, error)

	// AdjustHolding atomically adds delta (which may be negative) and
	// returns the new quantity. A result below zero fails with
	// model.ErrInsufficientHoldings and changes nothing.
	AdjustHolding(ctx context.Context, accountID, poolID string, delta decimal.Decimal) (decimal.Decimal, error)

	// ListHoldings returns all holdings of an account, including zeros.
	ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error)
}

// AuditStore is the append-only trail of trades and fees.
type AuditStore interface {
	// InsertTrade appends an immutable trade record together with its fee
	// accrual, if any. Both are written or neither is.
	InsertTrade(ctx context.Context, rec *model.TradeRecord, fee *model.FeeAccrual) error

	// ListTradesByPool returns a pool's trades, oldest first.
	ListTradesByPool(ctx context.Context, poolID string) ([]model.TradeRecord, error)

	// ListTradesByAccount returns an account's trades, oldest first.
	ListTradesByAccount(ctx context.Context, accountID string) ([]model.TradeRecord, error)

	// ListFeesByAccount returns the fees an account paid, oldest first.
	ListFeesByAccount(ctx context.Context, accountID string) ([]model.FeeAccrual, error)
}

// Store is the full persistence surface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer.
type Store interface {
	BalanceStore
	PoolStore
	HoldingStore
	AuditStore
}
