// Package model defines the core domain types shared across the AMM engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Decimal places persisted for monetary values. Account-facing amounts
// (balances, holdings, trade inputs and outputs) carry at most AmountScale
// places; pool reserves and fees carry at most ReserveScale.
const (
	AmountScale  int32 = 8
	ReserveScale int32 = 18
)

// ValidAmount reports whether d is positive and has no more than
// AmountScale decimal places.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(AmountScale))
}

// Account holds the spendable balance of one account. Created lazily on
// first reference and never deleted.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Invested  decimal.Decimal `json:"invested" db:"invested"` // informational, not enforced
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// BalanceOp is the direction of a ledger mutation.
type BalanceOp string

const (
	OpAdd      BalanceOp = "add"
	OpSubtract BalanceOp = "subtract"
)

// Validate reports ErrInvalidOperation for anything but add/subtract.
func (op BalanceOp) Validate() error {
	switch op {
	case OpAdd, OpSubtract:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidOperation, string(op))
}

// Pool status values.
const (
	PoolActive = "active"
	PoolVoid   = "void" // creation rolled back; never tradeable
)

// Pool is the two-reserve liquidity pool backing one token. The reserves
// are mutated only through a versioned conditional write.
type Pool struct {
	ID              string          `json:"id" db:"id"`
	CreatorID       string          `json:"creator_id" db:"creator_id"`
	Name            string          `json:"name" db:"name"`
	Symbol          string          `json:"symbol" db:"symbol"`
	ImageRef        string          `json:"image_ref,omitempty" db:"image_ref"`
	CurrencyReserve decimal.Decimal `json:"currency_reserve" db:"currency_reserve"`
	TokenReserve    decimal.Decimal `json:"token_reserve" db:"token_reserve"`
	TotalSupply     decimal.Decimal `json:"total_supply" db:"total_supply"` // display only
	Status          string          `json:"status" db:"status"`
	Version         int64           `json:"version" db:"version"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Product returns the constant-product k of the current reserves.
func (p *Pool) Product() decimal.Decimal {
	return p.CurrencyReserve.Mul(p.TokenReserve)
}

// Price returns the marginal price of one token in currency units.
func (p *Pool) Price() decimal.Decimal {
	if p.TokenReserve.IsZero() {
		return decimal.Zero
	}
	return p.CurrencyReserve.DivRound(p.TokenReserve, 18)
}

// Holding is how many units of one pool's token one account owns.
// Zero-quantity holdings are kept.
type Holding struct {
	AccountID string          `json:"account_id" db:"account_id"`
	PoolID    string          `json:"pool_id" db:"pool_id"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Direction of a trade record.
type Direction string

const (
	DirectionCreate Direction = "create"
	DirectionBuy    Direction = "buy"
	DirectionSell   Direction = "sell"
)

// TradeRecord is an immutable audit entry for a settled trade or pool
// creation. It is written only after the mutations it describes succeed.
type TradeRecord struct {
	ID              string          `json:"id" db:"id"`
	PoolID          string          `json:"pool_id" db:"pool_id"`
	AccountID       string          `json:"account_id" db:"account_id"`
	Direction       Direction       `json:"direction" db:"direction"`
	CurrencyAmount  decimal.Decimal `json:"currency_amount" db:"currency_amount"`
	TokenAmount     decimal.Decimal `json:"token_amount" db:"token_amount"`
	UnitPrice       decimal.Decimal `json:"unit_price" db:"unit_price"`
	Fee             decimal.Decimal `json:"fee" db:"fee"`
	CurrencyReserve decimal.Decimal `json:"currency_reserve" db:"currency_reserve"` // post-trade
	TokenReserve    decimal.Decimal `json:"token_reserve" db:"token_reserve"`       // post-trade
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
}

// Fee accrual sources.
const (
	FeeSourcePoolCreation = "pool_creation"
	FeeSourceBuy          = "buy_fee"  // AMM fee withheld from buy input
	FeeSourceSell         = "sell_fee" // AMM plus platform fee withheld from sell output
)

// FeeAccrual is an append-only record of a fee charged to an account.
type FeeAccrual struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	PoolID    string          `json:"pool_id" db:"pool_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Source    string          `json:"source" db:"source"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
