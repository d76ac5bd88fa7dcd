// Package ledger is the single point through which account balances
// change. It validates every mutation and delegates the atomic
// read-check-write to a store.BalanceStore.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/model"
	"github.com/atmx/amm-engine/internal/store"
)

// DefaultTimeout bounds a single balance store call.
const DefaultTimeout = 2 * time.Second

// Ledger applies validated balance mutations.
type Ledger struct {
	store   store.BalanceStore
	timeout time.Duration
}

// New creates a ledger over st. A non-positive timeout selects
// DefaultTimeout.
func New(st store.BalanceStore, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ledger{store: st, timeout: timeout}
}

// Modify adds amount to, or subtracts it from, the account's balance and
// returns the new balance. The account is created with a zero balance on
// first reference. A subtract that would take the balance below zero
// fails with model.ErrInsufficientFunds and changes nothing.
//
// Concurrent calls on the same account serialize; calls on different
// accounts do not block each other.
func (l *Ledger) Modify(ctx context.Context, accountID string, amount decimal.Decimal, op model.BalanceOp) (decimal.Decimal, error) {
	if accountID == "" {
		return decimal.Zero, model.ErrInvalidAccount
	}
	if !model.ValidAmount(amount) {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrInvalidAmount, amount)
	}
	if err := op.Validate(); err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	balance, err := l.store.ModifyBalance(ctx, accountID, amount, op)
	if err != nil {
		if model.IsUserError(err) {
			slog.Debug("balance modify rejected",
				"account", accountID,
				"op", string(op),
				"amount", amount.String(),
				"error", err,
			)
			return decimal.Zero, err
		}
		return decimal.Zero, persistence(err)
	}

	slog.Debug("balance modified",
		"account", accountID,
		"op", string(op),
		"amount", amount.String(),
		"balance", balance.String(),
	)
	return balance, nil
}

// Deposit credits amount to the account. It is the funding path used by
// the admin API and tests.
func (l *Ledger) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.Modify(ctx, accountID, amount, model.OpAdd)
}

// Balance returns the account, creating it at zero on first reference.
func (l *Ledger) Balance(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, model.ErrInvalidAccount
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, persistence(err)
	}
	return acct, nil
}

func persistence(err error) error {
	if errors.Is(err, model.ErrPersistenceFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrPersistenceFailure, err)
}
