// Package events carries committed settlements to downstream consumers.
// Publishing happens after commit and never affects the outcome of a
// trade.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/model"
)

// Event types.
const (
	TypePoolCreated   = "pool_created"
	TypeTradeExecuted = "trade_executed"
)

// TradeEvent describes one committed pool creation, buy, or sell.
type TradeEvent struct {
	Type            string          `json:"type"`
	TradeID         string          `json:"trade_id"`
	PoolID          string          `json:"pool_id"`
	Symbol          string          `json:"symbol"`
	AccountID       string          `json:"account_id"`
	Direction       model.Direction `json:"direction"`
	CurrencyAmount  decimal.Decimal `json:"currency_amount"`
	TokenAmount     decimal.Decimal `json:"token_amount"`
	Fee             decimal.Decimal `json:"fee"`
	Price           decimal.Decimal `json:"price"`
	CurrencyReserve decimal.Decimal `json:"currency_reserve"`
	TokenReserve    decimal.Decimal `json:"token_reserve"`
	Version         int64           `json:"version"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev TradeEvent) error
}

// Fanout publishes every event to all of its publishers, reporting every
// failure.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev TradeEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
