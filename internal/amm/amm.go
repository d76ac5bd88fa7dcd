// Package amm implements the constant-product automated market maker that
// prices trades between the platform currency and a pool's token.
//
// The invariant is k = currencyReserve × tokenReserve. Every function here
// is pure: reserves are passed in and new reserves are returned, nothing is
// stored.
//
// Rounding policy:
//   - Reserve quotients are computed at ReserveScale places and rounded
//     toward the pool, so rounding can only grow k.
//   - Amounts credited to an account (tokens out, currency out) are
//     truncated toward zero at AmountScale places, and the new reserves are
//     derived from the truncated amount.
//
// All monetary values use shopspring/decimal, never float64.
package amm

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/model"
)

// ErrInvalidReserves is returned when a pool snapshot has a non-positive
// reserve.
var ErrInvalidReserves = errors.New("amm: reserves must be positive")

const (
	// ReserveScale is the number of decimal places kept on reserves and
	// fees.
	ReserveScale = model.ReserveScale

	// AmountScale is the number of decimal places of any amount moved
	// into or out of an account.
	AmountScale = model.AmountScale
)

// Params holds the fee rates and minimums of the market. They are
// constants of the deployment, not runtime-tunable.
type Params struct {
	AMMFeeRate      decimal.Decimal // withheld on buy input and sell output
	PlatformFeeRate decimal.Decimal // withheld on sell output after the AMM fee
	CreationFeeRate decimal.Decimal // charged on the initial deposit
	MinLiquidity    decimal.Decimal // minimum initial deposit
	MinBuy          decimal.Decimal // minimum currency in
	MinSellOutput   decimal.Decimal // minimum net currency out
	SeedRatio       decimal.Decimal // initial tokens per deposited currency unit
	TotalSupply     decimal.Decimal // display-only supply recorded on the pool
}

// DefaultParams returns the production rates and minimums.
func DefaultParams() Params {
	return Params{
		AMMFeeRate:      decimal.RequireFromString("0.003"),
		PlatformFeeRate: decimal.RequireFromString("0.005"),
		CreationFeeRate: decimal.RequireFromString("0.005"),
		MinLiquidity:    decimal.NewFromInt(100),
		MinBuy:          decimal.NewFromInt(10),
		MinSellOutput:   decimal.NewFromInt(10),
		SeedRatio:       decimal.NewFromInt(2),
		TotalSupply:     decimal.NewFromInt(1_000_000),
	}
}

// Reserves is a snapshot of a pool's two sides.
type Reserves struct {
	Currency decimal.Decimal `json:"currency"`
	Token    decimal.Decimal `json:"token"`
}

// Product returns k for the snapshot.
func (r Reserves) Product() decimal.Decimal {
	return r.Currency.Mul(r.Token)
}

func (r Reserves) validate() error {
	if !r.Currency.IsPositive() || !r.Token.IsPositive() {
		return fmt.Errorf("%w: currency=%s token=%s", ErrInvalidReserves, r.Currency, r.Token)
	}
	return nil
}

// SpotPrice returns the marginal price of one token.
func SpotPrice(r Reserves) decimal.Decimal {
	if !r.Token.IsPositive() {
		return decimal.Zero
	}
	return r.Currency.DivRound(r.Token, ReserveScale)
}

// CreationQuote is the result of pricing a pool's initial deposit.
type CreationQuote struct {
	Deposit     decimal.Decimal `json:"deposit"`
	Fee         decimal.Decimal `json:"fee"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	Reserves    Reserves        `json:"reserves"`
	TotalSupply decimal.Decimal `json:"total_supply"`
}

// InitialPool prices a pool creation: the creator pays deposit plus the
// creation fee, and the token side is seeded at SeedRatio × deposit.
func InitialPool(p Params, deposit decimal.Decimal) (CreationQuote, error) {
	if !model.ValidAmount(deposit) {
		return CreationQuote{}, fmt.Errorf("%w: %s", model.ErrInvalidAmount, deposit)
	}
	if deposit.LessThan(p.MinLiquidity) {
		return CreationQuote{}, fmt.Errorf("%w: deposit %s < %s",
			model.ErrBelowMinimumLiquidity, deposit, p.MinLiquidity)
	}

	fee := deposit.Mul(p.CreationFeeRate).Truncate(AmountScale)
	return CreationQuote{
		Deposit:    deposit,
		Fee:        fee,
		TotalDebit: deposit.Add(fee),
		Reserves: Reserves{
			Currency: deposit,
			Token:    deposit.Mul(p.SeedRatio),
		},
		TotalSupply: p.TotalSupply,
	}, nil
}

// BuyQuote is the priced outcome of spending currency on tokens.
type BuyQuote struct {
	CurrencyIn         decimal.Decimal `json:"currency_in"`
	Fee                decimal.Decimal `json:"fee"`
	CurrencyInAfterFee decimal.Decimal `json:"currency_in_after_fee"`
	TokensOut          decimal.Decimal `json:"tokens_out"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Before             Reserves        `json:"before"`
	After              Reserves        `json:"after"`
}

// ComputeBuy prices a buy of currencyIn against r:
//
//	fee       = currencyIn × AMMFeeRate  (exact: AmountScale + 3 places)
//	C'        = C + (currencyIn − fee)
//	T'        = k / C'                (rounded up)
//	tokensOut = T − T'                (truncated)
func ComputeBuy(p Params, r Reserves, currencyIn decimal.Decimal) (BuyQuote, error) {
	if !model.ValidAmount(currencyIn) {
		return BuyQuote{}, fmt.Errorf("%w: %s", model.ErrInvalidAmount, currencyIn)
	}
	if currencyIn.LessThan(p.MinBuy) {
		return BuyQuote{}, fmt.Errorf("%w: buy %s < %s", model.ErrBelowMinimum, currencyIn, p.MinBuy)
	}
	if err := r.validate(); err != nil {
		return BuyQuote{}, err
	}

	fee := currencyIn.Mul(p.AMMFeeRate)
	afterFee := currencyIn.Sub(fee)

	k := r.Product()
	newCurrency := r.Currency.Add(afterFee)
	tokensOut := r.Token.Sub(divUp(k, newCurrency)).Truncate(AmountScale)
	if !tokensOut.IsPositive() {
		return BuyQuote{}, fmt.Errorf("%w: buy %s yields %s tokens", model.ErrZeroOutput, currencyIn, tokensOut)
	}

	return BuyQuote{
		CurrencyIn:         currencyIn,
		Fee:                fee,
		CurrencyInAfterFee: afterFee,
		TokensOut:          tokensOut,
		UnitPrice:          currencyIn.DivRound(tokensOut, ReserveScale),
		Before:             r,
		After: Reserves{
			Currency: newCurrency,
			Token:    r.Token.Sub(tokensOut),
		},
	}, nil
}

// SellQuote is the priced outcome of selling tokens for currency.
type SellQuote struct {
	TokensIn            decimal.Decimal `json:"tokens_in"`
	CurrencyOutGross    decimal.Decimal `json:"currency_out_gross"`
	AMMFee              decimal.Decimal `json:"amm_fee"`
	CurrencyOutAfterAMM decimal.Decimal `json:"currency_out_after_amm"`
	PlatformFee         decimal.Decimal `json:"platform_fee"`
	CurrencyOutNet      decimal.Decimal `json:"currency_out_net"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Before              Reserves        `json:"before"`
	After               Reserves        `json:"after"`
}

// Fee returns the total withheld from the seller.
func (q SellQuote) Fee() decimal.Decimal {
	return q.AMMFee.Add(q.PlatformFee)
}

// ComputeSell prices a sell of tokensIn against r:
//
//	T'          = T + tokensIn
//	C'          = k / T'              (rounded up)
//	gross       = C − C'
//	ammFee      = gross × AMMFeeRate     (truncated at ReserveScale)
//	platformFee = (gross − ammFee) × PlatformFeeRate
//	net         = gross − ammFee − platformFee  (truncated)
//
// The truncation remainder is added to platformFee so that
// gross − ammFee − platformFee == net exactly.
func ComputeSell(p Params, r Reserves, tokensIn decimal.Decimal) (SellQuote, error) {
	if !model.ValidAmount(tokensIn) {
		return SellQuote{}, fmt.Errorf("%w: %s", model.ErrInvalidAmount, tokensIn)
	}
	if err := r.validate(); err != nil {
		return SellQuote{}, err
	}

	k := r.Product()
	newToken := r.Token.Add(tokensIn)
	newCurrency := divUp(k, newToken)
	gross := r.Currency.Sub(newCurrency)

	ammFee := gross.Mul(p.AMMFeeRate).Truncate(ReserveScale)
	afterAMM := gross.Sub(ammFee)
	net := afterAMM.Sub(afterAMM.Mul(p.PlatformFeeRate)).Truncate(AmountScale)
	platformFee := afterAMM.Sub(net)

	if net.LessThan(p.MinSellOutput) {
		return SellQuote{}, fmt.Errorf("%w: sell yields %s < %s", model.ErrBelowMinimumOutput, net, p.MinSellOutput)
	}
	if !net.IsPositive() {
		return SellQuote{}, fmt.Errorf("%w: sell %s tokens yields %s", model.ErrZeroOutput, tokensIn, net)
	}

	return SellQuote{
		TokensIn:            tokensIn,
		CurrencyOutGross:    gross,
		AMMFee:              ammFee,
		CurrencyOutAfterAMM: afterAMM,
		PlatformFee:         platformFee,
		CurrencyOutNet:      net,
		UnitPrice:           afterAMM.DivRound(tokensIn, ReserveScale),
		Before:              r,
		After: Reserves{
			Currency: newCurrency,
			Token:    newToken,
		},
	}, nil
}

// divUp returns a/b at ReserveScale places, rounded up.
func divUp(a, b decimal.Decimal) decimal.Decimal {
	q := a.DivRound(b, ReserveScale)
	if q.Mul(b).LessThan(a) {
		q = q.Add(decimal.New(1, -ReserveScale))
	}
	return q
}
