// Package trade settles pool creations, buys, and sells against the
// balance ledger, the liquidity pools, and the holdings store, and
// exposes them over HTTP and WebSocket.
//
// Each settlement walks the State machine. Every applied step records a
// compensating action; any failure unwinds them in reverse. Reserve
// writes are conditional on the pool version read under the pool lock,
// and a version conflict restarts the attempt against fresh reserves.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/amm"
	"github.com/atmx/amm-engine/internal/events"
	"github.com/atmx/amm-engine/internal/ledger"
	"github.com/atmx/amm-engine/internal/lock"
	"github.com/atmx/amm-engine/internal/metrics"
	"github.com/atmx/amm-engine/internal/model"
	"github.com/atmx/amm-engine/internal/saga"
	"github.com/atmx/amm-engine/internal/store"
	"github.com/atmx/amm-engine/internal/token"
)

// Config tunes settlement. Pricing rates live in Params and are not
// read from runtime configuration.
type Config struct {
	Params         amm.Params
	MaxRetries     int           // re-attempts after a version conflict
	StoreTimeout   time.Duration // bound on every store call
	LockWait       time.Duration // bound on acquiring a pool lock
	UnwindAttempts uint          // tries per compensation
	UnwindBackoff  time.Duration // first retry interval of a compensation
}

// DefaultConfig returns production settlement settings.
func DefaultConfig() Config {
	return Config{
		Params:         amm.DefaultParams(),
		MaxRetries:     5,
		StoreTimeout:   2 * time.Second,
		LockWait:       5 * time.Second,
		UnwindAttempts: 8,
		UnwindBackoff:  50 * time.Millisecond,
	}
}

// Service settles trades. It holds no trade state of its own; all
// coordination goes through the store and the locker, so several
// instances may run against one database.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	locker lock.Locker
	pub    events.Publisher // optional
	cfg    Config
	now    func() time.Time
}

// NewService creates a settlement service. Pass nil for pub if committed
// trades need not be published.
func NewService(st store.Store, locker lock.Locker, pub events.Publisher, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = def.LockWait
	}
	if cfg.UnwindAttempts == 0 {
		cfg.UnwindAttempts = def.UnwindAttempts
	}
	if cfg.UnwindBackoff <= 0 {
		cfg.UnwindBackoff = def.UnwindBackoff
	}
	return &Service{
		store:  st,
		ledger: ledger.New(st, cfg.StoreTimeout),
		locker: locker,
		pub:    pub,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ledger returns the balance ledger the service settles against.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// BuyResult is returned from a committed buy.
type BuyResult struct {
	TradeID         string          `json:"trade_id"`
	TokensOut       decimal.Decimal `json:"tokens_out"`
	Fee             decimal.Decimal `json:"fee"`
	NewUnitPrice    decimal.Decimal `json:"new_unit_price"`
	CurrencyReserve decimal.Decimal `json:"currency_reserve"`
	TokenReserve    decimal.Decimal `json:"token_reserve"`
}

// SellResult is returned from a committed sell.
type SellResult struct {
	TradeID         string          `json:"trade_id"`
	CurrencyOut     decimal.Decimal `json:"currency_out"`
	Fee             decimal.Decimal `json:"fee"`
	NewUnitPrice    decimal.Decimal `json:"new_unit_price"`
	CurrencyReserve decimal.Decimal `json:"currency_reserve"`
	TokenReserve    decimal.Decimal `json:"token_reserve"`
}

// --- Pool creation ---

// CreatePool validates the token metadata, debits the creator deposit
// plus creation fee, and persists a new pool seeded at
// (deposit, SeedRatio × deposit).
func (s *Service) CreatePool(ctx context.Context, creatorID string, meta token.Metadata, deposit decimal.Decimal) (*model.Pool, error) {
	start := time.Now()
	pool, err := s.createPool(ctx, creatorID, meta, deposit)
	s.observe(model.DirectionCreate, start, err)
	if err != nil {
		return nil, err
	}

	metrics.ActivePools.Inc()
	s.publish(ctx, events.TradeEvent{
		Type:            events.TypePoolCreated,
		PoolID:          pool.ID,
		Symbol:          pool.Symbol,
		AccountID:       creatorID,
		Direction:       model.DirectionCreate,
		CurrencyAmount:  deposit,
		Price:           pool.Price(),
		CurrencyReserve: pool.CurrencyReserve,
		TokenReserve:    pool.TokenReserve,
		Version:         pool.Version,
		Timestamp:       pool.CreatedAt,
	})
	return pool, nil
}

func (s *Service) createPool(ctx context.Context, creatorID string, meta token.Metadata, deposit decimal.Decimal) (*model.Pool, error) {
	if creatorID == "" {
		return nil, model.ErrInvalidAccount
	}
	meta, err := token.Validate(meta)
	if err != nil {
		return nil, err
	}
	q, err := amm.InitialPool(s.cfg.Params, deposit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	pool := &model.Pool{
		ID:              uuid.New().String(),
		CreatorID:       creatorID,
		Name:            meta.Name,
		Symbol:          meta.Symbol,
		ImageRef:        meta.ImageRef,
		CurrencyReserve: q.Reserves.Currency,
		TokenReserve:    q.Reserves.Token,
		TotalSupply:     q.TotalSupply,
		Status:          model.PoolActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	t := s.begin(model.DirectionCreate, creatorID, pool.ID)

	// LedgerApplied
	t.advance(StateLedgerApplied)
	if err := s.debit(ctx, t, creatorID, q.TotalDebit); err != nil {
		return nil, t.fail(ctx, err)
	}

	// PoolApplied
	t.advance(StatePoolApplied)
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.store.CreatePool(ctx, pool)
	})
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	t.saga.Record("pool void", func(ctx context.Context) error {
		return s.withTimeout(ctx, func(ctx context.Context) error {
			return s.store.SetPoolStatus(ctx, pool.ID, model.PoolVoid)
		})
	})

	// AuditWritten
	t.advance(StateAuditWritten)
	rec := &model.TradeRecord{
		ID:              uuid.New().String(),
		PoolID:          pool.ID,
		AccountID:       creatorID,
		Direction:       model.DirectionCreate,
		CurrencyAmount:  q.Deposit,
		TokenAmount:     q.Reserves.Token,
		UnitPrice:       amm.SpotPrice(q.Reserves),
		Fee:             q.Fee,
		CurrencyReserve: q.Reserves.Currency,
		TokenReserve:    q.Reserves.Token,
		Timestamp:       now,
	}
	if err := s.audit(ctx, rec, model.FeeSourcePoolCreation); err != nil {
		return nil, t.fail(ctx, err)
	}

	t.commit(
		"deposit", q.Deposit.String(),
		"fee", q.Fee.String(),
		"symbol", pool.Symbol,
	)
	return pool, nil
}

// --- Buy ---

// Buy spends currencyIn of the account's balance on pool tokens.
func (s *Service) Buy(ctx context.Context, accountID, poolID string, currencyIn decimal.Decimal) (*BuyResult, error) {
	start := time.Now()
	res, ev, err := retry(s, poolID, func() (*BuyResult, *events.TradeEvent, error) {
		return s.buyOnce(ctx, accountID, poolID, currencyIn)
	})
	s.observe(model.DirectionBuy, start, err)
	if err != nil {
		return nil, err
	}
	metrics.PoolVolume.WithLabelValues(poolID, string(model.DirectionBuy)).Add(currencyIn.InexactFloat64())
	s.publish(ctx, *ev)
	return res, nil
}

func (s *Service) buyOnce(ctx context.Context, accountID, poolID string, currencyIn decimal.Decimal) (*BuyResult, *events.TradeEvent, error) {
	t := s.begin(model.DirectionBuy, accountID, poolID)

	// Validating
	if accountID == "" {
		return nil, nil, t.reject(model.ErrInvalidAccount)
	}
	if !model.ValidAmount(currencyIn) {
		return nil, nil, t.reject(fmt.Errorf("%w: %s", model.ErrInvalidAmount, currencyIn))
	}
	if currencyIn.LessThan(s.cfg.Params.MinBuy) {
		return nil, nil, t.reject(fmt.Errorf("%w: buy %s < %s", model.ErrBelowMinimum, currencyIn, s.cfg.Params.MinBuy))
	}
	if _, err := s.activePool(ctx, poolID); err != nil {
		return nil, nil, t.reject(err)
	}

	// PoolLocked
	t.advance(StatePoolLocked)
	release, err := s.lockPool(ctx, poolID)
	if err != nil {
		return nil, nil, t.reject(err)
	}
	defer release()

	pool, err := s.activePool(ctx, poolID)
	if err != nil {
		return nil, nil, t.reject(err)
	}

	// Priced
	t.advance(StatePriced)
	q, err := amm.ComputeBuy(s.cfg.Params, reservesOf(pool), currencyIn)
	if err != nil {
		return nil, nil, t.reject(err)
	}

	// LedgerApplied: the atomic debit is the live funds check.
	t.advance(StateLedgerApplied)
	if err := s.debit(ctx, t, accountID, currencyIn); err != nil {
		return nil, nil, t.fail(ctx, err)
	}

	// PoolApplied
	t.advance(StatePoolApplied)
	version, err := s.writeReserves(ctx, t, pool, q.After)
	if err != nil {
		return nil, nil, t.fail(ctx, err)
	}

	// HoldingsApplied
	t.advance(StateHoldingsApplied)
	if err := s.adjustHolding(ctx, t, accountID, poolID, q.TokensOut); err != nil {
		return nil, nil, t.fail(ctx, err)
	}

	// AuditWritten
	t.advance(StateAuditWritten)
	rec := &model.TradeRecord{
		ID:              uuid.New().String(),
		PoolID:          poolID,
		AccountID:       accountID,
		Direction:       model.DirectionBuy,
		CurrencyAmount:  currencyIn,
		TokenAmount:     q.TokensOut,
		UnitPrice:       q.UnitPrice,
		Fee:             q.Fee,
		CurrencyReserve: q.After.Currency,
		TokenReserve:    q.After.Token,
		Timestamp:       s.now(),
	}
	if err := s.audit(ctx, rec, model.FeeSourceBuy); err != nil {
		return nil, nil, t.fail(ctx, err)
	}

	newPrice := amm.SpotPrice(q.After)
	t.commit(
		"trade_id", rec.ID,
		"currency_in", currencyIn.String(),
		"tokens_out", q.TokensOut.String(),
		"fee", q.Fee.String(),
		"new_price", newPrice.String(),
		"version", version,
	)

	res := &BuyResult{
		TradeID:         rec.ID,
		TokensOut:       q.TokensOut,
		Fee:             q.Fee,
		NewUnitPrice:    newPrice,
		CurrencyReserve: q.After.Currency,
		TokenReserve:    q.After.Token,
	}
	return res, tradeEvent(rec, pool.Symbol, newPrice, version), nil
}

// --- Sell ---

// Sell returns tokensIn of the account's holding to the pool for currency.
func (s *Service) Sell(ctx context.Context, accountID, poolID string, tokensIn decimal.Decimal) (*SellResult, error) {
	start := time.Now()
	res, ev, err := retry(s, poolID, func() (*SellResult, *events.TradeEvent, error) {
		return s.sellOnce(ctx, accountID, poolID, tokensIn)
	})
	s.observe(model.DirectionSell, start, err)
	if err != nil {
		return nil, err
	}
	metrics.PoolVolume.WithLabelValues(poolID, string(model.DirectionSell)).Add(res.CurrencyOut.InexactFloat64())
	s.publish(ctx, *ev)
	return res, nil
}

// sellOnce updates the pool before crediting the seller, so a failed
// reserve write never needs a credit clawed back.
func (s *Service) sellOnce(ctx context.Context, accountID, poolID string, tokensIn decimal.Decimal) (*SellResult, *events.TradeEvent, error) {
	t := s.begin(model.DirectionSell, accountID, poolID)

	// Validating
	if accountID == "" {
		return nil, nil, t.reject(model.ErrInvalidAccount)
	}
	if !model.ValidAmount(tokensIn) {
		return nil, nil, t.reject(fmt.Errorf("%w: %s", model.ErrInvalidAmount, tokensIn))
	}
	if _, err := s.activePool(ctx, poolID); err != nil {
		return nil, nil, t.reject(err)
	}

	// PoolLocked
	t.advance(StatePoolLocked)
	release, err := s.lockPool(ctx, poolID)
	if err != nil {
		return nil, nil, t.reject(err)
	}
	defer release()

	pool, err := s.activePool(ctx, poolID)
	if err != nil {
		return nil, nil, t.reject(err)
	}

	// The holdings check precedes any mutation.
	var held *model.Holding
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		held, err = s.store.GetHolding(ctx, accountID, poolID)
		return err
	})
	if err != nil {
		return nil, nil, t.fail(ctx, err)
	}
	if held.Quantity.LessThan(tokensIn) {
		return nil, nil, t.reject(fmt.Errorf("%w: holding %s, selling %s",
			model.ErrInsufficientHoldings, held.Quantity, tokensIn))
	}

	// Priced
	t.advance(StatePriced)
	q, err := amm.ComputeSell(s.cfg.Params, reservesOf(pool), tokensIn)
	if err != nil {
		return nil, nil, t.reject(err)
	}

	// PoolApplied
	t.advance(StatePoolApplied)
	version, err := s.writeReserves(ctx, t, pool, q.After)
	if err != nil {
		return nil, nil, t.fail(ctx, err)
	}

	// HoldingsApplied
	t.advance(StateHoldingsApplied)
	if err := s.adjustHolding(ctx, t, accountID, poolID, tokensIn.Neg()); err != nil {
		return nil, nil, t.fail(ctx, err)
	}

	// LedgerApplied
	t.advance(StateLedgerApplied)
	if err := s.credit(ctx, t, accountID, q.CurrencyOutNet); err != nil {
		return nil, nil, t.fail(ctx, err)
	}

	// AuditWritten
	t.advance(StateAuditWritten)
	rec := &model.TradeRecord{
		ID:              uuid.New().String(),
		PoolID:          poolID,
		AccountID:       accountID,
		Direction:       model.DirectionSell,
		CurrencyAmount:  q.CurrencyOutNet,
		TokenAmount:     tokensIn,
		UnitPrice:       q.UnitPrice,
		Fee:             q.Fee(),
		CurrencyReserve: q.After.Currency,
		TokenReserve:    q.After.Token,
		Timestamp:       s.now(),
	}
	if err := s.audit(ctx, rec, model.FeeSourceSell); err != nil {
		return nil, nil, t.fail(ctx, err)
	}

	newPrice := amm.SpotPrice(q.After)
	t.commit(
		"trade_id", rec.ID,
		"tokens_in", tokensIn.String(),
		"currency_out", q.CurrencyOutNet.String(),
		"amm_fee", q.AMMFee.String(),
		"platform_fee", q.PlatformFee.String(),
		"new_price", newPrice.String(),
		"version", version,
	)

	res := &SellResult{
		TradeID:         rec.ID,
		CurrencyOut:     q.CurrencyOutNet,
		Fee:             q.Fee(),
		NewUnitPrice:    newPrice,
		CurrencyReserve: q.After.Currency,
		TokenReserve:    q.After.Token,
	}
	return res, tradeEvent(rec, pool.Symbol, newPrice, version), nil
}

// SyncActivePools sets the active-pools gauge from the store's current
// pools. Called once at startup; CreatePool keeps it current afterwards.
func (s *Service) SyncActivePools(ctx context.Context) error {
	var pools []model.Pool
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		pools, err = s.store.ListPools(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}

	n := 0
	for _, p := range pools {
		if p.Status == model.PoolActive {
			n++
		}
	}
	metrics.ActivePools.Set(float64(n))
	return nil
}

// --- Quotes ---

// QuoteBuy prices a buy against the pool's current reserves without
// settling it.
func (s *Service) QuoteBuy(ctx context.Context, poolID string, currencyIn decimal.Decimal) (amm.BuyQuote, error) {
	pool, err := s.activePool(ctx, poolID)
	if err != nil {
		return amm.BuyQuote{}, err
	}
	return amm.ComputeBuy(s.cfg.Params, reservesOf(pool), currencyIn)
}

// QuoteSell prices a sell against the pool's current reserves without
// settling it.
func (s *Service) QuoteSell(ctx context.Context, poolID string, tokensIn decimal.Decimal) (amm.SellQuote, error) {
	pool, err := s.activePool(ctx, poolID)
	if err != nil {
		return amm.SellQuote{}, err
	}
	return amm.ComputeSell(s.cfg.Params, reservesOf(pool), tokensIn)
}

// --- Settlement steps ---

// retry runs attempt until it commits or fails for a reason other than a
// pool version conflict, at most MaxRetries+1 times.
func retry[R any](s *Service, poolID string, attempt func() (*R, *events.TradeEvent, error)) (*R, *events.TradeEvent, error) {
	var lastErr error
	for i := 0; i <= s.cfg.MaxRetries; i++ {
		res, ev, err := attempt()
		if !errors.Is(err, model.ErrVersionConflict) {
			return res, ev, err
		}
		lastErr = err
		metrics.OptimisticRetries.Inc()
		slog.Info("pool version conflict, retrying",
			"pool_id", poolID,
			"attempt", i+1,
			"error", err,
		)
	}
	return nil, nil, fmt.Errorf("%w: pool %s after %d attempts: %w",
		model.ErrConcurrentModification, poolID, s.cfg.MaxRetries+1, lastErr)
}

func (s *Service) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

// activePool reads a pool and requires it to be tradeable.
func (s *Service) activePool(ctx context.Context, poolID string) (*model.Pool, error) {
	var pool *model.Pool
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		pool, err = s.store.GetPool(ctx, poolID)
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrPoolNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read pool %s: %w", model.ErrPersistenceFailure, poolID, err)
	}
	if pool.Status != model.PoolActive {
		return nil, fmt.Errorf("%w: %s is %s", model.ErrPoolInactive, poolID, pool.Status)
	}
	return pool, nil
}

func (s *Service) lockPool(ctx context.Context, poolID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()

	release, err := s.locker.Acquire(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrConcurrentModification, err)
	}
	return release, nil
}

func (s *Service) debit(ctx context.Context, t *settlement, accountID string, amount decimal.Decimal) error {
	if _, err := s.ledger.Modify(ctx, accountID, amount, model.OpSubtract); err != nil {
		return err
	}
	t.saga.Record("ledger debit", func(ctx context.Context) error {
		_, err := s.ledger.Modify(ctx, accountID, amount, model.OpAdd)
		return err
	})
	return nil
}

func (s *Service) credit(ctx context.Context, t *settlement, accountID string, amount decimal.Decimal) error {
	if _, err := s.ledger.Modify(ctx, accountID, amount, model.OpAdd); err != nil {
		return err
	}
	t.saga.Record("ledger credit", func(ctx context.Context) error {
		_, err := s.ledger.Modify(ctx, accountID, amount, model.OpSubtract)
		return err
	})
	return nil
}

// writeReserves applies the new reserves conditionally on the snapshot's
// version and returns the new version.
func (s *Service) writeReserves(ctx context.Context, t *settlement, snapshot *model.Pool, after amm.Reserves) (int64, error) {
	var version int64
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		version, err = s.store.UpdateReserves(ctx, snapshot.ID, snapshot.Version, after.Currency, after.Token)
		return err
	})
	if err != nil {
		return 0, err
	}

	before := reservesOf(snapshot)
	t.saga.Record("pool reserves", func(ctx context.Context) error {
		return s.restoreReserves(ctx, snapshot.ID, version, before, after)
	})
	return version, nil
}

// restoreReserves undoes a reserve write. If the pool is still at the
// version that write produced, the snapshot is restored exactly;
// otherwise only this write's delta is taken back out.
func (s *Service) restoreReserves(ctx context.Context, poolID string, written int64, before, after amm.Reserves) error {
	return s.withTimeout(ctx, func(ctx context.Context) error {
		_, err := s.store.UpdateReserves(ctx, poolID, written, before.Currency, before.Token)
		if !errors.Is(err, model.ErrVersionConflict) {
			return err
		}

		current, err := s.store.GetPool(ctx, poolID)
		if err != nil {
			return err
		}
		currency := current.CurrencyReserve.Sub(after.Currency.Sub(before.Currency))
		tok := current.TokenReserve.Sub(after.Token.Sub(before.Token))
		_, err = s.store.UpdateReserves(ctx, poolID, current.Version, currency, tok)
		return err
	})
}

func (s *Service) adjustHolding(ctx context.Context, t *settlement, accountID, poolID string, delta decimal.Decimal) error {
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		_, err := s.store.AdjustHolding(ctx, accountID, poolID, delta)
		return err
	})
	if err != nil {
		return err
	}
	t.saga.Record("holding", func(ctx context.Context) error {
		return s.withTimeout(ctx, func(ctx context.Context) error {
			_, err := s.store.AdjustHolding(ctx, accountID, poolID, delta.Neg())
			return err
		})
	})
	return nil
}

// audit appends the trade record and its fee accrual. It is the last
// step; nothing after it can fail, so it records no compensation.
func (s *Service) audit(ctx context.Context, rec *model.TradeRecord, feeSource string) error {
	var fee *model.FeeAccrual
	if rec.Fee.IsPositive() {
		fee = &model.FeeAccrual{
			ID:        uuid.New().String(),
			AccountID: rec.AccountID,
			PoolID:    rec.PoolID,
			Amount:    rec.Fee,
			Source:    feeSource,
			Timestamp: rec.Timestamp,
		}
	}
	return s.withTimeout(ctx, func(ctx context.Context) error {
		return s.store.InsertTrade(ctx, rec, fee)
	})
}

// publish hands a committed event to the publisher. Failures are logged;
// the trade stays committed.
func (s *Service) publish(ctx context.Context, ev events.TradeEvent) {
	if s.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.pub.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed",
			"type", ev.Type,
			"trade_id", ev.TradeID,
			"pool_id", ev.PoolID,
			"error", err,
		)
	}
}

func (s *Service) observe(dir model.Direction, start time.Time, err error) {
	if err != nil {
		metrics.TradeRejections.WithLabelValues(string(dir), reason(err)).Inc()
		return
	}
	metrics.TradesTotal.WithLabelValues(string(dir)).Inc()
	metrics.TradeLatency.WithLabelValues(string(dir)).Observe(time.Since(start).Seconds())
}

func reservesOf(p *model.Pool) amm.Reserves {
	return amm.Reserves{Currency: p.CurrencyReserve, Token: p.TokenReserve}
}

func tradeEvent(rec *model.TradeRecord, symbol string, price decimal.Decimal, version int64) *events.TradeEvent {
	return &events.TradeEvent{
		Type:            events.TypeTradeExecuted,
		TradeID:         rec.ID,
		PoolID:          rec.PoolID,
		Symbol:          symbol,
		AccountID:       rec.AccountID,
		Direction:       rec.Direction,
		CurrencyAmount:  rec.CurrencyAmount,
		TokenAmount:     rec.TokenAmount,
		Fee:             rec.Fee,
		Price:           price,
		CurrencyReserve: rec.CurrencyReserve,
		TokenReserve:    rec.TokenReserve,
		Version:         version,
		Timestamp:       rec.Timestamp,
	}
}

// reasons maps error kinds to low-cardinality metric labels.
var reasons = []struct {
	err   error
	label string
}{
	{model.ErrPoolNotFound, "pool_not_found"},
	{model.ErrPoolInactive, "pool_inactive"},
	{model.ErrBelowMinimum, "below_minimum"},
	{model.ErrBelowMinimumOutput, "below_minimum_output"},
	{model.ErrBelowMinimumLiquidity, "below_minimum_liquidity"},
	{model.ErrInsufficientFunds, "insufficient_funds"},
	{model.ErrInsufficientHoldings, "insufficient_holdings"},
	{model.ErrZeroOutput, "zero_output"},
	{model.ErrConcurrentModification, "concurrent_modification"},
	{model.ErrPersistenceFailure, "persistence_failure"},
}

func reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	if model.IsUserError(err) {
		return "invalid_input"
	}
	return "internal"
}

// --- Attempt bookkeeping ---

// settlement tracks one attempt: its state, its compensations, and a
// logger carrying the attempt's identity.
type settlement struct {
	state State
	saga  *saga.Saga
	log   *slog.Logger
}

func (s *Service) begin(dir model.Direction, accountID, poolID string) *settlement {
	return &settlement{
		state: StateValidating,
		saga:  saga.New(s.cfg.UnwindAttempts, s.cfg.UnwindBackoff),
		log: slog.With(
			"direction", string(dir),
			"account", accountID,
			"pool_id", poolID,
		),
	}
}

func (t *settlement) advance(next State) {
	t.log.Debug("settlement state", "from", t.state.String(), "to", next.String())
	t.state = next
}

func (t *settlement) commit(args ...any) {
	t.advance(StateCommitted)
	t.log.Info("settlement committed", args...)
}

// reject ends an attempt that has applied nothing.
func (t *settlement) reject(err error) error {
	t.log.Debug("settlement rejected", "state", t.state.String(), "error", err)
	t.state = StateRolledBack
	return err
}

// fail unwinds every applied step and classifies the error. User errors
// and version conflicts are returned as they are once the rollback
// completed; anything else is a persistence failure. A rollback that
// cannot complete is an integrity alarm.
func (t *settlement) fail(ctx context.Context, cause error) error {
	failedAt := t.state
	applied := t.saga.Len()

	if applied > 0 {
		metrics.Rollbacks.Inc()
		if err := t.saga.Unwind(ctx); err != nil {
			t.state = StateRolledBack
			metrics.IntegrityAlarms.Inc()
			t.log.Error("settlement rollback incomplete",
				"state", failedAt.String(),
				"cause", cause,
				"error", err,
				"integrity_risk", true,
			)
			return fmt.Errorf("%w: rollback after %s incomplete: %w",
				model.ErrPersistenceFailure, failedAt, errors.Join(cause, err))
		}
	}
	t.state = StateRolledBack

	switch {
	case model.IsUserError(cause), errors.Is(cause, model.ErrVersionConflict):
		t.log.Debug("settlement rolled back",
			"state", failedAt.String(),
			"steps_undone", applied,
			"error", cause,
		)
		return cause
	case errors.Is(cause, model.ErrPersistenceFailure):
	default:
		cause = fmt.Errorf("%w: %w", model.ErrPersistenceFailure, cause)
	}
	t.log.Error("settlement failed, rolled back",
		"state", failedAt.String(),
		"steps_undone", applied,
		"error", cause,
		"integrity_risk", true,
	)
	return cause
}
