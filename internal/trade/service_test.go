package trade_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/amm-engine/internal/amm"
	"github.com/atmx/amm-engine/internal/events"
	"github.com/atmx/amm-engine/internal/lock"
	"github.com/atmx/amm-engine/internal/model"
	"github.com/atmx/amm-engine/internal/saga"
	"github.com/atmx/amm-engine/internal/store"
	"github.com/atmx/amm-engine/internal/token"
	"github.com/atmx/amm-engine/internal/trade"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() trade.Config {
	cfg := trade.DefaultConfig()
	cfg.UnwindAttempts = 3
	cfg.UnwindBackoff = time.Millisecond
	return cfg
}

func newService(st store.Store) *trade.Service {
	return trade.NewService(st, lock.NewLocalLocker(), nil, testConfig())
}

func fund(t *testing.T, svc *trade.Service, account, amount string) {
	t.Helper()
	_, err := svc.Ledger().Deposit(context.Background(), account, d(amount))
	require.NoError(t, err)
}

func balance(t *testing.T, st store.Store, account string) decimal.Decimal {
	t.Helper()
	acct, err := st.GetAccount(context.Background(), account)
	require.NoError(t, err)
	return acct.Balance
}

func holding(t *testing.T, st store.Store, account, poolID string) decimal.Decimal {
	t.Helper()
	h, err := st.GetHolding(context.Background(), account, poolID)
	require.NoError(t, err)
	return h.Quantity
}

func pool(t *testing.T, st store.Store, poolID string) *model.Pool {
	t.Helper()
	p, err := st.GetPool(context.Background(), poolID)
	require.NoError(t, err)
	return p
}

var testToken = token.Metadata{Name: "Mani Coin", Symbol: "mani", ImageRef: "https://img.example.com/mani.png"}

// seedPool funds the creator and creates a pool with a 1000 deposit,
// leaving reserves at (1000, 2000).
func seedPool(t *testing.T, svc *trade.Service) *model.Pool {
	t.Helper()
	fund(t, svc, "creator", "1005")
	p, err := svc.CreatePool(context.Background(), "creator", testToken, d("1000"))
	require.NoError(t, err)
	return p
}

// --- Pool creation ---

// Scenario A.
func TestCreatePool_SeedsReservesAndChargesFee(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	fund(t, svc, "alice", "2000")

	p, err := svc.CreatePool(context.Background(), "alice", testToken, d("1000"))
	require.NoError(t, err)

	assert.True(t, p.CurrencyReserve.Equal(d("1000")))
	assert.True(t, p.TokenReserve.Equal(d("2000")))
	assert.True(t, p.TotalSupply.Equal(d("1000000")))
	assert.Equal(t, "MANI", p.Symbol)
	assert.Equal(t, model.PoolActive, p.Status)
	assert.Equal(t, int64(1), p.Version)
	assert.True(t, balance(t, ms, "alice").Equal(d("995")), "creator debited deposit + 5 fee")

	fees, _ := ms.ListFeesByAccount(context.Background(), "alice")
	require.Len(t, fees, 1)
	assert.Equal(t, model.FeeSourcePoolCreation, fees[0].Source)
	assert.True(t, fees[0].Amount.Equal(d("5")))

	records, _ := ms.ListTradesByPool(context.Background(), p.ID)
	require.Len(t, records, 1)
	assert.Equal(t, model.DirectionCreate, records[0].Direction)
}

func TestCreatePool_Rejections(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	fund(t, svc, "alice", "500")
	ctx := context.Background()

	_, err := svc.CreatePool(ctx, "alice", testToken, d("99"))
	assert.ErrorIs(t, err, model.ErrBelowMinimumLiquidity)

	_, err = svc.CreatePool(ctx, "alice", testToken, d("1000"))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = svc.CreatePool(ctx, "alice", token.Metadata{Name: "x", Symbol: "$$"}, d("100"))
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = svc.CreatePool(ctx, "", testToken, d("100"))
	assert.ErrorIs(t, err, model.ErrInvalidAccount)

	pools, _ := ms.ListPools(ctx)
	assert.Empty(t, pools)
	assert.True(t, balance(t, ms, "alice").Equal(d("500")))
}

// failingAudit fails InsertTrade for one direction.
type failingAudit struct {
	*store.MemoryStore
	direction model.Direction
}

func (s failingAudit) InsertTrade(ctx context.Context, rec *model.TradeRecord, fee *model.FeeAccrual) error {
	if rec.Direction == s.direction {
		return errors.New("disk full")
	}
	return s.MemoryStore.InsertTrade(ctx, rec, fee)
}

func TestCreatePool_AuditFailureVoidsPoolAndRefunds(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(failingAudit{ms, model.DirectionCreate})
	fund(t, svc, "alice", "2000")

	_, err := svc.CreatePool(context.Background(), "alice", testToken, d("1000"))
	assert.ErrorIs(t, err, model.ErrPersistenceFailure)

	assert.True(t, balance(t, ms, "alice").Equal(d("2000")))
	pools, _ := ms.ListPools(context.Background())
	require.Len(t, pools, 1)
	assert.Equal(t, model.PoolVoid, pools[0].Status)

	_, err = svc.Buy(context.Background(), "alice", pools[0].ID, d("100"))
	assert.ErrorIs(t, err, model.ErrPoolInactive)
}

// --- Buy ---

// Scenario B.
func TestBuy_ReferenceTrade(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	p := seedPool(t, svc)
	fund(t, svc, "bob", "1000")

	res, err := svc.Buy(context.Background(), "bob", p.ID, d("100"))
	require.NoError(t, err)

	assert.True(t, res.Fee.Equal(d("0.3")), "fee %s", res.Fee)
	assert.True(t, res.TokensOut.Equal(d("181.32217877")), "tokens out %s", res.TokensOut)
	assert.True(t, res.CurrencyReserve.Equal(d("1099.7")))
	assert.True(t, res.TokenReserve.Equal(d("1818.67782123")))
	assert.True(t, res.NewUnitPrice.Equal(amm.SpotPrice(amm.Reserves{Currency: res.CurrencyReserve, Token: res.TokenReserve})))

	// Debited exactly currency_in.
	assert.True(t, balance(t, ms, "bob").Equal(d("900")))
	assert.True(t, holding(t, ms, "bob", p.ID).Equal(res.TokensOut))

	after := pool(t, ms, p.ID)
	assert.True(t, after.CurrencyReserve.Equal(d("1099.7")))
	assert.Equal(t, int64(2), after.Version)
	assert.True(t, after.Product().GreaterThanOrEqual(p.Product()))

	records, _ := ms.ListTradesByAccount(context.Background(), "bob")
	require.Len(t, records, 1)
	assert.Equal(t, res.TradeID, records[0].ID)
	assert.True(t, records[0].CurrencyReserve.Equal(d("1099.7")), "record stores post-trade reserves")

	fees, _ := ms.ListFeesByAccount(context.Background(), "bob")
	require.Len(t, fees, 1)
	assert.Equal(t, model.FeeSourceBuy, fees[0].Source)
	assert.True(t, fees[0].Amount.Equal(d("0.3")))
}

func TestBuy_InsufficientFundsChangesNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	p := seedPool(t, svc)
	fund(t, svc, "carol", "50")

	_, err := svc.Buy(context.Background(), "carol", p.ID, d("100"))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	after := pool(t, ms, p.ID)
	assert.Equal(t, p.Version, after.Version)
	assert.True(t, after.CurrencyReserve.Equal(p.CurrencyReserve))
	assert.True(t, after.TokenReserve.Equal(p.TokenReserve))
	assert.True(t, balance(t, ms, "carol").Equal(d("50")))
	assert.True(t, holding(t, ms, "carol", p.ID).IsZero())

	records, _ := ms.ListTradesByAccount(context.Background(), "carol")
	assert.Empty(t, records)
}

func TestBuy_Rejections(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	p := seedPool(t, svc)
	fund(t, svc, "bob", "1000")
	ctx := context.Background()

	_, err := svc.Buy(ctx, "bob", "no-such-pool", d("100"))
	assert.ErrorIs(t, err, model.ErrPoolNotFound)

	_, err = svc.Buy(ctx, "bob", p.ID, d("9.99"))
	assert.ErrorIs(t, err, model.ErrBelowMinimum)

	_, err = svc.Buy(ctx, "bob", p.ID, d("0"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = svc.Buy(ctx, "", p.ID, d("100"))
	assert.ErrorIs(t, err, model.ErrInvalidAccount)

	_, err = svc.Buy(ctx, "bob", p.ID, d("10.0000000000000000004"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = svc.Sell(ctx, "bob", p.ID, d("1.000000001"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	assert.True(t, balance(t, ms, "bob").Equal(d("1000")))
	after := pool(t, ms, p.ID)
	assert.True(t, after.CurrencyReserve.Equal(p.CurrencyReserve))
	assert.Equal(t, p.Version, after.Version)
}

func TestBuy_AuditFailureRollsBackEverything(t *testing.T) {
	ms := store.NewMemoryStore()
	seeder := newService(ms)
	p := seedPool(t, seeder)
	fund(t, seeder, "bob", "1000")

	svc := newService(failingAudit{ms, model.DirectionBuy})
	_, err := svc.Buy(context.Background(), "bob", p.ID, d("100"))
	assert.ErrorIs(t, err, model.ErrPersistenceFailure)
	assert.False(t, model.IsUserError(err))

	after := pool(t, ms, p.ID)
	assert.True(t, after.CurrencyReserve.Equal(d("1000")), "currency reserve %s", after.CurrencyReserve)
	assert.True(t, after.TokenReserve.Equal(d("2000")), "token reserve %s", after.TokenReserve)
	assert.True(t, balance(t, ms, "bob").Equal(d("1000")))
	assert.True(t, holding(t, ms, "bob", p.ID).IsZero())
}

// brokenUndo fails buy audits and every holding decrement, so the
// holdings compensation can never complete.
type brokenUndo struct {
	failingAudit
}

func (s brokenUndo) AdjustHolding(ctx context.Context, accountID, poolID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsNegative() {
		return decimal.Zero, errors.New("replica lost")
	}
	return s.MemoryStore.AdjustHolding(ctx, accountID, poolID, delta)
}

func TestBuy_IncompleteRollbackIsPersistenceFailure(t *testing.T) {
	ms := store.NewMemoryStore()
	seeder := newService(ms)
	p := seedPool(t, seeder)
	fund(t, seeder, "bob", "1000")

	svc := newService(brokenUndo{failingAudit{ms, model.DirectionBuy}})
	_, err := svc.Buy(context.Background(), "bob", p.ID, d("100"))
	assert.ErrorIs(t, err, model.ErrPersistenceFailure)
	assert.ErrorIs(t, err, saga.ErrUnwindIncomplete)

	// The remaining compensations still ran.
	assert.True(t, balance(t, ms, "bob").Equal(d("1000")))
	assert.True(t, pool(t, ms, p.ID).CurrencyReserve.Equal(d("1000")))
}

// stalePool serves an active copy of every pool regardless of its stored
// status, like a cache entry that missed its invalidation.
type stalePool struct {
	*store.MemoryStore
}

func (s stalePool) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	p, err := s.MemoryStore.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Status = model.PoolActive
	return p, nil
}

func TestBuy_VoidPoolRejectedDespiteStaleRead(t *testing.T) {
	ms := store.NewMemoryStore()
	seeder := newService(ms)
	p := seedPool(t, seeder)
	fund(t, seeder, "bob", "1000")
	require.NoError(t, ms.SetPoolStatus(context.Background(), p.ID, model.PoolVoid))

	svc := newService(stalePool{ms})
	_, err := svc.Buy(context.Background(), "bob", p.ID, d("100"))
	assert.ErrorIs(t, err, model.ErrPoolInactive)

	assert.True(t, balance(t, ms, "bob").Equal(d("1000")))
	assert.True(t, holding(t, ms, "bob", p.ID).IsZero())
	after := pool(t, ms, p.ID)
	assert.True(t, after.CurrencyReserve.Equal(d("1000")))
	assert.Equal(t, p.Version, after.Version)
}

// slowPool blocks reserve writes until the call's deadline.
type slowPool struct {
	*store.MemoryStore
}

func (slowPool) UpdateReserves(ctx context.Context, _ string, _ int64, _, _ decimal.Decimal) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestBuy_StoreTimeoutRollsBack(t *testing.T) {
	ms := store.NewMemoryStore()
	seeder := newService(ms)
	p := seedPool(t, seeder)
	fund(t, seeder, "bob", "1000")

	cfg := testConfig()
	cfg.StoreTimeout = 20 * time.Millisecond
	svc := trade.NewService(slowPool{ms}, lock.NewLocalLocker(), nil, cfg)

	_, err := svc.Buy(context.Background(), "bob", p.ID, d("100"))
	assert.ErrorIs(t, err, model.ErrPersistenceFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, balance(t, ms, "bob").Equal(d("1000")))
	assert.Equal(t, p.Version, pool(t, ms, p.ID).Version)
}

// --- Sell ---

func TestSell_RoundTrip(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	p := seedPool(t, svc)
	fund(t, svc, "bob", "1000")
	ctx := context.Background()

	buy, err := svc.Buy(ctx, "bob", p.ID, d("100"))
	require.NoError(t, err)

	want, err := amm.ComputeSell(amm.DefaultParams(),
		amm.Reserves{Currency: buy.CurrencyReserve, Token: buy.TokenReserve}, buy.TokensOut)
	require.NoError(t, err)

	res, err := svc.Sell(ctx, "bob", p.ID, buy.TokensOut)
	require.NoError(t, err)

	assert.True(t, res.CurrencyOut.Equal(want.CurrencyOutNet), "got %s want %s", res.CurrencyOut, want.CurrencyOutNet)
	assert.True(t, res.Fee.Equal(want.AMMFee.Add(want.PlatformFee)))
	assert.True(t, res.CurrencyOut.LessThan(d("100")))

	// Credited exactly the net.
	assert.True(t, balance(t, ms, "bob").Equal(d("900").Add(res.CurrencyOut)))

	// Zero holding is kept.
	holdings, _ := ms.ListHoldings(ctx, "bob")
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].Quantity.IsZero())

	after := pool(t, ms, p.ID)
	assert.True(t, after.TokenReserve.Equal(d("2000")))
	assert.True(t, after.Product().GreaterThanOrEqual(p.Product()))

	fees, _ := ms.ListFeesByAccount(ctx, "bob")
	require.Len(t, fees, 2)
	assert.Equal(t, model.FeeSourceSell, fees[1].Source)
	assert.True(t, fees[1].Amount.Equal(res.Fee))
}

// Scenario C.
func TestSell_BelowMinimumOutputChangesNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	p := seedPool(t, svc)
	fund(t, svc, "bob", "1000")
	ctx := context.Background()

	buy, err := svc.Buy(ctx, "bob", p.ID, d("100"))
	require.NoError(t, err)
	before := pool(t, ms, p.ID)

	_, err = svc.Sell(ctx, "bob", p.ID, d("10"))
	assert.ErrorIs(t, err, model.ErrBelowMinimumOutput)

	after := pool(t, ms, p.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, after.CurrencyReserve.Equal(before.CurrencyReserve))
	assert.True(t, after.TokenReserve.Equal(before.TokenReserve))
	assert.True(t, holding(t, ms, "bob", p.ID).Equal(buy.TokensOut))
	assert.True(t, balance(t, ms, "bob").Equal(d("900")))
}

func TestSell_InsufficientHoldings(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	p := seedPool(t, svc)
	fund(t, svc, "bob", "1000")
	ctx := context.Background()

	buy, err := svc.Buy(ctx, "bob", p.ID, d("100"))
	require.NoError(t, err)
	before := pool(t, ms, p.ID)

	_, err = svc.Sell(ctx, "bob", p.ID, buy.TokensOut.Add(d("0.00000001")))
	assert.ErrorIs(t, err, model.ErrInsufficientHoldings)

	_, err = svc.Sell(ctx, "dave", p.ID, d("50"))
	assert.ErrorIs(t, err, model.ErrInsufficientHoldings)

	assert.Equal(t, before.Version, pool(t, ms, p.ID).Version)
	assert.True(t, holding(t, ms, "bob", p.ID).Equal(buy.TokensOut))
}

func TestSell_AuditFailureRollsBackEverything(t *testing.T) {
	ms := store.NewMemoryStore()
	seeder := newService(ms)
	p := seedPool(t, seeder)
	fund(t, seeder, "bob", "1000")
	buy, err := seeder.Buy(context.Background(), "bob", p.ID, d("100"))
	require.NoError(t, err)
	before := pool(t, ms, p.ID)

	svc := newService(failingAudit{ms, model.DirectionSell})
	_, err = svc.Sell(context.Background(), "bob", p.ID, buy.TokensOut)
	assert.ErrorIs(t, err, model.ErrPersistenceFailure)

	after := pool(t, ms, p.ID)
	assert.True(t, after.CurrencyReserve.Equal(before.CurrencyReserve))
	assert.True(t, after.TokenReserve.Equal(before.TokenReserve))
	assert.True(t, holding(t, ms, "bob", p.ID).Equal(buy.TokensOut))
	assert.True(t, balance(t, ms, "bob").Equal(d("900")))
}

// --- Concurrency ---

// racingStore lets another instance commit a trade between this
// instance's snapshot and its reserve write, once.
type racingStore struct {
	*store.MemoryStore
	once  sync.Once
	other func()
}

func (s *racingStore) UpdateReserves(ctx context.Context, id string, version int64, currency, tok decimal.Decimal) (int64, error) {
	s.once.Do(s.other)
	return s.MemoryStore.UpdateReserves(ctx, id, version, currency, tok)
}

// Scenario D: two instances buy concurrently; the one holding a stale
// snapshot conflicts, retries, and prices against the updated reserves.
func TestBuy_StaleSnapshotRetriesAgainstFreshReserves(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	instanceB := newService(ms)
	p := seedPool(t, instanceB)
	fund(t, instanceB, "alice", "1000")
	fund(t, instanceB, "bob", "1000")

	var bRes *trade.BuyResult
	var bErr error
	rs := &racingStore{MemoryStore: ms}
	rs.other = func() {
		bRes, bErr = instanceB.Buy(ctx, "bob", p.ID, d("100"))
	}
	instanceA := newService(rs)

	aRes, err := instanceA.Buy(ctx, "alice", p.ID, d("100"))
	require.NoError(t, err)
	require.NoError(t, bErr)

	// B committed first against the original k.
	assert.True(t, bRes.TokensOut.Equal(d("181.32217877")))

	// A was priced against B's reserves, not the stale snapshot.
	want, err := amm.ComputeBuy(amm.DefaultParams(),
		amm.Reserves{Currency: bRes.CurrencyReserve, Token: bRes.TokenReserve}, d("100"))
	require.NoError(t, err)
	assert.True(t, aRes.TokensOut.Equal(want.TokensOut), "got %s want %s", aRes.TokensOut, want.TokensOut)
	assert.True(t, aRes.TokensOut.LessThan(bRes.TokensOut))

	// Alice paid once; the conflicting attempt was refunded.
	assert.True(t, balance(t, ms, "alice").Equal(d("900")))
	assert.True(t, holding(t, ms, "alice", p.ID).Equal(aRes.TokensOut))

	after := pool(t, ms, p.ID)
	assert.Equal(t, int64(3), after.Version)
	assert.True(t, after.CurrencyReserve.Equal(d("1199.4")))

	records, _ := ms.ListTradesByPool(ctx, p.ID)
	assert.Len(t, records, 3) // create + two buys
}

// conflictingStore never lets a reserve write through.
type conflictingStore struct {
	*store.MemoryStore
}

func (conflictingStore) UpdateReserves(context.Context, string, int64, decimal.Decimal, decimal.Decimal) (int64, error) {
	return 0, model.ErrVersionConflict
}

func TestBuy_RetriesExhausted(t *testing.T) {
	ms := store.NewMemoryStore()
	seeder := newService(ms)
	p := seedPool(t, seeder)
	fund(t, seeder, "bob", "1000")

	cfg := testConfig()
	cfg.MaxRetries = 2
	svc := trade.NewService(conflictingStore{ms}, lock.NewLocalLocker(), nil, cfg)

	_, err := svc.Buy(context.Background(), "bob", p.ID, d("100"))
	assert.ErrorIs(t, err, model.ErrConcurrentModification)
	assert.True(t, balance(t, ms, "bob").Equal(d("1000")))
	assert.True(t, holding(t, ms, "bob", p.ID).IsZero())
}

func TestBuy_ConcurrentBuyersSerializePerPool(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	p := seedPool(t, svc)
	ctx := context.Background()

	const buyers = 20
	for i := 0; i < buyers; i++ {
		fund(t, svc, fmt.Sprintf("buyer-%d", i), "100")
	}

	results := make([]*trade.BuyResult, buyers)
	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		g.Go(func() error {
			res, err := svc.Buy(ctx, fmt.Sprintf("buyer-%d", i), p.ID, d("50"))
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	tokensOut := decimal.Zero
	for _, r := range results {
		tokensOut = tokensOut.Add(r.TokensOut)
	}

	after := pool(t, ms, p.ID)
	assert.Equal(t, int64(1+buyers), after.Version)
	assert.True(t, after.TokenReserve.Add(tokensOut).Equal(d("2000")), "tokens conserved")
	assert.True(t, after.CurrencyReserve.Equal(d("1000").Add(d("49.85").Mul(decimal.NewFromInt(buyers)))))
	assert.True(t, after.Product().GreaterThanOrEqual(p.Product()))

	records, _ := ms.ListTradesByPool(ctx, p.ID)
	assert.Len(t, records, 1+buyers)
}

// --- Publishing ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TradeEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return errors.New("sink unavailable") // never affects the trade
}

func TestPublishesCommittedTrades(t *testing.T) {
	ms := store.NewMemoryStore()
	pub := &recordingPublisher{}
	svc := trade.NewService(ms, lock.NewLocalLocker(), pub, testConfig())
	p := seedPool(t, svc)
	fund(t, svc, "bob", "1000")

	res, err := svc.Buy(context.Background(), "bob", p.ID, d("100"))
	require.NoError(t, err)

	_, err = svc.Buy(context.Background(), "bob", p.ID, d("5000"))
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	require.Len(t, pub.events, 2)
	assert.Equal(t, events.TypePoolCreated, pub.events[0].Type)
	assert.Equal(t, events.TypeTradeExecuted, pub.events[1].Type)
	assert.Equal(t, res.TradeID, pub.events[1].TradeID)
	assert.Equal(t, int64(2), pub.events[1].Version)
	assert.True(t, pub.events[1].TokenAmount.Equal(res.TokensOut))
}

func TestQuoteMatchesSettlement(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newService(ms)
	p := seedPool(t, svc)
	fund(t, svc, "bob", "1000")
	ctx := context.Background()

	q, err := svc.QuoteBuy(ctx, p.ID, d("250"))
	require.NoError(t, err)
	res, err := svc.Buy(ctx, "bob", p.ID, d("250"))
	require.NoError(t, err)
	assert.True(t, q.TokensOut.Equal(res.TokensOut))

	_, err = svc.QuoteSell(ctx, p.ID, d("1"))
	assert.ErrorIs(t, err, model.ErrBelowMinimumOutput)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "POOL_LOCKED", trade.StatePoolLocked.String())
	assert.Equal(t, "ROLLED_BACK", trade.StateRolledBack.String())
	assert.Equal(t, "UNKNOWN", trade.State(99).String())
	assert.True(t, trade.StateCommitted.Terminal())
	assert.False(t, trade.StatePriced.Terminal())
}
