package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/amm-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedPool(t *testing.T, ms *MemoryStore, id string) *model.Pool {
	t.Helper()
	p := &model.Pool{
		ID:              id,
		CreatorID:       "creator",
		Name:            "Test",
		Symbol:          "TST",
		CurrencyReserve: d("1000"),
		TokenReserve:    d("2000"),
		TotalSupply:     d("1000000"),
		Status:          model.PoolActive,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, ms.CreatePool(context.Background(), p))
	return p
}

func TestMemoryStore_AccountCreatedLazily(t *testing.T) {
	ms := NewMemoryStore()
	acct, err := ms.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.ID)
	assert.True(t, acct.Balance.IsZero())
}

func TestMemoryStore_ModifyBalance(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	bal, err := ms.ModifyBalance(ctx, "alice", d("100"), model.OpAdd)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("100")))

	bal, err = ms.ModifyBalance(ctx, "alice", d("40.5"), model.OpSubtract)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("59.5")))

	_, err = ms.ModifyBalance(ctx, "alice", d("59.50000001"), model.OpSubtract)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	acct, _ := ms.GetAccount(ctx, "alice")
	assert.True(t, acct.Balance.Equal(d("59.5")), "failed subtract must not change balance")

	_, err = ms.ModifyBalance(ctx, "alice", d("1"), model.BalanceOp("multiply"))
	assert.ErrorIs(t, err, model.ErrInvalidOperation)
}

func TestMemoryStore_ConcurrentSubtractsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	_, err := ms.ModifyBalance(ctx, "alice", d("100"), model.OpAdd)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ms.ModifyBalance(ctx, "alice", d("3"), model.OpSubtract); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	acct, _ := ms.GetAccount(ctx, "alice")
	assert.Equal(t, 33, succeeded)
	assert.True(t, acct.Balance.Equal(d("1")), "balance %s", acct.Balance)
}

func TestMemoryStore_UpdateReservesVersioned(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	p := seedPool(t, ms, "pool-1")
	assert.Equal(t, int64(1), p.Version)

	v, err := ms.UpdateReserves(ctx, "pool-1", 1, d("1100"), d("1818"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// A writer still holding version 1 loses.
	_, err = ms.UpdateReserves(ctx, "pool-1", 1, d("900"), d("2222"))
	assert.ErrorIs(t, err, model.ErrVersionConflict)

	got, err := ms.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.True(t, got.CurrencyReserve.Equal(d("1100")))
	assert.Equal(t, int64(2), got.Version)

	_, err = ms.UpdateReserves(ctx, "missing", 1, d("1"), d("1"))
	assert.ErrorIs(t, err, model.ErrPoolNotFound)
}

func TestMemoryStore_GetPoolReturnsCopy(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	seedPool(t, ms, "pool-1")

	p, _ := ms.GetPool(ctx, "pool-1")
	p.CurrencyReserve = d("1")

	again, _ := ms.GetPool(ctx, "pool-1")
	assert.True(t, again.CurrencyReserve.Equal(d("1000")))
}

func TestMemoryStore_SetPoolStatus(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	seedPool(t, ms, "pool-1")

	require.NoError(t, ms.SetPoolStatus(ctx, "pool-1", model.PoolVoid))
	p, _ := ms.GetPool(ctx, "pool-1")
	assert.Equal(t, model.PoolVoid, p.Status)

	assert.ErrorIs(t, ms.SetPoolStatus(ctx, "missing", model.PoolVoid), model.ErrPoolNotFound)
}

func TestMemoryStore_UpdateReservesRejectsVoidPool(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	p := seedPool(t, ms, "pool-1")
	require.NoError(t, ms.SetPoolStatus(ctx, "pool-1", model.PoolVoid))

	_, err := ms.UpdateReserves(ctx, "pool-1", p.Version, d("1100"), d("1900"))
	assert.ErrorIs(t, err, model.ErrPoolInactive)

	after, err := ms.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.True(t, after.CurrencyReserve.Equal(d("1000")))
	assert.Equal(t, p.Version, after.Version)
}

func TestMemoryStore_Holdings(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	h, err := ms.GetHolding(ctx, "alice", "pool-1")
	require.NoError(t, err)
	assert.True(t, h.Quantity.IsZero())

	qty, err := ms.AdjustHolding(ctx, "alice", "pool-1", d("10"))
	require.NoError(t, err)
	assert.True(t, qty.Equal(d("10")))

	_, err = ms.AdjustHolding(ctx, "alice", "pool-1", d("-10.00000001"))
	assert.ErrorIs(t, err, model.ErrInsufficientHoldings)

	// Selling everything leaves a zero holding in place.
	qty, err = ms.AdjustHolding(ctx, "alice", "pool-1", d("-10"))
	require.NoError(t, err)
	assert.True(t, qty.IsZero())

	holdings, err := ms.ListHoldings(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].Quantity.IsZero())
}

func TestMemoryStore_Audit(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	fee := &model.FeeAccrual{ID: "f1", AccountID: "alice", PoolID: "p1", Amount: d("0.3"), Source: model.FeeSourceBuy}
	require.NoError(t, ms.InsertTrade(ctx, &model.TradeRecord{ID: "t1", PoolID: "p1", AccountID: "alice", Direction: model.DirectionBuy}, fee))
	require.NoError(t, ms.InsertTrade(ctx, &model.TradeRecord{ID: "t2", PoolID: "p2", AccountID: "alice", Direction: model.DirectionSell}, nil))
	require.NoError(t, ms.InsertTrade(ctx, &model.TradeRecord{ID: "t3", PoolID: "p1", AccountID: "bob", Direction: model.DirectionBuy}, nil))

	byPool, _ := ms.ListTradesByPool(ctx, "p1")
	assert.Len(t, byPool, 2)
	assert.Equal(t, "t1", byPool[0].ID)

	byAccount, _ := ms.ListTradesByAccount(ctx, "alice")
	assert.Len(t, byAccount, 2)

	fees, _ := ms.ListFeesByAccount(ctx, "alice")
	require.Len(t, fees, 1)
	assert.True(t, fees[0].Amount.Equal(d("0.3")))
}
