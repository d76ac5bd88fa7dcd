package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single RWMutex guards all maps, so every mutation is atomic with
// respect to every other.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	pools    map[string]*model.Pool
	holdings map[holdingKey]*model.Holding
	trades   []model.TradeRecord
	fees     []model.FeeAccrual
}

type holdingKey struct {
	accountID string
	poolID    string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		pools:    make(map[string]*model.Pool),
		holdings: make(map[holdingKey]*model.Holding),
	}
}

// --- Balances ---

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *s.account(accountID)
	return &copy, nil
}

func (s *MemoryStore) ModifyBalance(_ context.Context, accountID string, amount decimal.Decimal, op model.BalanceOp) (decimal.Decimal, error) {
	if err := op.Validate(); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.account(accountID)
	switch op {
	case model.OpAdd:
		acct.Balance = acct.Balance.Add(amount)
	case model.OpSubtract:
		if acct.Balance.LessThan(amount) {
			return acct.Balance, fmt.Errorf("%w: balance %s < %s", model.ErrInsufficientFunds, acct.Balance, amount)
		}
		acct.Balance = acct.Balance.Sub(amount)
	}
	acct.UpdatedAt = time.Now().UTC()
	return acct.Balance, nil
}

// account returns the live record, creating it lazily. Caller holds mu.
func (s *MemoryStore) account(id string) *model.Account {
	acct, ok := s.accounts[id]
	if !ok {
		acct = &model.Account{ID: id, UpdatedAt: time.Now().UTC()}
		s.accounts[id] = acct
	}
	return acct
}

// --- Pools ---

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[p.ID]; exists {
		return fmt.Errorf("pool %s already exists", p.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *p
	copy.Version = 1
	s.pools[p.ID] = &copy
	p.Version = 1
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrPoolNotFound, id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].CreatedAt.After(pools[j].CreatedAt)
	})
	return pools, nil
}

func (s *MemoryStore) UpdateReserves(_ context.Context, id string, expectedVersion int64, currency, token decimal.Decimal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", model.ErrPoolNotFound, id)
	}
	if p.Status != model.PoolActive {
		return p.Version, fmt.Errorf("%w: pool %s is %s", model.ErrPoolInactive, id, p.Status)
	}
	if p.Version != expectedVersion {
		return p.Version, fmt.Errorf("%w: pool %s at version %d, expected %d",
			model.ErrVersionConflict, id, p.Version, expectedVersion)
	}
	p.CurrencyReserve = currency
	p.TokenReserve = token
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return p.Version, nil
}

func (s *MemoryStore) SetPoolStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrPoolNotFound, id)
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Holdings ---

func (s *MemoryStore) GetHolding(_ context.Context, accountID, poolID string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, ok := s.holdings[holdingKey{accountID, poolID}]; ok {
		copy := *h
		return &copy, nil
	}
	return &model.Holding{AccountID: accountID, PoolID: poolID}, nil
}

func (s *MemoryStore) AdjustHolding(_ context.Context, accountID, poolID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey{accountID, poolID}
	h, ok := s.holdings[key]
	current := decimal.Zero
	if ok {
		current = h.Quantity
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return current, fmt.Errorf("%w: holding %s, change %s", model.ErrInsufficientHoldings, current, delta)
	}
	if !ok {
		h = &model.Holding{AccountID: accountID, PoolID: poolID}
		s.holdings[key] = h
	}
	h.Quantity = next
	h.UpdatedAt = time.Now().UTC()
	return next, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, accountID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Holding
	for k, h := range s.holdings {
		if k.accountID == accountID {
			result = append(result, *h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PoolID < result[j].PoolID })
	return result, nil
}

// --- Audit ---

func (s *MemoryStore) InsertTrade(_ context.Context, rec *model.TradeRecord, fee *model.FeeAccrual) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *rec)
	if fee != nil {
		s.fees = append(s.fees, *fee)
	}
	return nil
}

func (s *MemoryStore) ListTradesByPool(_ context.Context, poolID string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, r := range s.trades {
		if r.PoolID == poolID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTradesByAccount(_ context.Context, accountID string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, r := range s.trades {
		if r.AccountID == accountID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListFeesByAccount(_ context.Context, accountID string) ([]model.FeeAccrual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FeeAccrual
	for _, f := range s.fees {
		if f.AccountID == accountID {
			result = append(result, f)
		}
	}
	return result, nil
}
