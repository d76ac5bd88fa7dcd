package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision
// and travel as text so no float conversion ever happens.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- Balances ---

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, accountID); err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", accountID, err)
	}

	var a model.Account
	var balance, invested string
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, invested::TEXT, updated_at FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &balance, &invested, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	if a.Invested, err = decimal.NewFromString(invested); err != nil {
		return nil, fmt.Errorf("parse invested: %w", err)
	}
	return &a, nil
}

// ModifyBalance locks the account row for the duration of the
// read-check-write, so concurrent modifies of one account serialize while
// different accounts proceed independently.
func (s *PostgresStore) ModifyBalance(ctx context.Context, accountID string, amount decimal.Decimal, op model.BalanceOp) (decimal.Decimal, error) {
	if err := op.Validate(); err != nil {
		return decimal.Zero, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, accountID); err != nil {
		return decimal.Zero, fmt.Errorf("ensure account %s: %w", accountID, err)
	}

	var balanceStr string
	if err := tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balanceStr); err != nil {
		return decimal.Zero, fmt.Errorf("lock account %s: %w", accountID, err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}

	switch op {
	case model.OpAdd:
		balance = balance.Add(amount)
	case model.OpSubtract:
		if balance.LessThan(amount) {
			return balance, fmt.Errorf("%w: balance %s < %s", model.ErrInsufficientFunds, balance, amount)
		}
		balance = balance.Sub(amount)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC, updated_at = now() WHERE id = $1`,
		accountID, balance.String()); err != nil {
		return decimal.Zero, fmt.Errorf("update balance %s: %w", accountID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	committed = true
	return balance, nil
}

// --- Pools ---

const poolColumns = `id, creator_id, name, symbol, image_ref,
	currency_reserve::TEXT, token_reserve::TEXT, total_supply::TEXT,
	status, version, created_at, updated_at`

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, creator_id, name, symbol, image_ref,
		                    currency_reserve, token_reserve, total_supply,
		                    status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, 1, $10, $10)`,
		p.ID, p.CreatorID, p.Name, p.Symbol, p.ImageRef,
		p.CurrencyReserve.String(), p.TokenReserve.String(), p.TotalSupply.String(),
		p.Status, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create pool %s: %w", p.ID, err)
	}
	p.Version = 1
	return nil
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id)
	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrPoolNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) UpdateReserves(ctx context.Context, id string, expectedVersion int64, currency, token decimal.Decimal) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`UPDATE pools
		 SET currency_reserve = $3::NUMERIC, token_reserve = $4::NUMERIC,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2 AND status = 'active'
		 RETURNING version`,
		id, expectedVersion, currency.String(), token.String(),
	).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("update reserves %s: %w", id, err)
	}

	// No row matched: the pool is gone, voided, or its version moved on.
	var status string
	if err := s.pool.QueryRow(ctx, `SELECT version, status FROM pools WHERE id = $1`, id).Scan(&version, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", model.ErrPoolNotFound, id)
		}
		return 0, fmt.Errorf("read pool version %s: %w", id, err)
	}
	if status != model.PoolActive {
		return version, fmt.Errorf("%w: pool %s is %s", model.ErrPoolInactive, id, status)
	}
	return version, fmt.Errorf("%w: pool %s at version %d, expected %d",
		model.ErrVersionConflict, id, version, expectedVersion)
}

func (s *PostgresStore) SetPoolStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set pool status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrPoolNotFound, id)
	}
	return nil
}

// --- Holdings ---

func (s *PostgresStore) GetHolding(ctx context.Context, accountID, poolID string) (*model.Holding, error) {
	h := model.Holding{AccountID: accountID, PoolID: poolID}
	var qty string
	err := s.pool.QueryRow(ctx,
		`SELECT quantity::TEXT, updated_at FROM holdings WHERE account_id = $1 AND pool_id = $2`,
		accountID, poolID).Scan(&qty, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", accountID, poolID, err)
	}
	if h.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	return &h, nil
}

func (s *PostgresStore) AdjustHolding(ctx context.Context, accountID, poolID string, delta decimal.Decimal) (decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO holdings (account_id, pool_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		accountID, poolID); err != nil {
		return decimal.Zero, fmt.Errorf("ensure holding %s/%s: %w", accountID, poolID, err)
	}

	var qtyStr string
	if err := tx.QueryRow(ctx,
		`SELECT quantity::TEXT FROM holdings WHERE account_id = $1 AND pool_id = $2 FOR UPDATE`,
		accountID, poolID).Scan(&qtyStr); err != nil {
		return decimal.Zero, fmt.Errorf("lock holding %s/%s: %w", accountID, poolID, err)
	}
	current, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse quantity: %w", err)
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return current, fmt.Errorf("%w: holding %s, change %s", model.ErrInsufficientHoldings, current, delta)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE holdings SET quantity = $3::NUMERIC, updated_at = now()
		 WHERE account_id = $1 AND pool_id = $2`,
		accountID, poolID, next.String()); err != nil {
		return decimal.Zero, fmt.Errorf("update holding %s/%s: %w", accountID, poolID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	committed = true
	return next, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, pool_id, quantity::TEXT, updated_at
		 FROM holdings WHERE account_id = $1 ORDER BY pool_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var qty string
		if err := rows.Scan(&h.AccountID, &h.PoolID, &qty, &h.UpdatedAt); err != nil {
			return nil, err
		}
		if h.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// --- Audit ---

func (s *PostgresStore) InsertTrade(ctx context.Context, r *model.TradeRecord, f *model.FeeAccrual) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO trade_records (id, pool_id, account_id, direction,
		                            currency_amount, token_amount, unit_price, fee,
		                            currency_reserve, token_reserve, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11)`,
		r.ID, r.PoolID, r.AccountID, string(r.Direction),
		r.CurrencyAmount.String(), r.TokenAmount.String(), r.UnitPrice.String(), r.Fee.String(),
		r.CurrencyReserve.String(), r.TokenReserve.String(), r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", r.ID, err)
	}

	if f != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO fee_accruals (id, account_id, pool_id, amount, source, timestamp)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
			f.ID, f.AccountID, f.PoolID, f.Amount.String(), f.Source, f.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert fee %s: %w", f.ID, err)
		}
	}

	return tx.Commit(ctx)
}

const tradeColumns = `id, pool_id, account_id, direction,
	currency_amount::TEXT, token_amount::TEXT, unit_price::TEXT, fee::TEXT,
	currency_reserve::TEXT, token_reserve::TEXT, timestamp`

func (s *PostgresStore) ListTradesByPool(ctx context.Context, poolID string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade_records WHERE pool_id = $1 ORDER BY timestamp`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByAccount(ctx context.Context, accountID string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade_records WHERE account_id = $1 ORDER BY timestamp`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListFeesByAccount(ctx context.Context, accountID string) ([]model.FeeAccrual, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, pool_id, amount::TEXT, source, timestamp
		 FROM fee_accruals WHERE account_id = $1 ORDER BY timestamp`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fees []model.FeeAccrual
	for rows.Next() {
		var f model.FeeAccrual
		var amount string
		if err := rows.Scan(&f.ID, &f.AccountID, &f.PoolID, &amount, &f.Source, &f.Timestamp); err != nil {
			return nil, err
		}
		if f.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse fee amount: %w", err)
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

// --- Scanning ---

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPool(row pgxRow) (*model.Pool, error) {
	var p model.Pool
	var currency, token, supply string
	if err := row.Scan(&p.ID, &p.CreatorID, &p.Name, &p.Symbol, &p.ImageRef,
		&currency, &token, &supply,
		&p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.CurrencyReserve, err = decimal.NewFromString(currency); err != nil {
		return nil, fmt.Errorf("parse currency reserve: %w", err)
	}
	if p.TokenReserve, err = decimal.NewFromString(token); err != nil {
		return nil, fmt.Errorf("parse token reserve: %w", err)
	}
	if p.TotalSupply, err = decimal.NewFromString(supply); err != nil {
		return nil, fmt.Errorf("parse total supply: %w", err)
	}
	return &p, nil
}

func scanTrades(rows pgxRows) ([]model.TradeRecord, error) {
	var records []model.TradeRecord
	for rows.Next() {
		var r model.TradeRecord
		var direction string
		var amounts [6]string

		if err := rows.Scan(&r.ID, &r.PoolID, &r.AccountID, &direction,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5],
			&r.Timestamp); err != nil {
			return nil, err
		}
		r.Direction = model.Direction(direction)

		dst := []*decimal.Decimal{
			&r.CurrencyAmount, &r.TokenAmount, &r.UnitPrice, &r.Fee,
			&r.CurrencyReserve, &r.TokenReserve,
		}
		for i, s := range amounts {
			v, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("parse trade %s: %w", r.ID, err)
			}
			*dst[i] = v
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
