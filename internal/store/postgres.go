package store

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsim/paper-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// the shopspring codec registered by NewPool scans them directly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPool creates a pgx pool with the shopspring decimal codec registered
// on every connection.
func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store. The schema is
// expected to exist (see schema.sql).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, accountID string) (*model.Snapshot, error) {
	snap := &model.Snapshot{AccountID: accountID}

	err := s.pool.QueryRow(ctx,
		`SELECT cash, initial_cash, total_value, total_gain, day_gain, day_gain_pct, updated_at
		 FROM accounts WHERE account_id = $1`, accountID).
		Scan(&snap.Metrics.CashBalance, &snap.InitialCash,
			&snap.Metrics.TotalValue, &snap.Metrics.TotalGain,
			&snap.Metrics.DayGain, &snap.Metrics.DayGainPct,
			&snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, shares, avg_cost, current_price
		 FROM positions WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.Symbol, &p.Name, &p.Shares, &p.AvgCost, &p.CurrentPrice); err != nil {
			return nil, err
		}
		snap.Positions = append(snap.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, type, symbol, name, shares, price, total, executed_at
		 FROM trade_entries WHERE account_id = $1 ORDER BY executed_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e model.TradeEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.Symbol, &e.Name,
			&e.Shares, &e.Price, &e.Total, &e.Timestamp); err != nil {
			return nil, err
		}
		snap.TradeHistory = append(snap.TradeHistory, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT recorded_at, total_value
		 FROM value_points WHERE account_id = $1 ORDER BY recorded_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v model.ValuePoint
		if err := rows.Scan(&v.Timestamp, &v.TotalValue); err != nil {
			return nil, err
		}
		snap.ValueHistory = append(snap.ValueHistory, v)
	}
	return snap, rows.Err()
}

// SaveSnapshot replaces the stored state for an account in one transaction.
// Histories are rewritten wholesale so resets need no separate delete path.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, accountID string, snap *model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save account %s: %w", accountID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (account_id, cash, initial_cash, total_value, total_gain, day_gain, day_gain_pct, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (account_id) DO UPDATE SET
		   cash = EXCLUDED.cash, initial_cash = EXCLUDED.initial_cash,
		   total_value = EXCLUDED.total_value, total_gain = EXCLUDED.total_gain,
		   day_gain = EXCLUDED.day_gain, day_gain_pct = EXCLUDED.day_gain_pct,
		   updated_at = EXCLUDED.updated_at`,
		accountID, snap.Metrics.CashBalance, snap.InitialCash,
		snap.Metrics.TotalValue, snap.Metrics.TotalGain,
		snap.Metrics.DayGain, snap.Metrics.DayGainPct, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save account %s: %w", accountID, err)
	}

	for _, table := range []string{"positions", "trade_entries", "value_points"} {
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("save account %s: %w", accountID, err)
		}
	}

	for _, p := range snap.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (account_id, symbol, name, shares, avg_cost, current_price)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			accountID, p.Symbol, p.Name, p.Shares, p.AvgCost, p.CurrentPrice); err != nil {
			return fmt.Errorf("save position %s/%s: %w", accountID, p.Symbol, err)
		}
	}

	for _, e := range snap.TradeHistory {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trade_entries (id, account_id, type, symbol, name, shares, price, total, executed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, accountID, e.Type, e.Symbol, e.Name,
			e.Shares, e.Price, e.Total, e.Timestamp); err != nil {
			return fmt.Errorf("save trade %s: %w", e.ID, err)
		}
	}

	for _, v := range snap.ValueHistory {
		if _, err := tx.Exec(ctx,
			`INSERT INTO value_points (account_id, recorded_at, total_value)
			 VALUES ($1, $2, $3)`,
			accountID, v.Timestamp, v.TotalValue); err != nil {
			return fmt.Errorf("save value point %s: %w", accountID, err)
		}
	}

	return tx.Commit(ctx)
}
