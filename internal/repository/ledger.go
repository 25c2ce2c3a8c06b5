package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetBalance возвращает монетный баланс пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM coin_balances WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AddCoins зачисляет монеты и записывает операцию в журнал в одной транзакции.
func (r *PostgresRepository) AddCoins(ctx context.Context, userID int64, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("coin amount must be positive, got %d", amount)
	}

	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO coin_transactions (user_id, amount, reason) VALUES ($1, $2, $3)`,
			userID, amount, reason,
		)
		if err != nil {
			return fmt.Errorf("insert coin transaction: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO coin_balances (user_id, balance) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE
			 SET balance = coin_balances.balance + EXCLUDED.balance, updated_at = NOW()`,
			userID, amount,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
