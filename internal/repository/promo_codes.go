package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/coinshop/internal/model"
)

// promoRow описывает строку промокода вместе с признаком использования пользователем.
type promoRow struct {
	discountType  string
	discountValue string
	isActive      bool
	expiresAt     *time.Time
	maxUses       *int
	usedCount     int
	usedByUser    bool
}

// rejection возвращает причину, по которой код нельзя применить, или пустую строку.
func (p promoRow) rejection(now time.Time) string {
	switch {
	case !p.isActive:
		return "promotional code is not active"
	case p.expiresAt != nil && !now.Before(*p.expiresAt):
		return "promotional code has expired"
	case p.usedByUser:
		return "promotional code has already been used"
	case p.maxUses != nil && p.usedCount >= *p.maxUses:
		return "promotional code usage limit reached"
	}
	return ""
}

// ValidatePromoCode проверяет, может ли пользователь применить код. Код не погашается.
func (r *PostgresRepository) ValidatePromoCode(ctx context.Context, code string, userID int64) (*model.PromotionalCode, error) {
	var p promoRow
	err := r.pool.QueryRow(ctx,
		`SELECT discount_type, discount_value::text, is_active, expires_at, max_uses, used_count,
		        EXISTS (SELECT 1 FROM promo_code_uses u WHERE u.code_id = p.id AND u.user_id = $2)
		 FROM promo_codes p
		 WHERE code = $1`,
		code, userID,
	).Scan(&p.discountType, &p.discountValue, &p.isActive, &p.expiresAt, &p.maxUses, &p.usedCount, &p.usedByUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.CodeRejection{Reason: "promotional code not found"}
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}

	if reason := p.rejection(time.Now()); reason != "" {
		return nil, &model.CodeRejection{Reason: reason}
	}

	value, err := decimal.NewFromString(p.discountValue)
	if err != nil {
		return nil, fmt.Errorf("parse discount value of %s: %w", code, err)
	}

	return &model.PromotionalCode{
		Code:          code,
		DiscountType:  model.DiscountType(p.discountType),
		DiscountValue: value,
	}, nil
}

// consumeCheck проверяет заблокированную строку кода перед погашением.
func (p promoRow) consumeCheck(code string, now time.Time) error {
	if p.usedByUser {
		return fmt.Errorf("%w: %s", ErrCodeAlreadyUsed, code)
	}
	if reason := p.rejection(now); reason != "" {
		return fmt.Errorf("%w: %s: %s", ErrCodeExhausted, code, reason)
	}
	return nil
}

// ConsumePromoCode отмечает код использованным пользователем. Строка кода блокируется,
// и активность, срок и лимит проверяются повторно под блокировкой, чтобы параллельные
// погашения не превысили лимит.
func (r *PostgresRepository) ConsumePromoCode(ctx context.Context, code string, userID int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			codeID int64
			p      promoRow
		)
		err = tx.QueryRow(ctx,
			`SELECT id, is_active, expires_at, max_uses, used_count,
			        EXISTS (SELECT 1 FROM promo_code_uses u WHERE u.code_id = p.id AND u.user_id = $2)
			 FROM promo_codes p
			 WHERE code = $1
			 FOR UPDATE`,
			code, userID,
		).Scan(&codeID, &p.isActive, &p.expiresAt, &p.maxUses, &p.usedCount, &p.usedByUser)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrCodeNotFound, code)
			}
			return fmt.Errorf("lock promo code: %w", err)
		}

		if err := p.consumeCheck(code, time.Now()); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO promo_code_uses (code_id, user_id) VALUES ($1, $2)`,
			codeID, userID,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrCodeAlreadyUsed, code)
			}
			return fmt.Errorf("insert promo code use: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE promo_codes SET used_count = used_count + 1 WHERE id = $1`, codeID)
		if err != nil {
			return fmt.Errorf("increment promo code usage: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
