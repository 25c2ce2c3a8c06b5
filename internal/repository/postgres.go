// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/coinshop/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrCodeAlreadyUsed возвращается при повторном погашении промокода пользователем.
	ErrCodeAlreadyUsed = errors.New("promotional code already used")
	// ErrCodeExhausted возвращается, если к моменту погашения код стал неактивным,
	// истёк или исчерпал лимит использований.
	ErrCodeExhausted = errors.New("promotional code can no longer be consumed")
	// ErrCodeNotFound возвращается при погашении несуществующего промокода.
	ErrCodeNotFound = errors.New("promotional code not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	backoff func() retry.Backoff
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, backoff: defaultBackoff}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, взаимоблокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetPackages возвращает пакеты монет площадки или глобальные пакеты, если siteID == nil.
func (r *PostgresRepository) GetPackages(ctx context.Context, siteID *int64, activeOnly bool) ([]model.CoinPackage, error) {
	const columns = `SELECT id, site_id, name, price::text, coins, currency, is_active, sort_order, created_at, updated_at
		 FROM coin_packages`

	var (
		rows pgx.Rows
		err  error
	)
	if siteID != nil {
		rows, err = r.pool.Query(ctx,
			columns+` WHERE site_id = $1 AND ($2 = FALSE OR is_active)
			 ORDER BY sort_order, price`,
			*siteID, activeOnly,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			columns+` WHERE site_id IS NULL AND ($1 = FALSE OR is_active)
			 ORDER BY sort_order, price`,
			activeOnly,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select coin packages: %w", err)
	}
	defer rows.Close()

	var packages []model.CoinPackage
	for rows.Next() {
		var (
			p        model.CoinPackage
			price    string
			currency string
		)
		if err := rows.Scan(&p.ID, &p.SiteID, &p.Name, &price, &p.Coins, &currency,
			&p.IsActive, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan coin package: %w", err)
		}

		p.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price of package %s: %w", p.ID, err)
		}
		p.Currency = model.Currency(currency)

		packages = append(packages, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return packages, nil
}

// GetSiteByDomain возвращает площадку по доменному имени.
func (r *PostgresRepository) GetSiteByDomain(ctx context.Context, domain string) (*model.Site, error) {
	var s model.Site
	err := r.pool.QueryRow(ctx,
		`SELECT id, domain, name FROM sites WHERE lower(domain) = lower($1)`,
		domain,
	).Scan(&s.ID, &s.Domain, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrSiteNotFound, domain)
		}
		return nil, fmt.Errorf("get site: %w", err)
	}
	return &s, nil
}
