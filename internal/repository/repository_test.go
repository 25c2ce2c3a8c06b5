package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrInt(v int) *int { return &v }

func TestPromoRowRejection(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		row  promoRow
		want string
	}{
		{
			name: "valid",
			row:  promoRow{isActive: true, expiresAt: ptrTime(now.Add(time.Hour)), maxUses: ptrInt(10), usedCount: 9},
			want: "",
		},
		{
			name: "inactive",
			row:  promoRow{isActive: false},
			want: "promotional code is not active",
		},
		{
			name: "expired",
			row:  promoRow{isActive: true, expiresAt: ptrTime(now)},
			want: "promotional code has expired",
		},
		{
			name: "used by user",
			row:  promoRow{isActive: true, usedByUser: true},
			want: "promotional code has already been used",
		},
		{
			name: "limit reached",
			row:  promoRow{isActive: true, maxUses: ptrInt(3), usedCount: 3},
			want: "promotional code usage limit reached",
		},
		{
			name: "no limits",
			row:  promoRow{isActive: true, usedCount: 1000},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.row.rejection(now))
		})
	}
}

func TestPromoRowConsumeCheck(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		row     promoRow
		wantErr error
	}{
		{
			name: "last use available",
			row:  promoRow{isActive: true, maxUses: ptrInt(1), usedCount: 0},
		},
		{
			name:    "limit taken by concurrent consume",
			row:     promoRow{isActive: true, maxUses: ptrInt(1), usedCount: 1},
			wantErr: ErrCodeExhausted,
		},
		{
			name:    "deactivated after validation",
			row:     promoRow{isActive: false},
			wantErr: ErrCodeExhausted,
		},
		{
			name:    "expired after validation",
			row:     promoRow{isActive: true, expiresAt: ptrTime(now.Add(-time.Minute))},
			wantErr: ErrCodeExhausted,
		},
		{
			name:    "already used by user",
			row:     promoRow{isActive: true, usedByUser: true, maxUses: ptrInt(1), usedCount: 1},
			wantErr: ErrCodeAlreadyUsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.row.consumeCheck("SAVE10", now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "SAVE10")
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: pgerrcode.SerializationFailure}))
	assert.True(t, isRetryable(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}))
	assert.True(t, isRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, isRetryable(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(errors.New("syntax error")))
}

func testRepo() *PostgresRepository {
	return &PostgresRepository{
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
		},
	}
}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	r := testRepo()

	calls := 0
	err := r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	r := testRepo()
	permanent := &pgconn.PgError{Code: pgerrcode.UniqueViolation}

	calls := 0
	err := r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	r := testRepo()

	calls := 0
	err := r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("broken pipe")
	})

	assert.EqualError(t, err, "broken pipe")
	assert.Equal(t, 3, calls)
}

func TestAddCoins_RejectsNonPositiveAmount(t *testing.T) {
	r := testRepo()

	assert.Error(t, r.AddCoins(context.Background(), 1, 0, "noop"))
	assert.Error(t, r.AddCoins(context.Background(), 1, -5, "noop"))
}
