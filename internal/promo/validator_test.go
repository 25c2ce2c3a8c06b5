package promo

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/coinshop/internal/model"
)

type stubBackend struct {
	code *model.PromotionalCode
	err  error

	calls    int
	lastCode string
	lastUser int64
}

func (s *stubBackend) ValidatePromoCode(ctx context.Context, code string, userID int64) (*model.PromotionalCode, error) {
	s.calls++
	s.lastCode = code
	s.lastUser = userID
	return s.code, s.err
}

func TestValidate_EmptyCodeSkipsBackend(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		backend := &stubBackend{}
		v := NewValidator(backend)

		_, err := v.Validate(context.Background(), 1, raw)

		assert.ErrorIs(t, err, ErrEmptyCode)
		assert.Equal(t, 0, backend.calls, "backend must not be called for %q", raw)
	}
}

func TestValidate_Normalizes(t *testing.T) {
	backend := &stubBackend{
		code: &model.PromotionalCode{
			Code:          "summer20",
			DiscountType:  model.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(20),
		},
	}
	v := NewValidator(backend)

	pc, err := v.Validate(context.Background(), 42, "  summer20 ")
	require.NoError(t, err)

	assert.Equal(t, "SUMMER20", backend.lastCode)
	assert.Equal(t, int64(42), backend.lastUser)
	assert.Equal(t, "SUMMER20", pc.Code)
	assert.Equal(t, model.DiscountPercentage, pc.DiscountType)
}

func TestValidate_PassesBackendReason(t *testing.T) {
	backend := &stubBackend{err: &model.CodeRejection{Reason: "promotional code has expired"}}
	v := NewValidator(backend)

	_, err := v.Validate(context.Background(), 1, "old")

	require.ErrorIs(t, err, ErrInvalidCode)
	var invalid *InvalidCodeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "promotional code has expired", invalid.Reason)
	assert.Equal(t, "OLD", invalid.Code)
}

func TestValidate_BackendFailureIsNotInvalidCode(t *testing.T) {
	backend := &stubBackend{err: errors.New("connection reset by peer")}
	v := NewValidator(backend)

	_, err := v.Validate(context.Background(), 1, "CODE")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCode)
}

func TestValidate_MalformedDiscount(t *testing.T) {
	backend := &stubBackend{
		code: &model.PromotionalCode{DiscountType: "free", DiscountValue: decimal.NewFromInt(1)},
	}
	v := NewValidator(backend)

	_, err := v.Validate(context.Background(), 1, "CODE")
	assert.Error(t, err)
}

func TestValidate_BonusCoinsMustBeWhole(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{value: "25", wantErr: false},
		{value: "25.00", wantErr: false},
		{value: "2.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			backend := &stubBackend{
				code: &model.PromotionalCode{
					DiscountType:  model.DiscountBonusCoins,
					DiscountValue: decimal.RequireFromString(tt.value),
				},
			}
			v := NewValidator(backend)

			pc, err := v.Validate(context.Background(), 1, "bonus")
			if tt.wantErr {
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrInvalidCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(25), pc.DiscountValue.IntPart())
		})
	}
}
