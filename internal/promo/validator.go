// Package promo проверяет промокоды перед применением к покупке.
package promo

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/coinshop/internal/model"
	"github.com/mmeshcher/coinshop/internal/validation"
)

var (
	// ErrEmptyCode возвращается, если после нормализации код пуст.
	ErrEmptyCode = errors.New("promotional code is empty")
	// ErrInvalidCode возвращается, если хранилище отклонило код.
	ErrInvalidCode = errors.New("promotional code is invalid")
)

// InvalidCodeError содержит причину отказа, полученную от хранилища промокодов.
type InvalidCodeError struct {
	Code   string
	Reason string
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("promotional code %s is invalid: %s", e.Code, e.Reason)
}

// Is позволяет сравнивать ошибку с ErrInvalidCode.
func (e *InvalidCodeError) Is(target error) bool {
	return target == ErrInvalidCode
}

// Backend описывает хранилище, которое решает, действителен ли код для пользователя.
// Отказ возвращается как *model.CodeRejection.
type Backend interface {
	ValidatePromoCode(ctx context.Context, code string, userID int64) (*model.PromotionalCode, error)
}

// Validator нормализует промокоды и проверяет их в хранилище.
type Validator struct {
	backend Backend
}

// NewValidator создаёт валидатор промокодов.
func NewValidator(backend Backend) *Validator {
	return &Validator{backend: backend}
}

// Validate проверяет код для пользователя. Код при этом не считается использованным.
func (v *Validator) Validate(ctx context.Context, userID int64, raw string) (model.PromotionalCode, error) {
	code := validation.NormalizePromoCode(raw)
	if code == "" {
		return model.PromotionalCode{}, ErrEmptyCode
	}

	pc, err := v.backend.ValidatePromoCode(ctx, code, userID)
	if err != nil {
		var rejection *model.CodeRejection
		if errors.As(err, &rejection) {
			return model.PromotionalCode{}, &InvalidCodeError{Code: code, Reason: rejection.Reason}
		}
		return model.PromotionalCode{}, fmt.Errorf("validate promotional code: %w", err)
	}
	if pc == nil {
		return model.PromotionalCode{}, &InvalidCodeError{Code: code, Reason: "promotional code not found"}
	}

	res := *pc
	res.Code = code
	if !res.DiscountType.Valid() || res.DiscountValue.IsNegative() {
		return model.PromotionalCode{}, fmt.Errorf("validate promotional code: backend returned malformed discount %q %s",
			res.DiscountType, res.DiscountValue)
	}
	// Бонус начисляется целыми монетами.
	if res.DiscountType == model.DiscountBonusCoins && !res.DiscountValue.IsInteger() {
		return model.PromotionalCode{}, fmt.Errorf("validate promotional code: fractional bonus coins %s", res.DiscountValue)
	}

	return res, nil
}
