// Package model содержит доменные сущности монетной экономики приложения знакомств.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Currency описывает валюту, в которой продаётся пакет монет.
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencySEK Currency = "SEK"
)

// Valid сообщает, поддерживается ли валюта.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyEUR, CurrencySEK:
		return true
	}
	return false
}

// CoinPackage описывает пакет монет, доступный для покупки.
type CoinPackage struct {
	ID        string
	SiteID    *int64
	Name      string
	Price     decimal.Decimal
	Coins     int64
	Currency  Currency
	IsActive  bool
	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DiscountType описывает вид скидки промокода.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixedAmount"
	DiscountBonusCoins  DiscountType = "bonusCoins"
)

// Valid сообщает, известен ли тип скидки.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixedAmount, DiscountBonusCoins:
		return true
	}
	return false
}

// PromotionalCode содержит проверенный промокод в каноническом виде.
type PromotionalCode struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
}

// AppliedDiscount привязывает промокод к текущей попытке покупки.
// У попытки может быть не более одной применённой скидки.
type AppliedDiscount struct {
	PromotionalCode
	AppliedAt time.Time
}

// PricingResult содержит цену и количество монет для отображения пользователю.
// Значения носят справочный характер: платёжная система пересчитывает сумму сама.
type PricingResult struct {
	DisplayPrice  decimal.Decimal
	OriginalPrice decimal.Decimal
	Currency      Currency
	CoinsGranted  int64
	SavingsLabel  string
}

// ErrSiteNotFound возвращается, если площадка с указанным доменом не зарегистрирована.
var ErrSiteNotFound = errors.New("site not found")

// Site описывает площадку (тенант), на которой работает приложение.
type Site struct {
	ID     int64
	Domain string
	Name   string
}

// Balance содержит монетный баланс пользователя.
type Balance struct {
	Coins int64 `json:"coins"`
}

// ExecutionMode определяет, разрешено ли зачислять монеты в обход платёжной системы.
type ExecutionMode string

const (
	ModeProduction  ExecutionMode = "production"
	ModeDevelopment ExecutionMode = "development"
)

// Valid сообщает, известен ли режим исполнения.
func (m ExecutionMode) Valid() bool {
	return m == ModeProduction || m == ModeDevelopment
}

// CodeRejection возвращается хранилищем промокодов, когда код нельзя применить.
// Reason передаётся пользователю без изменений.
type CodeRejection struct {
	Reason string
}

func (e *CodeRejection) Error() string {
	return "promotional code rejected: " + e.Reason
}
