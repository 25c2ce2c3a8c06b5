// Package service реализует бизнес-логику магазина монет.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/coinshop/internal/catalog"
	"github.com/mmeshcher/coinshop/internal/checkout"
	"github.com/mmeshcher/coinshop/internal/model"
	"github.com/mmeshcher/coinshop/internal/pricing"
	"github.com/mmeshcher/coinshop/internal/purchase"
	"github.com/mmeshcher/coinshop/internal/validation"
)

var (
	// ErrInvalidAttemptID возвращается, если токен попытки не является UUID.
	ErrInvalidAttemptID = errors.New("invalid purchase attempt id")
	// ErrAttemptNotFound возвращается, если попытка не найдена или принадлежит другому пользователю.
	ErrAttemptNotFound = errors.New("purchase attempt not found")
)

// Catalog описывает каталог пакетов монет.
type Catalog interface {
	LoadPackages(ctx context.Context, siteID *int64) ([]model.CoinPackage, catalog.Source)
	FindPackage(ctx context.Context, siteID *int64, id string) (model.CoinPackage, error)
}

// Validator описывает проверку промокодов.
type Validator interface {
	Validate(ctx context.Context, userID int64, raw string) (model.PromotionalCode, error)
}

// Orchestrator описывает проведение покупок.
type Orchestrator interface {
	Purchase(ctx context.Context, req purchase.Request) (*model.PurchaseOutcome, error)
	Attempt(id string) (model.PurchaseAttempt, bool)
}

// Ledger описывает чтение монетного баланса и освобождение ресурсов хранилища.
type Ledger interface {
	Close() error
	GetBalance(ctx context.Context, userID int64) (int64, error)
}

// PricedPackage содержит пакет и его цену с учётом применённого промокода.
type PricedPackage struct {
	Package model.CoinPackage
	Pricing model.PricingResult
}

// Listing описывает витрину пакетов для пользователя.
type Listing struct {
	Source   catalog.Source
	Applied  *model.AppliedDiscount
	Packages []PricedPackage
}

// Service содержит бизнес-логику магазина монет.
type Service struct {
	catalog      Catalog
	validator    Validator
	orchestrator Orchestrator
	ledger       Ledger
	checkout     *checkout.Store
}

// NewService создаёт новый сервис.
func NewService(c Catalog, v Validator, o Orchestrator, l Ledger, cs *checkout.Store) *Service {
	return &Service{
		catalog:      c,
		validator:    v,
		orchestrator: o,
		ledger:       l,
		checkout:     cs,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.ledger != nil {
		return s.ledger.Close()
	}
	return nil
}

// ListPackages возвращает пакеты площадки с ценами по применённому промокоду.
func (s *Service) ListPackages(ctx context.Context, userID int64, siteID *int64) (*Listing, error) {
	packages, source := s.catalog.LoadPackages(ctx, siteID)
	applied := s.checkout.Applied(userID)

	res := &Listing{
		Source:   source,
		Applied:  applied,
		Packages: make([]PricedPackage, 0, len(packages)),
	}
	for _, p := range packages {
		res.Packages = append(res.Packages, PricedPackage{
			Package: p,
			Pricing: pricing.Price(p, applied),
		})
	}

	return res, nil
}

// GetBalance возвращает монетный баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	coins, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{Coins: coins}, nil
}

// ApplyPromoCode проверяет код и применяет его вместо ранее применённого.
func (s *Service) ApplyPromoCode(ctx context.Context, userID int64, raw string) (model.AppliedDiscount, error) {
	code, err := s.validator.Validate(ctx, userID, raw)
	if err != nil {
		return model.AppliedDiscount{}, err
	}
	return s.checkout.Apply(userID, code)
}

// RemovePromoCode снимает применённый промокод.
func (s *Service) RemovePromoCode(userID int64) error {
	return s.checkout.Remove(userID)
}

// Purchase покупает пакет с применённым промокодом. Пакет и скидка фиксируются
// до обращения к платёжной системе.
func (s *Service) Purchase(ctx context.Context, userID int64, siteID *int64, attemptID, packageID string) (*model.PurchaseOutcome, error) {
	if !validation.IsValidAttemptID(attemptID) {
		return nil, ErrInvalidAttemptID
	}

	pkg, err := s.catalog.FindPackage(ctx, siteID, packageID)
	if err != nil {
		return nil, err
	}

	discount, release, err := s.checkout.Begin(userID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.orchestrator.Purchase(ctx, purchase.Request{
		AttemptID: attemptID,
		UserID:    userID,
		Package:   pkg,
		Discount:  discount,
	})
	// Повтор завершённой попытки не трогает скидку, применённую после неё.
	release(err == nil && !outcome.Replayed)
	if err != nil {
		return nil, fmt.Errorf("purchase %s: %w", packageID, err)
	}

	return outcome, nil
}

// GetAttempt возвращает состояние попытки покупки пользователя.
func (s *Service) GetAttempt(userID int64, attemptID string) (model.PurchaseAttempt, error) {
	a, ok := s.orchestrator.Attempt(attemptID)
	if !ok || a.UserID != userID {
		return model.PurchaseAttempt{}, ErrAttemptNotFound
	}
	return a, nil
}
