// Package catalog предоставляет упорядоченный список пакетов монет площадки.
package catalog

import (
	"cmp"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/coinshop/internal/model"
)

//go:embed fallback_packages.yaml
var fallbackYAML []byte

// ErrPackageNotFound возвращается, если пакета нет в текущем каталоге.
var ErrPackageNotFound = errors.New("coin package not found")

// Source указывает, откуда получен список пакетов.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// PackageStore описывает хранилище пакетов монет.
type PackageStore interface {
	GetPackages(ctx context.Context, siteID *int64, activeOnly bool) ([]model.CoinPackage, error)
}

type fallbackFile struct {
	Packages []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
		Price     string `yaml:"price"`
		Coins     int64  `yaml:"coins"`
		SortOrder int    `yaml:"sort_order"`
	} `yaml:"packages"`
}

// Catalog загружает пакеты из хранилища и подставляет встроенный список при любой ошибке.
type Catalog struct {
	store    PackageStore
	logger   *zap.Logger
	currency model.Currency
	fallback []model.CoinPackage
	now      func() time.Time
}

// NewCatalog создаёт каталог. currency используется для пакетов из встроенного списка.
func NewCatalog(store PackageStore, logger *zap.Logger, currency model.Currency) (*Catalog, error) {
	if !currency.Valid() {
		return nil, fmt.Errorf("unsupported fallback currency %q", currency)
	}

	fallback, err := parseFallback(fallbackYAML)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		store:    store,
		logger:   logger,
		currency: currency,
		fallback: fallback,
		now:      time.Now,
	}, nil
}

func parseFallback(data []byte) ([]model.CoinPackage, error) {
	var f fallbackFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fallback packages: %w", err)
	}
	if len(f.Packages) == 0 {
		return nil, errors.New("fallback package list is empty")
	}

	res := make([]model.CoinPackage, 0, len(f.Packages))
	for _, p := range f.Packages {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("fallback package %s: parse price: %w", p.ID, err)
		}
		res = append(res, model.CoinPackage{
			ID:        p.ID,
			Name:      p.Name,
			Price:     price,
			Coins:     p.Coins,
			SortOrder: p.SortOrder,
		})
	}

	return res, nil
}

// LoadPackages возвращает активные пакеты площадки (или глобальные, если siteID == nil),
// отсортированные по SortOrder, затем по цене. Ошибки хранилища не возвращаются:
// вместо них отдаётся встроенный список.
func (c *Catalog) LoadPackages(ctx context.Context, siteID *int64) ([]model.CoinPackage, Source) {
	if c.store == nil {
		return c.fallbackPackages(), SourceFallback
	}

	packages, err := c.store.GetPackages(ctx, siteID, true)
	if err != nil {
		c.logger.Warn("coin catalog unavailable, using fallback packages", zap.Error(err), siteField(siteID))
		return c.fallbackPackages(), SourceFallback
	}

	active := make([]model.CoinPackage, 0, len(packages))
	for _, p := range packages {
		if !p.IsActive {
			continue
		}
		if err := checkPackage(p); err != nil {
			c.logger.Warn("skipping malformed coin package", zap.Error(err), zap.String("package", p.ID))
			continue
		}
		active = append(active, p)
	}

	if len(active) == 0 {
		c.logger.Warn("coin catalog has no active packages, using fallback packages", siteField(siteID))
		return c.fallbackPackages(), SourceFallback
	}

	sortPackages(active)
	return active, SourceRemote
}

// FindPackage возвращает копию пакета с указанным идентификатором из текущего каталога.
func (c *Catalog) FindPackage(ctx context.Context, siteID *int64, id string) (model.CoinPackage, error) {
	packages, _ := c.LoadPackages(ctx, siteID)
	for _, p := range packages {
		if p.ID == id {
			return p, nil
		}
	}
	return model.CoinPackage{}, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
}

func (c *Catalog) fallbackPackages() []model.CoinPackage {
	now := c.now()

	res := slices.Clone(c.fallback)
	for i := range res {
		res[i].Currency = c.currency
		res[i].IsActive = true
		res[i].CreatedAt = now
		res[i].UpdatedAt = now
	}

	sortPackages(res)
	return res
}

func checkPackage(p model.CoinPackage) error {
	switch {
	case p.ID == "":
		return errors.New("empty package id")
	case p.Price.IsNegative():
		return fmt.Errorf("negative price %s", p.Price)
	case p.Coins <= 0:
		return fmt.Errorf("non-positive coin amount %d", p.Coins)
	case !p.Currency.Valid():
		return fmt.Errorf("unsupported currency %q", p.Currency)
	}
	return nil
}

func sortPackages(packages []model.CoinPackage) {
	slices.SortStableFunc(packages, func(a, b model.CoinPackage) int {
		if n := cmp.Compare(a.SortOrder, b.SortOrder); n != 0 {
			return n
		}
		return a.Price.Cmp(b.Price)
	})
}

func siteField(siteID *int64) zap.Field {
	if siteID == nil {
		return zap.String("site", "global")
	}
	return zap.Int64("site", *siteID)
}
