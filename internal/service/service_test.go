package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/coinshop/internal/catalog"
	"github.com/mmeshcher/coinshop/internal/checkout"
	"github.com/mmeshcher/coinshop/internal/model"
	"github.com/mmeshcher/coinshop/internal/payment"
	"github.com/mmeshcher/coinshop/internal/promo"
	"github.com/mmeshcher/coinshop/internal/purchase"
)

const attemptID = "5d1c2b3a-4e5f-4a6b-8c7d-9e0f1a2b3c4d"

type stubPackages struct {
	packages []model.CoinPackage
}

func (s *stubPackages) GetPackages(ctx context.Context, siteID *int64, activeOnly bool) ([]model.CoinPackage, error) {
	return s.packages, nil
}

type stubPromoBackend struct {
	mu    sync.Mutex
	codes map[string]model.PromotionalCode
	used  map[string]bool
}

func (b *stubPromoBackend) ValidatePromoCode(ctx context.Context, code string, userID int64) (*model.PromotionalCode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc, ok := b.codes[code]
	if !ok {
		return nil, &model.CodeRejection{Reason: "promotional code not found"}
	}
	if b.used[code] {
		return nil, &model.CodeRejection{Reason: "promotional code has already been used"}
	}
	return &pc, nil
}

func (b *stubPromoBackend) ConsumePromoCode(ctx context.Context, code string, userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.used[code] = true
	return nil
}

type stubLedger struct {
	mu       sync.Mutex
	err      error
	balances map[int64]int64
}

func (l *stubLedger) Close() error { return nil }

func (l *stubLedger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *stubLedger) AddCoins(ctx context.Context, userID int64, amount int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.balances[userID] += amount
	return nil
}

type blockingSessions struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSessions) CreateSession(ctx context.Context, sr payment.SessionRequest, key string) (*payment.Session, error) {
	close(b.started)
	<-b.release
	return &payment.Session{URL: "https://pay.example/s/1"}, nil
}

type fixture struct {
	svc     *Service
	backend *stubPromoBackend
	ledger  *stubLedger
}

func newFixture(t *testing.T, mode model.ExecutionMode, sessions purchase.SessionCreator) *fixture {
	t.Helper()

	cat, err := catalog.NewCatalog(&stubPackages{packages: []model.CoinPackage{
		{ID: "pkg-50", Name: "50 coins", Price: decimal.NewFromInt(100), Coins: 50, Currency: model.CurrencyEUR, IsActive: true, SortOrder: 1},
		{ID: "pkg-10", Name: "10 coins", Price: decimal.NewFromInt(25), Coins: 10, Currency: model.CurrencyEUR, IsActive: true, SortOrder: 0},
	}}, zap.NewNop(), model.CurrencyEUR)
	require.NoError(t, err)

	backend := &stubPromoBackend{
		codes: map[string]model.PromotionalCode{
			"TWENTY": {Code: "TWENTY", DiscountType: model.DiscountPercentage, DiscountValue: decimal.NewFromInt(20)},
			"BIG":    {Code: "BIG", DiscountType: model.DiscountFixedAmount, DiscountValue: decimal.NewFromInt(150)},
			"BONUS":  {Code: "BONUS", DiscountType: model.DiscountBonusCoins, DiscountValue: decimal.NewFromInt(25)},
		},
		used: make(map[string]bool),
	}
	ledger := &stubLedger{balances: make(map[int64]int64)}

	orch := purchase.NewOrchestrator(mode, sessions, ledger, backend, zap.NewNop())
	svc := NewService(cat, promo.NewValidator(backend), orch, ledger, checkout.NewStore())

	return &fixture{svc: svc, backend: backend, ledger: ledger}
}

func findPriced(t *testing.T, l *Listing, id string) PricedPackage {
	t.Helper()
	for _, p := range l.Packages {
		if p.Package.ID == id {
			return p
		}
	}
	t.Fatalf("package %s not listed", id)
	return PricedPackage{}
}

func TestListPackages_WithAppliedDiscount(t *testing.T) {
	tests := []struct {
		code         string
		displayPrice int64
		coins        int64
	}{
		{code: "twenty", displayPrice: 80, coins: 50},
		{code: "big", displayPrice: 0, coins: 50},
		{code: "bonus", displayPrice: 100, coins: 75},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			f := newFixture(t, model.ModeDevelopment, nil)

			_, err := f.svc.ApplyPromoCode(context.Background(), 1, tt.code)
			require.NoError(t, err)

			listing, err := f.svc.ListPackages(context.Background(), 1, nil)
			require.NoError(t, err)

			assert.Equal(t, catalog.SourceRemote, listing.Source)
			require.NotNil(t, listing.Applied)
			assert.Equal(t, []string{"pkg-10", "pkg-50"}, []string{listing.Packages[0].Package.ID, listing.Packages[1].Package.ID})

			p := findPriced(t, listing, "pkg-50")
			assert.True(t, p.Pricing.DisplayPrice.Equal(decimal.NewFromInt(tt.displayPrice)), "display price %s", p.Pricing.DisplayPrice)
			assert.Equal(t, tt.coins, p.Pricing.CoinsGranted)
		})
	}
}

func TestApplyPromoCode_Errors(t *testing.T) {
	f := newFixture(t, model.ModeDevelopment, nil)

	_, err := f.svc.ApplyPromoCode(context.Background(), 1, "  ")
	assert.ErrorIs(t, err, promo.ErrEmptyCode)

	_, err = f.svc.ApplyPromoCode(context.Background(), 1, "nope")
	require.ErrorIs(t, err, promo.ErrInvalidCode)
	var invalid *promo.InvalidCodeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "promotional code not found", invalid.Reason)

	listing, err := f.svc.ListPackages(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Nil(t, listing.Applied)
}

func TestPurchase_InvalidInput(t *testing.T) {
	f := newFixture(t, model.ModeDevelopment, nil)

	_, err := f.svc.Purchase(context.Background(), 1, nil, "not-a-uuid", "pkg-50")
	assert.ErrorIs(t, err, ErrInvalidAttemptID)

	_, err = f.svc.Purchase(context.Background(), 1, nil, attemptID, "missing")
	assert.ErrorIs(t, err, catalog.ErrPackageNotFound)
}

func TestPurchase_DevelopmentFallback(t *testing.T) {
	f := newFixture(t, model.ModeDevelopment, nil)

	_, err := f.svc.ApplyPromoCode(context.Background(), 1, "bonus")
	require.NoError(t, err)

	out, err := f.svc.Purchase(context.Background(), 1, nil, attemptID, "pkg-50")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseSucceeded, out.Status)
	assert.Equal(t, int64(75), out.CoinsGranted)

	balance, err := f.svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance.Coins)

	assert.True(t, f.backend.used["BONUS"])

	listing, err := f.svc.ListPackages(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Nil(t, listing.Applied, "consumed code must be cleared")

	_, err = f.svc.ApplyPromoCode(context.Background(), 1, "bonus")
	assert.ErrorIs(t, err, promo.ErrInvalidCode)
}

func TestPurchase_ReplayKeepsCodeAppliedAfterwards(t *testing.T) {
	f := newFixture(t, model.ModeDevelopment, nil)

	_, err := f.svc.ApplyPromoCode(context.Background(), 1, "bonus")
	require.NoError(t, err)

	_, err = f.svc.Purchase(context.Background(), 1, nil, attemptID, "pkg-50")
	require.NoError(t, err)

	_, err = f.svc.ApplyPromoCode(context.Background(), 1, "twenty")
	require.NoError(t, err)

	out, err := f.svc.Purchase(context.Background(), 1, nil, attemptID, "pkg-50")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseSucceeded, out.Status)
	assert.Equal(t, int64(75), out.CoinsGranted)

	listing, err := f.svc.ListPackages(context.Background(), 1, nil)
	require.NoError(t, err)
	require.NotNil(t, listing.Applied)
	assert.Equal(t, "TWENTY", listing.Applied.Code)
	assert.False(t, f.backend.used["TWENTY"])

	balance, err := f.svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance.Coins)
}

func TestPurchase_LedgerFailureKeepsCode(t *testing.T) {
	f := newFixture(t, model.ModeDevelopment, nil)
	f.ledger.err = errors.New("ledger down")

	_, err := f.svc.ApplyPromoCode(context.Background(), 1, "bonus")
	require.NoError(t, err)

	_, err = f.svc.Purchase(context.Background(), 1, nil, attemptID, "pkg-50")
	require.ErrorIs(t, err, purchase.ErrLedgerCreditFailed)

	assert.False(t, f.backend.used["BONUS"])

	listing, err := f.svc.ListPackages(context.Background(), 1, nil)
	require.NoError(t, err)
	require.NotNil(t, listing.Applied)
	assert.Equal(t, "BONUS", listing.Applied.Code)

	balance, err := f.svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, balance.Coins)
}

func TestPurchase_ProductionWithoutPaymentBackend(t *testing.T) {
	f := newFixture(t, model.ModeProduction, nil)

	_, err := f.svc.Purchase(context.Background(), 1, nil, attemptID, "pkg-50")
	require.ErrorIs(t, err, purchase.ErrPaymentBackendUnavailable)

	balance, err := f.svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, balance.Coins)

	a, err := f.svc.GetAttempt(1, attemptID)
	require.NoError(t, err)
	assert.Equal(t, model.StateBlocked, a.State)
}

func TestPurchase_CodeSwapRejectedWhileInFlight(t *testing.T) {
	sessions := &blockingSessions{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, model.ModeProduction, sessions)

	_, err := f.svc.ApplyPromoCode(context.Background(), 1, "twenty")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Purchase(context.Background(), 1, nil, attemptID, "pkg-50")
		done <- err
	}()

	select {
	case <-sessions.started:
	case <-time.After(time.Second):
		t.Fatal("purchase did not reach payment backend")
	}

	_, err = f.svc.ApplyPromoCode(context.Background(), 1, "bonus")
	assert.ErrorIs(t, err, checkout.ErrPurchaseInFlight)
	assert.ErrorIs(t, f.svc.RemovePromoCode(1), checkout.ErrPurchaseInFlight)

	close(sessions.release)
	require.NoError(t, <-done)

	assert.NoError(t, f.svc.RemovePromoCode(1))
}

func TestGetAttempt_OtherUser(t *testing.T) {
	f := newFixture(t, model.ModeDevelopment, nil)

	_, err := f.svc.Purchase(context.Background(), 1, nil, attemptID, "pkg-50")
	require.NoError(t, err)

	_, err = f.svc.GetAttempt(2, attemptID)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}
