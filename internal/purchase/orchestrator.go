// Package purchase проводит покупку пакета монет от запроса платёжной сессии
// до зачисления монет и погашения промокода.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/coinshop/internal/model"
	"github.com/mmeshcher/coinshop/internal/payment"
	"github.com/mmeshcher/coinshop/internal/pricing"
)

// attemptTTL определяет, сколько хранится завершённая попытка для повторных вызовов.
const attemptTTL = 24 * time.Hour

var (
	// ErrPaymentBackendUnavailable возвращается в production, если платёжная сессия не создана.
	ErrPaymentBackendUnavailable = errors.New("payment backend unavailable")
	// ErrLedgerCreditFailed возвращается, если не удалось зачислить монеты в обход оплаты.
	ErrLedgerCreditFailed = errors.New("ledger credit failed")
	// ErrAttemptInProgress возвращается при повторном вызове незавершённой попытки.
	ErrAttemptInProgress = errors.New("purchase attempt in progress")
	// ErrAttemptOwnership возвращается, если токен попытки принадлежит другому пользователю.
	ErrAttemptOwnership = errors.New("purchase attempt belongs to another user")

	errNoSessionEndpoint = errors.New("payment session endpoint not configured")
)

// SessionCreator создаёт платёжные сессии.
type SessionCreator interface {
	CreateSession(ctx context.Context, sr payment.SessionRequest, idempotencyKey string) (*payment.Session, error)
}

// Ledger зачисляет монеты на счёт пользователя.
type Ledger interface {
	AddCoins(ctx context.Context, userID int64, amount int64, reason string) error
}

// CodeConsumer отмечает промокод использованным.
type CodeConsumer interface {
	ConsumePromoCode(ctx context.Context, code string, userID int64) error
}

// Request описывает покупку. Package и Discount копируются в попытку при её создании.
type Request struct {
	AttemptID string
	UserID    int64
	Package   model.CoinPackage
	Discount  *model.AppliedDiscount
}

type entry struct {
	attempt   model.PurchaseAttempt
	outcome   *model.PurchaseOutcome
	updatedAt time.Time
}

// Orchestrator проводит попытки покупки. Режим исполнения задаётся при создании
// и определяет, допустимо ли зачисление монет без платёжной системы.
type Orchestrator struct {
	mode     model.ExecutionMode
	sessions SessionCreator
	ledger   Ledger
	codes    CodeConsumer
	logger   *zap.Logger

	mu       sync.Mutex
	attempts map[string]*entry
	now      func() time.Time
}

// NewOrchestrator создаёт оркестратор. sessions может быть nil, если платёжная система не настроена.
func NewOrchestrator(mode model.ExecutionMode, sessions SessionCreator, ledger Ledger, codes CodeConsumer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		mode:     mode,
		sessions: sessions,
		ledger:   ledger,
		codes:    codes,
		logger:   logger,
		attempts: make(map[string]*entry),
		now:      time.Now,
	}
}

// Purchase проводит попытку покупки. Повторный вызов с токеном успешно завершённой
// попытки возвращает прежний результат без побочных эффектов.
func (o *Orchestrator) Purchase(ctx context.Context, req Request) (*model.PurchaseOutcome, error) {
	attempt, prior, err := o.begin(req)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, nil
	}

	outcome, err := o.run(ctx, &attempt)
	o.finish(attempt, outcome)
	if err != nil {
		return nil, err
	}

	res := *outcome
	return &res, nil
}

// Attempt возвращает текущее состояние попытки.
func (o *Orchestrator) Attempt(id string) (model.PurchaseAttempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.attempts[id]
	if !ok {
		return model.PurchaseAttempt{}, false
	}
	return e.attempt, true
}

func (o *Orchestrator) begin(req Request) (model.PurchaseAttempt, *model.PurchaseOutcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	o.pruneLocked(now)

	if e, ok := o.attempts[req.AttemptID]; ok {
		if e.attempt.UserID != req.UserID {
			return model.PurchaseAttempt{}, nil, ErrAttemptOwnership
		}
		if e.attempt.State.Successful() && e.outcome != nil {
			res := *e.outcome
			res.Replayed = true
			return model.PurchaseAttempt{}, &res, nil
		}
		if !e.attempt.State.Terminal() {
			return model.PurchaseAttempt{}, nil, ErrAttemptInProgress
		}
	}

	attempt := model.PurchaseAttempt{
		ID:        req.AttemptID,
		UserID:    req.UserID,
		Package:   req.Package,
		State:     model.StateInit,
		Status:    model.PurchasePending,
		CreatedAt: now,
	}
	if req.Discount != nil {
		d := *req.Discount
		attempt.Discount = &d
	}

	o.attempts[attempt.ID] = &entry{attempt: attempt, updatedAt: now}
	return attempt, nil, nil
}

func (o *Orchestrator) run(ctx context.Context, a *model.PurchaseAttempt) (*model.PurchaseOutcome, error) {
	log := o.logger.With(zap.String("attempt", a.ID), zap.Int64("userID", a.UserID), zap.String("package", a.Package.ID))
	priced := pricing.Price(a.Package, a.Discount)

	var code string
	if a.Discount != nil {
		code = a.Discount.Code
	}

	a.Mode = model.PurchaseModeRemoteSession
	o.transition(a, model.StateRequestingSession)

	sessionErr := errNoSessionEndpoint
	if o.sessions != nil {
		s, err := o.sessions.CreateSession(ctx, payment.SessionRequest{
			PackageID: a.Package.ID,
			PromoCode: code,
			UserID:    a.UserID,
		}, a.ID)
		if err == nil {
			o.transition(a, model.StateRedirecting)
			return o.outcome(a, model.PurchasePending, s.URL, priced.CoinsGranted), nil
		}
		if ctx.Err() != nil {
			o.transition(a, model.StateFailed)
			return o.outcome(a, model.PurchaseFailed, "", 0), fmt.Errorf("request payment session: %w", ctx.Err())
		}
		log.Warn("payment session request failed", zap.Error(err))
		sessionErr = err
	}

	o.transition(a, model.StateFallbackEligible)

	if o.mode != model.ModeDevelopment {
		o.transition(a, model.StateBlocked)
		log.Error("payment backend unavailable in production", zap.Error(sessionErr))
		return o.outcome(a, model.PurchaseFailed, "", 0), fmt.Errorf("%w: %w", ErrPaymentBackendUnavailable, sessionErr)
	}

	a.Mode = model.PurchaseModeLocalFallback
	o.transition(a, model.StateLocalCrediting)

	if err := o.ledger.AddCoins(ctx, a.UserID, priced.CoinsGranted, creditReason(a)); err != nil {
		o.transition(a, model.StateFailed)
		log.Error("fallback ledger credit failed", zap.Error(err))
		return o.outcome(a, model.PurchaseFailed, "", 0), fmt.Errorf("%w: %w", ErrLedgerCreditFailed, err)
	}

	if code != "" {
		// Монеты уже зачислены: погашение не должно зависеть от ухода пользователя со страницы.
		if err := o.codes.ConsumePromoCode(context.WithoutCancel(ctx), code, a.UserID); err != nil {
			log.Error("consume promotional code after credit", zap.Error(err), zap.String("code", code))
		}
	}

	o.transition(a, model.StateSucceeded)
	log.Info("coins credited without payment session", zap.Int64("coins", priced.CoinsGranted))
	return o.outcome(a, model.PurchaseSucceeded, "", priced.CoinsGranted), nil
}

func (o *Orchestrator) transition(a *model.PurchaseAttempt, state model.AttemptState) {
	a.State = state

	o.mu.Lock()
	defer o.mu.Unlock()

	if e, ok := o.attempts[a.ID]; ok {
		e.attempt = *a
		e.updatedAt = o.now()
	}
}

func (o *Orchestrator) outcome(a *model.PurchaseAttempt, status model.PurchaseStatus, sessionURL string, coins int64) *model.PurchaseOutcome {
	a.Status = status
	return &model.PurchaseOutcome{
		AttemptID:    a.ID,
		Status:       status,
		Mode:         a.Mode,
		SessionURL:   sessionURL,
		CoinsGranted: coins,
	}
}

func (o *Orchestrator) finish(a model.PurchaseAttempt, outcome *model.PurchaseOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e, ok := o.attempts[a.ID]; ok {
		e.attempt = a
		e.outcome = outcome
		e.updatedAt = o.now()
	}
}

func (o *Orchestrator) pruneLocked(now time.Time) {
	for id, e := range o.attempts {
		if e.attempt.State.Terminal() && now.Sub(e.updatedAt) > attemptTTL {
			delete(o.attempts, id)
		}
	}
}

func creditReason(a *model.PurchaseAttempt) string {
	reason := fmt.Sprintf("coin package %s (%s), attempt %s", a.Package.ID, a.Package.Name, a.ID)
	if a.Discount != nil {
		reason += ", promo " + a.Discount.Code
	}
	return reason
}
