package model

import "time"

// PurchaseMode описывает путь, которым прошла покупка.
type PurchaseMode string

const (
	PurchaseModeRemoteSession PurchaseMode = "remote-session"
	PurchaseModeLocalFallback PurchaseMode = "local-fallback"
)

// AttemptState описывает шаг конечного автомата попытки покупки.
type AttemptState string

const (
	StateInit              AttemptState = "INIT"
	StateRequestingSession AttemptState = "REQUESTING_SESSION"
	StateRedirecting       AttemptState = "REDIRECTING"
	StateFallbackEligible  AttemptState = "FALLBACK_ELIGIBLE"
	StateLocalCrediting    AttemptState = "LOCAL_CREDITING"
	StateSucceeded         AttemptState = "SUCCEEDED"
	StateBlocked           AttemptState = "BLOCKED"
	StateFailed            AttemptState = "FAILED"
)

// Terminal сообщает, завершена ли попытка.
func (s AttemptState) Terminal() bool {
	switch s {
	case StateRedirecting, StateSucceeded, StateBlocked, StateFailed:
		return true
	}
	return false
}

// Successful сообщает, завершилась ли попытка успешно (включая переход на оплату).
func (s AttemptState) Successful() bool {
	return s == StateRedirecting || s == StateSucceeded
}

// PurchaseStatus описывает итог попытки с точки зрения пользователя.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseSucceeded PurchaseStatus = "succeeded"
	PurchaseFailed    PurchaseStatus = "failed"
)

// PurchaseAttempt хранит состояние одной попытки покупки.
// Пакет и скидка копируются при создании и не меняются до завершения.
type PurchaseAttempt struct {
	ID        string
	UserID    int64
	Package   CoinPackage
	Discount  *AppliedDiscount
	Mode      PurchaseMode
	State     AttemptState
	Status    PurchaseStatus
	CreatedAt time.Time
}

// PurchaseOutcome возвращается вызывающему по завершении попытки.
type PurchaseOutcome struct {
	AttemptID    string
	Status       PurchaseStatus
	Mode         PurchaseMode
	SessionURL   string
	CoinsGranted int64
	// Replayed выставляется, если результат взят из ранее завершённой попытки.
	Replayed bool
}
