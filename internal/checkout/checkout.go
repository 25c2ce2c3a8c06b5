// Package checkout хранит применённый пользователем промокод до начала покупки.
package checkout

import (
	"errors"
	"sync"
	"time"

	"github.com/mmeshcher/coinshop/internal/model"
)

// ErrPurchaseInFlight возвращается при попытке изменить скидку или начать вторую покупку,
// пока предыдущая не завершилась.
var ErrPurchaseInFlight = errors.New("purchase already in progress")

type slot struct {
	discount *model.AppliedDiscount
	inFlight bool
}

// Store хранит по одной применённой скидке на пользователя.
type Store struct {
	mu    sync.Mutex
	slots map[int64]*slot
	now   func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		slots: make(map[int64]*slot),
		now:   time.Now,
	}
}

// Apply применяет промокод, заменяя ранее применённый.
func (s *Store) Apply(userID int64, code model.PromotionalCode) (model.AppliedDiscount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slotLocked(userID)
	if sl.inFlight {
		return model.AppliedDiscount{}, ErrPurchaseInFlight
	}

	d := model.AppliedDiscount{PromotionalCode: code, AppliedAt: s.now()}
	sl.discount = &d
	return d, nil
}

// Remove снимает применённый промокод.
func (s *Store) Remove(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[userID]
	if !ok {
		return nil
	}
	if sl.inFlight {
		return ErrPurchaseInFlight
	}
	delete(s.slots, userID)
	return nil
}

// Applied возвращает копию применённой скидки или nil.
func (s *Store) Applied(userID int64) *model.AppliedDiscount {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[userID]
	if !ok || sl.discount == nil {
		return nil
	}
	d := *sl.discount
	return &d
}

// Begin фиксирует скидку для покупки и запрещает её изменение до вызова release.
// release(true) снимает скидку (код израсходован или передан платёжной системе),
// release(false) оставляет её для повторной попытки.
func (s *Store) Begin(userID int64) (*model.AppliedDiscount, func(consumed bool), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slotLocked(userID)
	if sl.inFlight {
		return nil, nil, ErrPurchaseInFlight
	}
	sl.inFlight = true

	var snapshot *model.AppliedDiscount
	if sl.discount != nil {
		d := *sl.discount
		snapshot = &d
	}

	var once sync.Once
	release := func(consumed bool) {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			sl.inFlight = false
			if consumed || sl.discount == nil {
				delete(s.slots, userID)
			}
		})
	}

	return snapshot, release, nil
}

func (s *Store) slotLocked(userID int64) *slot {
	sl, ok := s.slots[userID]
	if !ok {
		sl = &slot{}
		s.slots[userID] = sl
	}
	return sl
}
