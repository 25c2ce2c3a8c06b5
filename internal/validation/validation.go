// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizePromoCode приводит промокод к каноническому виду: без пробелов по краям, в верхнем регистре.
func NormalizePromoCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsValidAttemptID проверяет, что токен попытки покупки является UUID.
func IsValidAttemptID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
