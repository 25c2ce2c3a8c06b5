// Package payment предоставляет клиент внешней платёжной системы.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const sessionsPath = "/api/payments/sessions"

// ErrUnavailable оборачивает любую ошибку создания платёжной сессии.
var ErrUnavailable = errors.New("payment backend unavailable")

// StatusError возвращается, если платёжная система ответила кодом не из диапазона 2xx.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

// SessionRequest описывает запрос на создание платёжной сессии.
// Сумма не передаётся: платёжная система считает её сама по пакету и промокоду.
type SessionRequest struct {
	PackageID string `json:"packageId"`
	PromoCode string `json:"promoCode,omitempty"`
	UserID    int64  `json:"userId"`
}

// Session описывает созданную платёжную сессию.
type Session struct {
	URL string `json:"sessionUrl"`
}

// Client инкапсулирует HTTP-взаимодействие с платёжной системой.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент платёжной системы. retryMax ограничивает число повторов
// при сетевых ошибках и ответах 5xx.
func NewClient(baseURL string, retryMax int, logger *zap.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger.Sugar()}

	return &Client{
		baseURL:    base,
		httpClient: rc,
	}
}

// CreateSession запрашивает платёжную сессию. idempotencyKey передаётся в заголовке
// Idempotency-Key, чтобы повтор запроса не создавал вторую сессию.
func (c *Client) CreateSession(ctx context.Context, sr SessionRequest, idempotencyKey string) (*Session, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}

	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrUnavailable, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionsPath, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: do request: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, &StatusError{StatusCode: resp.StatusCode})
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if s.URL == "" {
		return nil, fmt.Errorf("%w: empty session url", ErrUnavailable)
	}

	return &s, nil
}

// leveledLogger направляет журнал повторов retryablehttp в zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
