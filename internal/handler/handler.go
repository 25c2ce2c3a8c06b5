// Package handler содержит HTTP-обработчики API магазина монет.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/coinshop/internal/catalog"
	"github.com/mmeshcher/coinshop/internal/checkout"
	"github.com/mmeshcher/coinshop/internal/middleware"
	"github.com/mmeshcher/coinshop/internal/model"
	"github.com/mmeshcher/coinshop/internal/promo"
	"github.com/mmeshcher/coinshop/internal/purchase"
	"github.com/mmeshcher/coinshop/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListPackages(ctx context.Context, userID int64, siteID *int64) (*service.Listing, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	ApplyPromoCode(ctx context.Context, userID int64, raw string) (model.AppliedDiscount, error)
	RemovePromoCode(userID int64) error
	Purchase(ctx context.Context, userID int64, siteID *int64, attemptID, packageID string) (*model.PurchaseOutcome, error)
	GetAttempt(userID int64, attemptID string) (model.PurchaseAttempt, error)
}

// SiteResolver определяет площадку по доменному имени.
type SiteResolver = middleware.SiteResolver

// Handler реализует HTTP-обработчики API магазина монет.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	sites          SiteResolver
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, sites SiteResolver) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		sites:          sites,
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, errorResponse{Error: code, Reason: reason})
}

type discountResponse struct {
	Code          string `json:"code"`
	DiscountType  string `json:"discount_type"`
	DiscountValue string `json:"discount_value"`
}

func newDiscountResponse(d *model.AppliedDiscount) *discountResponse {
	if d == nil {
		return nil
	}
	return &discountResponse{
		Code:          d.Code,
		DiscountType:  string(d.DiscountType),
		DiscountValue: d.DiscountValue.String(),
	}
}

type packageResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	Price        string `json:"price"`
	DisplayPrice string `json:"display_price"`
	Coins        int64  `json:"coins"`
	CoinsGranted int64  `json:"coins_granted"`
	SavingsLabel string `json:"savings_label,omitempty"`
}

type listingResponse struct {
	Source      string            `json:"source"`
	AppliedCode *discountResponse `json:"applied_code,omitempty"`
	Packages    []packageResponse `json:"packages"`
}

// GetPackages возвращает пакеты монет площадки с ценами по применённому промокоду.
func (h *Handler) GetPackages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	listing, err := h.service.ListPackages(r.Context(), userID, middleware.GetSiteIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("list packages error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := listingResponse{
		Source:      string(listing.Source),
		AppliedCode: newDiscountResponse(listing.Applied),
		Packages:    make([]packageResponse, 0, len(listing.Packages)),
	}
	for _, p := range listing.Packages {
		resp.Packages = append(resp.Packages, packageResponse{
			ID:           p.Package.ID,
			Name:         p.Package.Name,
			Currency:     string(p.Package.Currency),
			Price:        p.Pricing.OriginalPrice.StringFixed(2),
			DisplayPrice: p.Pricing.DisplayPrice.StringFixed(2),
			Coins:        p.Package.Coins,
			CoinsGranted: p.Pricing.CoinsGranted,
			SavingsLabel: p.Pricing.SavingsLabel,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetBalance возвращает монетный баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

type promoRequest struct {
	Code string `json:"code"`
}

// ApplyPromoCode проверяет и применяет промокод текущего пользователя.
func (h *Handler) ApplyPromoCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	applied, err := h.service.ApplyPromoCode(r.Context(), userID, req.Code)
	if err != nil {
		var invalid *promo.InvalidCodeError
		switch {
		case errors.Is(err, promo.ErrEmptyCode):
			writeError(w, http.StatusBadRequest, "empty_code", "")
		case errors.As(err, &invalid):
			writeError(w, http.StatusUnprocessableEntity, "invalid_code", invalid.Reason)
		case errors.Is(err, checkout.ErrPurchaseInFlight):
			writeError(w, http.StatusConflict, "purchase_in_progress", "")
		default:
			h.logger.Error("apply promo code error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, newDiscountResponse(&applied))
}

// RemovePromoCode снимает применённый промокод текущего пользователя.
func (h *Handler) RemovePromoCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.RemovePromoCode(userID); err != nil {
		if errors.Is(err, checkout.ErrPurchaseInFlight) {
			writeError(w, http.StatusConflict, "purchase_in_progress", "")
			return
		}
		h.logger.Error("remove promo code error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type purchaseRequest struct {
	AttemptID string `json:"attempt_id"`
	PackageID string `json:"package_id"`
}

type outcomeResponse struct {
	AttemptID    string `json:"attempt_id"`
	Status       string `json:"status"`
	Mode         string `json:"mode"`
	SessionURL   string `json:"session_url,omitempty"`
	CoinsGranted int64  `json:"coins_granted"`
}

// Purchase проводит покупку пакета монет текущим пользователем.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	out, err := h.service.Purchase(r.Context(), userID, middleware.GetSiteIDFromContext(r.Context()), req.AttemptID, req.PackageID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAttemptID):
			writeError(w, http.StatusBadRequest, "invalid_attempt_id", "")
		case errors.Is(err, catalog.ErrPackageNotFound):
			writeError(w, http.StatusNotFound, "package_not_found", "")
		case errors.Is(err, checkout.ErrPurchaseInFlight), errors.Is(err, purchase.ErrAttemptInProgress):
			writeError(w, http.StatusConflict, "purchase_in_progress", "")
		case errors.Is(err, purchase.ErrAttemptOwnership):
			writeError(w, http.StatusConflict, "attempt_conflict", "")
		case errors.Is(err, purchase.ErrPaymentBackendUnavailable):
			writeError(w, http.StatusServiceUnavailable, "payment_backend_unavailable", "payment is temporarily unavailable, please retry")
		case errors.Is(err, purchase.ErrLedgerCreditFailed):
			writeError(w, http.StatusBadGateway, "ledger_credit_failed", "coins could not be credited, please retry")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusRequestTimeout, "purchase_cancelled", "")
		default:
			h.logger.Error("purchase error", zap.Error(err), zap.Int64("userID", userID), zap.String("package", req.PackageID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, outcomeResponse{
		AttemptID:    out.AttemptID,
		Status:       string(out.Status),
		Mode:         string(out.Mode),
		SessionURL:   out.SessionURL,
		CoinsGranted: out.CoinsGranted,
	})
}

type attemptResponse struct {
	AttemptID string `json:"attempt_id"`
	PackageID string `json:"package_id"`
	State     string `json:"state"`
	Status    string `json:"status"`
	Mode      string `json:"mode,omitempty"`
	PromoCode string `json:"promo_code,omitempty"`
}

// GetAttempt возвращает состояние попытки покупки текущего пользователя.
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	a, err := h.service.GetAttempt(userID, chi.URLParam(r, "attemptID"))
	if err != nil {
		if errors.Is(err, service.ErrAttemptNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get attempt error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := attemptResponse{
		AttemptID: a.ID,
		PackageID: a.Package.ID,
		State:     string(a.State),
		Status:    string(a.Status),
		Mode:      string(a.Mode),
	}
	if a.Discount != nil {
		resp.PromoCode = a.Discount.Code
	}

	writeJSON(w, http.StatusOK, resp)
}
