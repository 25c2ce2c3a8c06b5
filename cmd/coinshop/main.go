// Package main запускает HTTP-сервер магазина монет.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/coinshop/internal/catalog"
	"github.com/mmeshcher/coinshop/internal/checkout"
	"github.com/mmeshcher/coinshop/internal/config"
	"github.com/mmeshcher/coinshop/internal/handler"
	"github.com/mmeshcher/coinshop/internal/middleware"
	"github.com/mmeshcher/coinshop/internal/payment"
	"github.com/mmeshcher/coinshop/internal/promo"
	"github.com/mmeshcher/coinshop/internal/purchase"
	"github.com/mmeshcher/coinshop/internal/repository"
	"github.com/mmeshcher/coinshop/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	// Без адреса платёжной системы сессии недоступны: в production покупки блокируются.
	var sessions purchase.SessionCreator
	if cfg.PaymentSystemAddress != "" {
		sessions = payment.NewClient(cfg.PaymentSystemAddress, cfg.PaymentRetryMax, logger)
	} else {
		sugar.Warnw("payment system address is not set", "mode", cfg.ExecutionMode)
	}

	cat, err := catalog.NewCatalog(repo, logger, cfg.FallbackCurrency)
	if err != nil {
		sugar.Fatalw("catalog initialization error", "error", err.Error())
	}

	orchestrator := purchase.NewOrchestrator(cfg.ExecutionMode, sessions, repo, repo, logger)

	svc := service.NewService(cat, promo.NewValidator(repo), orchestrator, repo, checkout.NewStore())
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, repo)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting coinshop server", "addr", cfg.RunAddress, "mode", cfg.ExecutionMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
