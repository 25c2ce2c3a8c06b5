package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/coinshop/internal/model"
)

// SiteResolver находит площадку по доменному имени.
type SiteResolver interface {
	GetSiteByDomain(ctx context.Context, domain string) (*model.Site, error)
}

// Site определяет площадку по заголовку Host и добавляет её в контекст запроса.
// Если площадка не найдена, запрос обслуживается с глобальным каталогом.
func Site(resolver SiteResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			domain := hostOnly(r.Host)
			if resolver == nil || domain == "" {
				next.ServeHTTP(w, r)
				return
			}

			site, err := resolver.GetSiteByDomain(r.Context(), domain)
			if err != nil {
				if !errors.Is(err, model.ErrSiteNotFound) {
					logger.Warn("resolve site", zap.Error(err), zap.String("domain", domain))
				}
				next.ServeHTTP(w, r)
				return
			}
			if site == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), siteKey, site)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSiteIDFromContext возвращает идентификатор площадки или nil для глобального каталога.
func GetSiteIDFromContext(ctx context.Context) *int64 {
	site, ok := ctx.Value(siteKey).(*model.Site)
	if !ok || site == nil {
		return nil
	}
	id := site.ID
	return &id
}

func hostOnly(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
