package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shopfeed/internal/metrics"
	"github.com/hitoshi/shopfeed/internal/middleware"
)

// Pinger はヘルスチェックで使うデータベース疎通確認のインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	FeedService  FeedServerInterface
	AdminService AdminServiceInterface
	RateLimiter  *middleware.RateLimiter
	Metrics      metrics.Collector
	MetricsHTTP  http.Handler
	DB           Pinger
	Logger       *slog.Logger
	CacheTTL     time.Duration
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → （管理APIのみ）RateLimitMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	feedHandler := NewFeedHandler(deps.FeedService, deps.Metrics, deps.CacheTTL)
	adminHandler := NewAdminHandler(deps.AdminService)

	// 公開フィード配信
	r.Get("/feeds/{siteID}.xml", feedHandler.ServeFeed)

	// 管理API（クライアントIPごとのレート制限付き）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AdminMiddleware())

		r.Route("/api/sites/{siteID}", func(r chi.Router) {
			r.Route("/feed", func(r chi.Router) {
				r.Get("/status", adminHandler.GetStatus)
				r.Get("/cache-status", adminHandler.GetCacheStatus)
				r.Post("/regenerate", adminHandler.Regenerate)
				r.Post("/invalidate", adminHandler.Invalidate)
			})

			r.Post("/products/{productID}/changed", adminHandler.ProductChanged)
		})
	})

	// ヘルスチェック
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := deps.DB.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheusメトリクス
	if deps.MetricsHTTP != nil {
		r.Handle("/metrics", deps.MetricsHTTP)
	}

	return r
}
