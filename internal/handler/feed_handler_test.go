package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/shopfeed/internal/feed"
	"github.com/hitoshi/shopfeed/internal/metrics"
	"github.com/hitoshi/shopfeed/internal/middleware"
	"github.com/hitoshi/shopfeed/internal/model"
)

// --- モック定義 ---

// mockFeedServer はFeedServerInterfaceのテスト用モック。
type mockFeedServer struct {
	serveFunc func(ctx context.Context, siteID int64) (*feed.ServeResult, error)
}

func (m *mockFeedServer) Serve(ctx context.Context, siteID int64) (*feed.ServeResult, error) {
	if m.serveFunc != nil {
		return m.serveFunc(ctx, siteID)
	}
	return &feed.ServeResult{StatusCode: http.StatusOK, Body: []byte("<rss/>")}, nil
}

// mockAdminService はAdminServiceInterfaceのテスト用モック。
type mockAdminService struct {
	statusFunc            func(ctx context.Context, siteID int64) (model.GenerationMeta, error)
	cacheStatusFunc       func(ctx context.Context, siteID int64) (model.StatusSummary, error)
	forceRegenerateFunc   func(ctx context.Context, siteID int64) (bool, error)
	invalidateFunc        func(ctx context.Context, siteID int64) error
	invalidateProductFunc func(ctx context.Context, siteID, productID int64) (int, error)
}

func (m *mockAdminService) Status(ctx context.Context, siteID int64) (model.GenerationMeta, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, siteID)
	}
	return model.DefaultGenerationMeta(), nil
}

func (m *mockAdminService) CacheStatus(ctx context.Context, siteID int64) (model.StatusSummary, error) {
	if m.cacheStatusFunc != nil {
		return m.cacheStatusFunc(ctx, siteID)
	}
	return model.StatusSummary{}, nil
}

func (m *mockAdminService) ForceRegenerate(ctx context.Context, siteID int64) (bool, error) {
	if m.forceRegenerateFunc != nil {
		return m.forceRegenerateFunc(ctx, siteID)
	}
	return true, nil
}

func (m *mockAdminService) Invalidate(ctx context.Context, siteID int64) error {
	if m.invalidateFunc != nil {
		return m.invalidateFunc(ctx, siteID)
	}
	return nil
}

func (m *mockAdminService) InvalidateProduct(ctx context.Context, siteID, productID int64) (int, error) {
	if m.invalidateProductFunc != nil {
		return m.invalidateProductFunc(ctx, siteID, productID)
	}
	return 0, nil
}

func newTestRouter(feedSvc FeedServerInterface, adminSvc AdminServiceInterface) http.Handler {
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(100000))
	return NewRouter(&RouterDeps{
		FeedService:  feedSvc,
		AdminService: adminSvc,
		RateLimiter:  rateLimiter,
		Metrics:      metrics.Noop{},
		Logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CacheTTL:     time.Hour,
	})
}

// --- テスト ---

// TestServeFeed_OK はキャッシュヒット時のレスポンスヘッダーとボディを確認する。
func TestServeFeed_OK(t *testing.T) {
	feedSvc := &mockFeedServer{
		serveFunc: func(ctx context.Context, siteID int64) (*feed.ServeResult, error) {
			if siteID != 1 {
				t.Errorf("expected site 1, got %d", siteID)
			}
			return &feed.ServeResult{StatusCode: http.StatusOK, Body: []byte("<rss>ok</rss>")}, nil
		},
	}
	router := newTestRouter(feedSvc, &mockAdminService{})

	req := httptest.NewRequest(http.MethodGet, "/feeds/1.xml", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/xml; charset=utf-8" {
		t.Errorf("unexpected content type: %s", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("unexpected cache control: %s", got)
	}
	if rec.Body.String() != "<rss>ok</rss>" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

// TestServeFeed_Generating は生成中の503とRetry-Afterヘッダーを確認する。
func TestServeFeed_Generating(t *testing.T) {
	feedSvc := &mockFeedServer{
		serveFunc: func(ctx context.Context, siteID int64) (*feed.ServeResult, error) {
			return &feed.ServeResult{
				StatusCode: http.StatusServiceUnavailable,
				Body:       []byte("<rss>generating</rss>"),
				RetryAfter: 60,
			}, nil
		},
	}
	router := newTestRouter(feedSvc, &mockAdminService{})

	req := httptest.NewRequest(http.MethodGet, "/feeds/1.xml", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("expected Retry-After 60, got %s", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "" {
		t.Errorf("expected no cache control on 503, got %s", got)
	}
}

// TestServeFeed_UnknownSite は存在しないサイトで404とXMLエンベロープが返ることを確認する。
func TestServeFeed_UnknownSite(t *testing.T) {
	feedSvc := &mockFeedServer{
		serveFunc: func(ctx context.Context, siteID int64) (*feed.ServeResult, error) {
			return nil, model.NewSiteNotFoundError(siteID)
		},
	}
	router := newTestRouter(feedSvc, &mockAdminService{})

	req := httptest.NewRequest(http.MethodGet, "/feeds/42.xml", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<rss") {
		t.Errorf("expected XML envelope body, got %s", rec.Body.String())
	}
}

// TestServeFeed_InternalError は内部エラーで500とエラーエンベロープが返ることを確認する。
func TestServeFeed_InternalError(t *testing.T) {
	feedSvc := &mockFeedServer{
		serveFunc: func(ctx context.Context, siteID int64) (*feed.ServeResult, error) {
			return nil, errors.New("store down")
		},
	}
	router := newTestRouter(feedSvc, &mockAdminService{})

	req := httptest.NewRequest(http.MethodGet, "/feeds/1.xml", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Feed Error") {
		t.Errorf("expected error envelope, got %s", rec.Body.String())
	}
	// 内部事情はボディに漏らさない
	if strings.Contains(rec.Body.String(), "store down") {
		t.Error("expected internal error details to be hidden")
	}
}

// TestServeFeed_NonNumericSiteID は数値でないサイトIDが404になることを確認する。
func TestServeFeed_NonNumericSiteID(t *testing.T) {
	router := newTestRouter(&mockFeedServer{}, &mockAdminService{})

	req := httptest.NewRequest(http.MethodGet, "/feeds/abc.xml", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// TestHealthz はヘルスチェックエンドポイントを確認する。
func TestHealthz(t *testing.T) {
	router := newTestRouter(&mockFeedServer{}, &mockAdminService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body ok, got %s", rec.Body.String())
	}
}
