// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shopfeed/internal/feed"
	"github.com/hitoshi/shopfeed/internal/metrics"
	"github.com/hitoshi/shopfeed/internal/model"
	"github.com/hitoshi/shopfeed/internal/render"
)

// FeedServerInterface はフィード配信ハンドラーが必要とするサービスインターフェース。
type FeedServerInterface interface {
	// Serve はフィード読み取りリクエストに対する配信判断を行う。
	Serve(ctx context.Context, siteID int64) (*feed.ServeResult, error)
}

// FeedHandler は公開フィード配信のHTTPハンドラー。
type FeedHandler struct {
	service  FeedServerInterface
	metrics  metrics.Collector
	cacheTTL time.Duration
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServerInterface, collector metrics.Collector, cacheTTL time.Duration) *FeedHandler {
	return &FeedHandler{
		service:  service,
		metrics:  collector,
		cacheTTL: cacheTTL,
	}
}

// ServeFeed はフィードXMLを配信する。
// GET /feeds/{siteID}.xml
//
// キャッシュヒットまたはその場の組み立てに成功した場合は200、
// 生成中の場合はRetry-Afterヘッダー付きの503を返す。
// レスポンスボディは常に妥当なXMLドキュメントになる。
func (h *FeedHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	siteID, err := parseSiteID(r)
	if err != nil {
		h.metrics.RecordServeStatus(http.StatusNotFound)
		writeXML(w, http.StatusNotFound, render.ErrorEnvelope("feed not found"))
		return
	}

	result, err := h.service.Serve(r.Context(), siteID)
	if err != nil {
		if model.IsValidation(err) {
			h.metrics.RecordServeStatus(http.StatusNotFound)
			writeXML(w, http.StatusNotFound, render.ErrorEnvelope("feed not found"))
			return
		}

		slog.Error("フィード配信に失敗しました",
			slog.Int64("site_id", siteID),
			slog.String("error", err.Error()),
		)
		h.metrics.RecordServeStatus(http.StatusInternalServerError)
		writeXML(w, http.StatusInternalServerError, render.ErrorEnvelope("feed temporarily unavailable"))
		return
	}

	if result.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	}
	if result.StatusCode == http.StatusOK {
		maxAge := int(h.cacheTTL.Seconds())
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	}

	h.metrics.RecordServeStatus(result.StatusCode)
	writeXML(w, result.StatusCode, result.Body)
}

// parseSiteID はURLパラメータからサイトIDを抽出する。
func parseSiteID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "siteID"), 10, 64)
}

// writeXML はXMLレスポンスを書き込む。
func writeXML(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(body)
}
