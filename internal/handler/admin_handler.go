package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shopfeed/internal/model"
)

// AdminServiceInterface は管理ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	// Status はサイトの生成状態メタを返す。
	Status(ctx context.Context, siteID int64) (model.GenerationMeta, error)
	// CacheStatus はサイトのキャッシュ状態の集計値を返す。
	CacheStatus(ctx context.Context, siteID int64) (model.StatusSummary, error)
	// ForceRegenerate は全キャッシュを無効化してフル生成タスクを強制的に積む。
	ForceRegenerate(ctx context.Context, siteID int64) (bool, error)
	// Invalidate はサイトの全キャッシュを無効化する。再生成は積まない。
	Invalidate(ctx context.Context, siteID int64) error
	// InvalidateProduct は商品の変更に対応するシャードを無効化し、再生成タスクを積む。
	InvalidateProduct(ctx context.Context, siteID, productID int64) (int, error)
}

// AdminHandler はフィード管理APIのHTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// queuedResponse はタスク投入系エンドポイントのレスポンス。
type queuedResponse struct {
	Queued     bool `json:"queued"`
	ShardIndex *int `json:"shard_index,omitempty"`
}

// GetStatus はサイトの生成状態を取得する。
// GET /api/sites/{siteID}/feed/status
func (h *AdminHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	siteID, ok := adminSiteID(w, r)
	if !ok {
		return
	}

	meta, err := h.service.Status(r.Context(), siteID)
	if err != nil {
		handleAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// GetCacheStatus はサイトのキャッシュ状態の集計値を取得する。
// GET /api/sites/{siteID}/feed/cache-status
func (h *AdminHandler) GetCacheStatus(w http.ResponseWriter, r *http.Request) {
	siteID, ok := adminSiteID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.CacheStatus(r.Context(), siteID)
	if err != nil {
		handleAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Regenerate は全キャッシュを無効化してフル生成を強制する。
// POST /api/sites/{siteID}/feed/regenerate
func (h *AdminHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	siteID, ok := adminSiteID(w, r)
	if !ok {
		return
	}

	queued, err := h.service.ForceRegenerate(r.Context(), siteID)
	if err != nil {
		handleAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, queuedResponse{Queued: queued})
}

// Invalidate はサイトの全キャッシュを無効化する。再生成は積まない。
// POST /api/sites/{siteID}/feed/invalidate
func (h *AdminHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	siteID, ok := adminSiteID(w, r)
	if !ok {
		return
	}

	if err := h.service.Invalidate(r.Context(), siteID); err != nil {
		handleAdminError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ProductChanged は商品変更の通知を受け、該当シャードの再生成を積む。
// POST /api/sites/{siteID}/products/{productID}/changed
func (h *AdminHandler) ProductChanged(w http.ResponseWriter, r *http.Request) {
	siteID, ok := adminSiteID(w, r)
	if !ok {
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiErrorResponse{
			Code:    "invalid_product_id",
			Message: "product ID must be an integer",
		})
		return
	}

	shardIndex, err := h.service.InvalidateProduct(r.Context(), siteID, productID)
	if err != nil {
		handleAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true, ShardIndex: &shardIndex})
}

// adminSiteID はURLパラメータからサイトIDを抽出する。
// 解析に失敗した場合は400レスポンスを書き込み、ok=falseを返す。
func adminSiteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	siteID, err := strconv.ParseInt(chi.URLParam(r, "siteID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiErrorResponse{
			Code:    "invalid_site_id",
			Message: "site ID must be an integer",
		})
		return 0, false
	}
	return siteID, true
}

// handleAdminError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleAdminError(w http.ResponseWriter, err error) {
	if model.IsValidation(err) {
		writeJSON(w, http.StatusNotFound, apiErrorResponse{
			Code:    "not_found",
			Message: err.Error(),
		})
		return
	}

	// ValidationError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, apiErrorResponse{
		Code:    "internal_error",
		Message: "internal server error",
	})
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
