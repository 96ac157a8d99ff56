// Package watchdog は生成状態の監視ジョブを提供する。
// 実行主体の異常終了などでgenerating状態のまま放置されたメタを検出し、
// タイムアウト超過でerror状態へ降格させる。あわせて期限切れの
// キャッシュエントリを物理削除する。
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/shopfeed/internal/cache"
	"github.com/hitoshi/shopfeed/internal/model"
	"github.com/hitoshi/shopfeed/internal/repository"
)

// ExpiredPurger は期限切れキャッシュエントリの物理削除インターフェース。
type ExpiredPurger interface {
	// PurgeExpired は期限切れのエントリを削除し、削除件数を返す。
	PurgeExpired(ctx context.Context) (int64, error)
}

// Watchdog はgenerating状態の放置を監視するジョブ。
// メタは助言的な記録にすぎず実行主体とのリースを持たないため、
// 経過時間ベースのタイムアウトで終端状態への遷移を保証する。
type Watchdog struct {
	cache   *cache.Cache
	sites   repository.SiteRepository
	purger  ExpiredPurger
	logger  *slog.Logger
	timeout time.Duration
}

// New はWatchdogの新しいインスタンスを生成する。
// timeoutが0以下の場合はデフォルト値30分を使用する。purgerはnilでもよい。
func New(
	c *cache.Cache,
	sites repository.SiteRepository,
	purger ExpiredPurger,
	logger *slog.Logger,
	timeout time.Duration,
) *Watchdog {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Watchdog{
		cache:   c,
		sites:   sites,
		purger:  purger,
		logger:  logger,
		timeout: timeout,
	}
}

// Start は指定間隔のティッカーで監視ジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Watchdog) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("生成状態の監視ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("timeout", w.timeout),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("生成状態の監視ジョブを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("監視サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全サイトの生成状態を1回検査し、タイムアウト超過の
// generating状態をerrorへ降格させる。あわせて期限切れエントリを削除する。
// 冪等: 降格対象がない場合でもエラーにならない。
func (w *Watchdog) RunOnce(ctx context.Context) error {
	sites, err := w.sites.ListAll(ctx)
	if err != nil {
		return err
	}

	for _, site := range sites {
		if err := w.inspect(ctx, site.ID); err != nil {
			w.logger.Error("生成状態の検査に失敗しました",
				slog.Int64("site_id", site.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if w.purger != nil {
		deleted, err := w.purger.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		if deleted > 0 {
			w.logger.Info("期限切れキャッシュエントリを削除しました",
				slog.Int64("deleted_count", deleted),
			)
		}
	}

	return nil
}

// inspect は1サイトの生成状態を検査し、必要ならerrorへ降格させる。
func (w *Watchdog) inspect(ctx context.Context, siteID int64) error {
	meta, err := w.cache.GetMeta(ctx, siteID)
	if err != nil {
		return err
	}
	if meta.Status != model.GenerationStatusGenerating {
		return nil
	}
	if meta.StartedAt == nil || time.Since(*meta.StartedAt) < w.timeout {
		return nil
	}

	now := time.Now()
	demoted := model.GenerationMeta{
		Status:      model.GenerationStatusError,
		StartedAt:   meta.StartedAt,
		CompletedAt: &now,
		Error:       "generation timed out",
	}
	if err := w.cache.PutMeta(ctx, siteID, demoted); err != nil {
		return err
	}

	w.logger.Error("タイムアウトした生成状態をエラーへ降格しました",
		slog.Int64("site_id", siteID),
		slog.Time("started_at", *meta.StartedAt),
		slog.Duration("timeout", w.timeout),
	)

	return nil
}
