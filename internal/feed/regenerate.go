package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/shopfeed/internal/cache"
	"github.com/hitoshi/shopfeed/internal/metrics"
	"github.com/hitoshi/shopfeed/internal/model"
	"github.com/hitoshi/shopfeed/internal/normalize"
	"github.com/hitoshi/shopfeed/internal/repository"
)

// RegenerateJob は単一シャードの再生成ジョブ。
// 商品1件の変更をきっかけに、フルカタログの走査なしで対象シャードだけを
// 作り直す。絞り込みは剰余条件としてデータソースに押し込む。
// 同じカタログ状態で再実行しても同じシャード内容になる（冪等）。
type RegenerateJob struct {
	cache      *cache.Cache
	sites      repository.SiteRepository
	catalog    repository.CatalogRepository
	normalizer *normalize.Normalizer
	metrics    metrics.Collector
	logger     *slog.Logger
}

// NewRegenerateJob はRegenerateJobを生成する。
func NewRegenerateJob(
	c *cache.Cache,
	sites repository.SiteRepository,
	catalog repository.CatalogRepository,
	normalizer *normalize.Normalizer,
	collector metrics.Collector,
	logger *slog.Logger,
) *RegenerateJob {
	return &RegenerateJob{
		cache:      c,
		sites:      sites,
		catalog:    catalog,
		normalizer: normalizer,
		metrics:    collector,
		logger:     logger,
	}
}

// Run は指定シャードを再生成する。
// シャードインデックスが範囲外の場合はValidationErrorを返し、
// いかなるシャードも変更しない。組み立て済みXMLには直接触れない
// （PutShardの契約により暗黙に無効化される）。
func (j *RegenerateJob) Run(ctx context.Context, siteID int64, shardIndex int) error {
	shardCount := j.cache.ShardCount()
	if shardIndex < 0 || shardIndex >= shardCount {
		return model.NewInvalidShardIndexError(shardIndex, shardCount)
	}

	site, err := j.sites.FindByID(ctx, siteID)
	if err != nil {
		return err
	}
	if site == nil {
		return model.NewSiteNotFoundError(siteID)
	}

	start := time.Now()
	j.logger.Info("シャードの再生成を開始します",
		slog.Int64("site_id", siteID),
		slog.Int("shard_index", shardIndex),
	)

	variants, err := j.catalog.ScanByOwnerModulo(ctx, siteID, shardCount, shardIndex)
	if err != nil {
		return err
	}

	items := make([]model.FeedItem, 0, len(variants))
	for _, cv := range variants {
		item, err := j.normalizer.Normalize(site, cv)
		if err != nil {
			j.metrics.RecordItemError()
			j.logger.Error("アイテムの正規化に失敗したためスキップします",
				slog.Int64("site_id", siteID),
				slog.Int64("variant_id", cv.VariantID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if item == nil {
			continue
		}
		items = append(items, *item)
	}

	// シャード全体のアトミックな置換。部分マージはしない
	if err := j.cache.PutShard(ctx, siteID, shardIndex, items); err != nil {
		return err
	}

	j.metrics.RecordShardRegenerated()
	j.metrics.RecordItemsNormalized(len(items))
	j.logger.Info("シャードの再生成が完了しました",
		slog.Int64("site_id", siteID),
		slog.Int("shard_index", shardIndex),
		slog.Int("item_count", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
