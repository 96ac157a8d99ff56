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
	"github.com/hitoshi/shopfeed/internal/shard"
)

// GenerateJob はフルカタログのバッチ生成ジョブ。
//
// 状態機械: none/error/complete → generating → {complete | error}。
// スキャンは固定サイズのバッチで進み、正規化結果は一旦スクラッチバッファに
// 蓄積してからシャードへ分配する。1件の不正なカタログアイテムがバッチ全体を
// 中断させることはない。すべての終了パスで終端状態（complete/error）を記録する。
type GenerateJob struct {
	cache      *cache.Cache
	sites      repository.SiteRepository
	catalog    repository.CatalogRepository
	normalizer *normalize.Normalizer
	assembler  *Assembler
	metrics    metrics.Collector
	logger     *slog.Logger
	batchSize  int
}

// NewGenerateJob はGenerateJobを生成する。
// batchSizeが0以下の場合はデフォルト値100を使用する。
func NewGenerateJob(
	c *cache.Cache,
	sites repository.SiteRepository,
	catalog repository.CatalogRepository,
	normalizer *normalize.Normalizer,
	assembler *Assembler,
	collector metrics.Collector,
	logger *slog.Logger,
	batchSize int,
) *GenerateJob {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &GenerateJob{
		cache:      c,
		sites:      sites,
		catalog:    catalog,
		normalizer: normalizer,
		assembler:  assembler,
		metrics:    collector,
		logger:     logger,
		batchSize:  batchSize,
	}
}

// Run はサイトのフィードをフル生成する。
// サイトが存在しない場合はValidationErrorを返し、書き込みは一切行わない。
// 開始後のエラーはすべて GenerationMeta{status: error} として記録される。
func (j *GenerateJob) Run(ctx context.Context, siteID int64) error {
	site, err := j.sites.FindByID(ctx, siteID)
	if err != nil {
		return err
	}
	if site == nil {
		return model.NewSiteNotFoundError(siteID)
	}

	start := time.Now()
	j.logger.Info("フィードのフル生成を開始します",
		slog.Int64("site_id", siteID),
	)

	if err := j.begin(ctx, siteID, start); err != nil {
		return err
	}

	// generating状態に入った後は、どの経路で失敗しても必ず終端状態を記録する
	itemCount, err := j.generate(ctx, site)
	if err != nil {
		j.recordFailure(ctx, siteID, err)
		return err
	}

	duration := time.Since(start)
	j.metrics.RecordGenerationCompleted(duration, itemCount)
	j.logger.Info("フィードのフル生成が完了しました",
		slog.Int64("site_id", siteID),
		slog.Int("item_count", itemCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// begin は既存キャッシュを無効化し、generating状態とスキャン開始を記録する。
func (j *GenerateJob) begin(ctx context.Context, siteID int64, start time.Time) error {
	if err := j.cache.InvalidateAll(ctx, siteID); err != nil {
		return err
	}
	if err := j.cache.ClearScratch(ctx, siteID); err != nil {
		return err
	}

	meta := model.GenerationMeta{
		Status:    model.GenerationStatusGenerating,
		StartedAt: &start,
	}
	return j.cache.PutMeta(ctx, siteID, meta)
}

// generate はスキャン・蓄積・分配・組み立てを実行し、出力アイテム数を返す。
func (j *GenerateJob) generate(ctx context.Context, site *model.Site) (int, error) {
	if err := j.scan(ctx, site); err != nil {
		return 0, err
	}
	return j.finish(ctx, site)
}

// scan はカタログをバッチで走査し、正規化結果をスクラッチバッファへ蓄積する。
// 正規化に失敗したアイテムはログに記録してスキップする。
func (j *GenerateJob) scan(ctx context.Context, site *model.Site) error {
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			return &model.PipelineError{Phase: "scan", Err: err}
		}

		batch, err := j.catalog.ScanEligible(ctx, site.ID, offset, j.batchSize)
		if err != nil {
			return &model.PipelineError{Phase: "scan", Err: err}
		}
		if len(batch) == 0 {
			return nil
		}

		buffer := make([]model.OwnedItem, 0, len(batch))
		for _, cv := range batch {
			item, err := j.normalizer.Normalize(site, cv)
			if err != nil {
				// 1件の失敗でバッチ全体を中断しない
				j.metrics.RecordItemError()
				j.logger.Error("アイテムの正規化に失敗したためスキップします",
					slog.Int64("site_id", site.ID),
					slog.Int64("variant_id", cv.VariantID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if item == nil {
				continue
			}
			buffer = append(buffer, model.OwnedItem{OwnerID: cv.OwnerID, Item: *item})
		}

		if err := j.cache.AppendScratch(ctx, site.ID, buffer); err != nil {
			return &model.PipelineError{Phase: "scan", Err: err}
		}
		j.metrics.RecordItemsNormalized(len(buffer))

		offset += len(batch)
		if len(batch) < j.batchSize {
			return nil
		}
	}
}

// finish は蓄積済みアイテムを全シャードへ分配し、フィードを組み立てる。
// 空のバケットも明示的に書き込み、「アイテムなし」をシャード不在と区別する。
func (j *GenerateJob) finish(ctx context.Context, site *model.Site) (int, error) {
	scratch, err := j.cache.GetScratch(ctx, site.ID)
	if err != nil {
		return 0, &model.PipelineError{Phase: "distribute", Err: err}
	}

	buckets := shard.Partition(scratch, j.cache.ShardCount())
	for i, bucket := range buckets {
		if err := j.cache.PutShard(ctx, site.ID, i, bucket); err != nil {
			return 0, &model.PipelineError{Phase: "distribute", Err: err}
		}
	}

	j.logger.Info("アイテムを全シャードへ分配しました",
		slog.Int64("site_id", site.ID),
		slog.Int("item_count", len(scratch)),
		slog.Int("shard_count", j.cache.ShardCount()),
	)

	if _, err := j.assembler.Assemble(ctx, site); err != nil {
		return 0, err
	}

	if err := j.cache.ClearScratch(ctx, site.ID); err != nil {
		return 0, &model.PipelineError{Phase: "distribute", Err: err}
	}

	return len(scratch), nil
}

// recordFailure は生成失敗を終端状態としてメタに記録する。
// generating状態のまま放置される既知の穴を塞ぐため、スキャン失敗も含めて必ず呼ばれる。
func (j *GenerateJob) recordFailure(ctx context.Context, siteID int64, genErr error) {
	j.metrics.RecordGenerationFailed()

	now := time.Now()
	meta := model.GenerationMeta{
		Status:      model.GenerationStatusError,
		CompletedAt: &now,
		Error:       genErr.Error(),
	}
	if err := j.cache.PutMeta(ctx, siteID, meta); err != nil {
		j.logger.Error("生成失敗状態の記録に失敗しました",
			slog.Int64("site_id", siteID),
			slog.String("error", err.Error()),
		)
	}

	j.logger.Error("フィードのフル生成に失敗しました",
		slog.Int64("site_id", siteID),
		slog.String("error", genErr.Error()),
	)
}
