// Package feed はシャードキャッシュを中心としたフィード生成・配信のコアを提供する。
// フル生成と単一シャード再生成は独立したバックグラウンドタスクとして動き、
// 両者の間にロックはない。すべての書き込みはシャード全置換の冪等な操作であり、
// 競合はlast-write-winsと次回の再生成による自己修復で解決される。
package feed

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shopfeed/internal/cache"
	"github.com/hitoshi/shopfeed/internal/metrics"
	"github.com/hitoshi/shopfeed/internal/model"
	"github.com/hitoshi/shopfeed/internal/render"
	"github.com/hitoshi/shopfeed/internal/repository"
	"github.com/hitoshi/shopfeed/internal/shard"
)

// TaskQueue はバックグラウンドタスクの投入インターフェース。
// fire-and-forgetかつat-least-once配信で、コア側ではデデュープしない。
type TaskQueue interface {
	Enqueue(ctx context.Context, task *repository.Task) error
}

// ServeResult はフィード読み取りリクエストに対する配信判断の結果を表す。
type ServeResult struct {
	StatusCode int
	Body       []byte
	RetryAfter int // 秒。0の場合はヘッダを付けない
}

// Service はフィード配信ポリシーとキャッシュ無効化の入口となるサービス。
type Service struct {
	cache     *cache.Cache
	sites     repository.SiteRepository
	tasks     TaskQueue
	assembler *Assembler
	metrics   metrics.Collector
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	c *cache.Cache,
	sites repository.SiteRepository,
	tasks TaskQueue,
	assembler *Assembler,
	collector metrics.Collector,
	logger *slog.Logger,
) *Service {
	return &Service{
		cache:     c,
		sites:     sites,
		tasks:     tasks,
		assembler: assembler,
		metrics:   collector,
		logger:    logger,
	}
}

// Serve はフィード読み取りリクエストに対する配信判断を行う。
//
//  1. 組み立て済みXMLがあればそれを返す（キャッシュヒット、最速パス）。
//  2. 生成中なら503を返し、新しい仕事は起こさない（再生成は進行中とみなす）。
//  3. シャードが1つでも存在すれば、その場で組み立てて返す（ベストエフォート、不完全でもよい）。
//  4. 何もなければフル生成をキューに積み、503を返す。
func (s *Service) Serve(ctx context.Context, siteID int64) (*ServeResult, error) {
	site, err := s.sites.FindByID(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, model.NewSiteNotFoundError(siteID)
	}

	xml, found, err := s.cache.GetAssembled(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if found {
		s.metrics.RecordCacheHit()
		return &ServeResult{StatusCode: http.StatusOK, Body: xml}, nil
	}
	s.metrics.RecordCacheMiss()

	meta, err := s.cache.GetMeta(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if meta.Status == model.GenerationStatusGenerating {
		return s.generatingResult(site), nil
	}

	summary, err := s.cache.StatusSummary(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if summary.PresentShards > 0 {
		assembled, err := s.assembler.Assemble(ctx, site)
		if err != nil {
			return nil, err
		}
		s.logger.Info("部分的なシャードからフィードを組み立てて配信します",
			slog.Int64("site_id", siteID),
			slog.Int("present_shards", summary.PresentShards),
		)
		return &ServeResult{StatusCode: http.StatusOK, Body: assembled}, nil
	}

	if _, err := s.QueueGeneration(ctx, siteID, false); err != nil {
		return nil, err
	}

	return s.generatingResult(site), nil
}

// generatingResult は「生成中につき後で再試行」を示す503のレスポンスを構築する。
func (s *Service) generatingResult(site *model.Site) *ServeResult {
	return &ServeResult{
		StatusCode: http.StatusServiceUnavailable,
		Body:       render.Generating(site),
		RetryAfter: 60,
	}
}

// QueueGeneration はフルフィード生成タスクをキューに積む。
// forceでない場合、すでにgenerating状態ならスキップしてfalseを返す。
// 戻り値はタスクを積んだかどうか。
func (s *Service) QueueGeneration(ctx context.Context, siteID int64, force bool) (bool, error) {
	if !force {
		meta, err := s.cache.GetMeta(ctx, siteID)
		if err != nil {
			return false, err
		}
		if meta.Status == model.GenerationStatusGenerating {
			s.logger.Info("フィード生成はすでに進行中のためスキップします",
				slog.Int64("site_id", siteID),
			)
			return false, nil
		}
	}

	err := s.tasks.Enqueue(ctx, &repository.Task{
		Kind:   repository.TaskKindGenerateFeed,
		SiteID: siteID,
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("フィード生成タスクを登録しました",
		slog.Int64("site_id", siteID),
	)
	return true, nil
}

// InvalidateProduct は商品の変更に対する限定的な無効化パス。
// 所有集約（商品）のIDからシャードインデックスを計算し、そのシャードだけを
// 無効化して再生成タスクを積む。フル再生成は決して起こさない。
// 戻り値は対象になったシャードインデックス。
func (s *Service) InvalidateProduct(ctx context.Context, siteID, productID int64) (int, error) {
	shardIndex := shard.Index(productID, s.cache.ShardCount())

	if err := s.cache.InvalidateShard(ctx, siteID, shardIndex); err != nil {
		return 0, err
	}

	err := s.tasks.Enqueue(ctx, &repository.Task{
		Kind:       repository.TaskKindRegenerateShard,
		SiteID:     siteID,
		ShardIndex: &shardIndex,
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("商品変更によりシャードを無効化し再生成タスクを登録しました",
		slog.Int64("site_id", siteID),
		slog.Int64("product_id", productID),
		slog.Int("shard_index", shardIndex),
	)
	return shardIndex, nil
}

// ForceRegenerate は全キャッシュを無効化してフル生成タスクを強制的に積む。
// 管理APIから呼ばれる。
func (s *Service) ForceRegenerate(ctx context.Context, siteID int64) (bool, error) {
	site, err := s.sites.FindByID(ctx, siteID)
	if err != nil {
		return false, err
	}
	if site == nil {
		return false, model.NewSiteNotFoundError(siteID)
	}

	if err := s.cache.InvalidateAll(ctx, siteID); err != nil {
		return false, err
	}

	return s.QueueGeneration(ctx, siteID, true)
}

// Invalidate はサイトの全キャッシュを無効化する。再生成は積まない。
func (s *Service) Invalidate(ctx context.Context, siteID int64) error {
	site, err := s.sites.FindByID(ctx, siteID)
	if err != nil {
		return err
	}
	if site == nil {
		return model.NewSiteNotFoundError(siteID)
	}

	return s.cache.InvalidateAll(ctx, siteID)
}

// Status はサイトの生成状態メタを返す。
func (s *Service) Status(ctx context.Context, siteID int64) (model.GenerationMeta, error) {
	site, err := s.sites.FindByID(ctx, siteID)
	if err != nil {
		return model.DefaultGenerationMeta(), err
	}
	if site == nil {
		return model.DefaultGenerationMeta(), model.NewSiteNotFoundError(siteID)
	}

	return s.cache.GetMeta(ctx, siteID)
}

// CacheStatus はサイトのキャッシュ状態の集計値を返す。
func (s *Service) CacheStatus(ctx context.Context, siteID int64) (model.StatusSummary, error) {
	site, err := s.sites.FindByID(ctx, siteID)
	if err != nil {
		return model.StatusSummary{}, err
	}
	if site == nil {
		return model.StatusSummary{}, model.NewSiteNotFoundError(siteID)
	}

	return s.cache.StatusSummary(ctx, siteID)
}
