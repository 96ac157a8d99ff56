// Package queue はフィード生成タスクのバックグラウンド実行を提供する。
// キューからのタスク取得、並列制御、種別ごとのディスパッチを含む。
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/shopfeed/internal/metrics"
	"github.com/hitoshi/shopfeed/internal/model"
	"github.com/hitoshi/shopfeed/internal/repository"
)

// GenerateRunner はフルフィード生成の実行インターフェース。
type GenerateRunner interface {
	// Run は指定サイトのフィードをフル生成する。
	Run(ctx context.Context, siteID int64) error
}

// RegenerateRunner は単一シャード再生成の実行インターフェース。
type RegenerateRunner interface {
	// Run は指定サイトの指定シャードを再生成する。
	Run(ctx context.Context, siteID int64, shardIndex int) error
}

// Runner はタスクキューのポーリングと並列実行を行う。
// 一定間隔のティッカーで実行待ちタスクを取得（FOR UPDATE SKIP LOCKED）し、
// semaphoreパターンで最大並列数を制御しながら種別ごとのジョブへディスパッチする。
type Runner struct {
	tasks          repository.TaskRepository
	generate       GenerateRunner
	regenerate     RegenerateRunner
	metrics        metrics.Collector
	logger         *slog.Logger
	maxConcurrency int
	maxAttempts    int
	retryDelay     time.Duration
}

// NewRunner はRunnerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4、maxAttemptsが0以下の場合は3を使用する。
func NewRunner(
	tasks repository.TaskRepository,
	generate GenerateRunner,
	regenerate RegenerateRunner,
	collector metrics.Collector,
	logger *slog.Logger,
	maxConcurrency int,
	maxAttempts int,
) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Runner{
		tasks:          tasks,
		generate:       generate,
		regenerate:     regenerate,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		maxAttempts:    maxAttempts,
		retryDelay:     time.Minute,
	}
}

// Start は指定間隔のティッカーでタスクキューのポーリングを開始する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("タスクワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", r.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("タスクサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("タスクワーカーを停止しました")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("タスクサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は実行待ちタスクを1回取得し、並列で実行する。
// semaphoreパターンで最大並列数を制御する。
func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 実行待ちタスクを取得（FOR UPDATE SKIP LOCKED）
	claimed, err := r.tasks.ClaimPending(ctx, r.maxConcurrency)
	if err != nil {
		return err
	}

	if len(claimed) == 0 {
		return nil
	}

	r.logger.Info("タスクサイクルを開始します",
		slog.Int("task_count", len(claimed)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, r.maxConcurrency)
	var wg sync.WaitGroup

	for _, task := range claimed {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(t *repository.Task) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			r.execute(ctx, t)
		}(task)
	}

	wg.Wait()

	duration := time.Since(start)
	r.logger.Info("タスクサイクルが完了しました",
		slog.Int("task_count", len(claimed)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// execute はタスクを種別ごとのジョブへディスパッチし、結果をキューに記録する。
// ValidationErrorはリトライしても成功しないため、即座にfailedへ遷移させる。
func (r *Runner) execute(ctx context.Context, task *repository.Task) {
	err := r.dispatch(ctx, task)
	if err == nil {
		if err := r.tasks.MarkDone(ctx, task.ID); err != nil {
			r.logger.Error("タスク完了の記録に失敗しました",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	r.metrics.RecordTaskFailure(string(task.Kind))
	r.logger.Error("タスクの実行に失敗しました",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.Int64("site_id", task.SiteID),
		slog.Int("attempts", task.Attempts),
		slog.String("error", err.Error()),
	)

	maxAttempts := r.maxAttempts
	if model.IsValidation(err) {
		// 入力不正は再試行しても回復しない
		maxAttempts = 0
	}

	if err := r.tasks.MarkFailed(ctx, task.ID, err.Error(), maxAttempts, r.retryDelay); err != nil {
		r.logger.Error("タスク失敗の記録に失敗しました",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}

// dispatch はタスク種別に応じたジョブを実行する。
func (r *Runner) dispatch(ctx context.Context, task *repository.Task) error {
	switch task.Kind {
	case repository.TaskKindGenerateFeed:
		return r.generate.Run(ctx, task.SiteID)
	case repository.TaskKindRegenerateShard:
		if task.ShardIndex == nil {
			return &model.ValidationError{Message: "シャード再生成タスクにshard_indexが指定されていません"}
		}
		return r.regenerate.Run(ctx, task.SiteID, *task.ShardIndex)
	default:
		return fmt.Errorf("未知のタスク種別です: %s", task.Kind)
	}
}
