package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/shopfeed/internal/metrics"
	"github.com/hitoshi/shopfeed/internal/model"
	"github.com/hitoshi/shopfeed/internal/repository"
)

// --- モック定義 ---

// mockTaskRepo はTaskRepositoryのテスト用モック。
type mockTaskRepo struct {
	mu              sync.Mutex
	claimPendingFunc func(ctx context.Context, limit int) ([]*repository.Task, error)
	done            []string
	failed          []failedCall
}

type failedCall struct {
	id          string
	taskErr     string
	maxAttempts int
}

func (m *mockTaskRepo) Enqueue(ctx context.Context, task *repository.Task) error {
	return nil
}

func (m *mockTaskRepo) ClaimPending(ctx context.Context, limit int) ([]*repository.Task, error) {
	if m.claimPendingFunc != nil {
		return m.claimPendingFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockTaskRepo) MarkDone(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = append(m.done, id)
	return nil
}

func (m *mockTaskRepo) MarkFailed(ctx context.Context, id string, taskErr string, maxAttempts int, retryDelay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, failedCall{id: id, taskErr: taskErr, maxAttempts: maxAttempts})
	return nil
}

func (m *mockTaskRepo) doneIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.done...)
}

func (m *mockTaskRepo) failedCalls() []failedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]failedCall(nil), m.failed...)
}

// mockGenerate はGenerateRunnerのテスト用モック。
type mockGenerate struct {
	mu      sync.Mutex
	runFunc func(ctx context.Context, siteID int64) error
	calls   []int64
}

func (m *mockGenerate) Run(ctx context.Context, siteID int64) error {
	m.mu.Lock()
	m.calls = append(m.calls, siteID)
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, siteID)
	}
	return nil
}

// mockRegenerate はRegenerateRunnerのテスト用モック。
type mockRegenerate struct {
	mu      sync.Mutex
	runFunc func(ctx context.Context, siteID int64, shardIndex int) error
	calls   []int
}

func (m *mockRegenerate) Run(ctx context.Context, siteID int64, shardIndex int) error {
	m.mu.Lock()
	m.calls = append(m.calls, shardIndex)
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, siteID, shardIndex)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func claimOnce(tasks []*repository.Task) func(ctx context.Context, limit int) ([]*repository.Task, error) {
	claimed := false
	return func(ctx context.Context, limit int) ([]*repository.Task, error) {
		if claimed {
			return nil, nil
		}
		claimed = true
		return tasks, nil
	}
}

// --- テスト ---

// TestRunOnce_DispatchGenerate はフル生成タスクのディスパッチと完了記録を確認する。
func TestRunOnce_DispatchGenerate(t *testing.T) {
	repo := &mockTaskRepo{
		claimPendingFunc: claimOnce([]*repository.Task{
			{ID: "t1", Kind: repository.TaskKindGenerateFeed, SiteID: 1},
		}),
	}
	gen := &mockGenerate{}
	regen := &mockRegenerate{}

	runner := NewRunner(repo, gen, regen, metrics.Noop{}, discardLogger(), 4, 3)

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(gen.calls) != 1 || gen.calls[0] != 1 {
		t.Errorf("expected generate called for site 1, got %v", gen.calls)
	}
	if len(regen.calls) != 0 {
		t.Errorf("expected no regenerate calls, got %v", regen.calls)
	}
	if done := repo.doneIDs(); len(done) != 1 || done[0] != "t1" {
		t.Errorf("expected task t1 marked done, got %v", done)
	}
}

// TestRunOnce_DispatchRegenerate はシャード再生成タスクのディスパッチを確認する。
func TestRunOnce_DispatchRegenerate(t *testing.T) {
	idx := 7
	repo := &mockTaskRepo{
		claimPendingFunc: claimOnce([]*repository.Task{
			{ID: "t2", Kind: repository.TaskKindRegenerateShard, SiteID: 1, ShardIndex: &idx},
		}),
	}
	gen := &mockGenerate{}
	regen := &mockRegenerate{}

	runner := NewRunner(repo, gen, regen, metrics.Noop{}, discardLogger(), 4, 3)

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(regen.calls) != 1 || regen.calls[0] != 7 {
		t.Errorf("expected regenerate called for shard 7, got %v", regen.calls)
	}
	if done := repo.doneIDs(); len(done) != 1 {
		t.Errorf("expected task marked done, got %v", done)
	}
}

// TestRunOnce_FailureMarksFailed はタスク失敗がリトライ上限付きで記録されることを確認する。
func TestRunOnce_FailureMarksFailed(t *testing.T) {
	repo := &mockTaskRepo{
		claimPendingFunc: claimOnce([]*repository.Task{
			{ID: "t3", Kind: repository.TaskKindGenerateFeed, SiteID: 1, Attempts: 1},
		}),
	}
	gen := &mockGenerate{
		runFunc: func(ctx context.Context, siteID int64) error {
			return errors.New("boom")
		},
	}

	runner := NewRunner(repo, gen, &mockRegenerate{}, metrics.Noop{}, discardLogger(), 4, 3)

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	failed := repo.failedCalls()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed call, got %d", len(failed))
	}
	if failed[0].id != "t3" || failed[0].taskErr != "boom" {
		t.Errorf("unexpected failed call: %+v", failed[0])
	}
	if failed[0].maxAttempts != 3 {
		t.Errorf("expected maxAttempts 3, got %d", failed[0].maxAttempts)
	}
	if len(repo.doneIDs()) != 0 {
		t.Error("expected no done marks for failed task")
	}
}

// TestRunOnce_ValidationErrorSkipsRetry は入力不正のタスクが再試行されないことを確認する。
func TestRunOnce_ValidationErrorSkipsRetry(t *testing.T) {
	repo := &mockTaskRepo{
		claimPendingFunc: claimOnce([]*repository.Task{
			{ID: "t4", Kind: repository.TaskKindGenerateFeed, SiteID: 42, Attempts: 1},
		}),
	}
	gen := &mockGenerate{
		runFunc: func(ctx context.Context, siteID int64) error {
			return model.NewSiteNotFoundError(siteID)
		},
	}

	runner := NewRunner(repo, gen, &mockRegenerate{}, metrics.Noop{}, discardLogger(), 4, 3)

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	failed := repo.failedCalls()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed call, got %d", len(failed))
	}
	if failed[0].maxAttempts != 0 {
		t.Errorf("expected maxAttempts 0 for validation error, got %d", failed[0].maxAttempts)
	}
}

// TestRunOnce_MissingShardIndex はshard_index欠落タスクが失敗として記録されることを確認する。
func TestRunOnce_MissingShardIndex(t *testing.T) {
	repo := &mockTaskRepo{
		claimPendingFunc: claimOnce([]*repository.Task{
			{ID: "t5", Kind: repository.TaskKindRegenerateShard, SiteID: 1},
		}),
	}
	regen := &mockRegenerate{}

	runner := NewRunner(repo, &mockGenerate{}, regen, metrics.Noop{}, discardLogger(), 4, 3)

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(regen.calls) != 0 {
		t.Error("expected no regenerate calls for missing shard index")
	}
	failed := repo.failedCalls()
	if len(failed) != 1 || failed[0].maxAttempts != 0 {
		t.Errorf("expected non-retryable failure, got %+v", failed)
	}
}

// TestRunOnce_EmptyQueue はタスクがない場合に何もしないことを確認する。
func TestRunOnce_EmptyQueue(t *testing.T) {
	repo := &mockTaskRepo{}
	gen := &mockGenerate{}

	runner := NewRunner(repo, gen, &mockRegenerate{}, metrics.Noop{}, discardLogger(), 4, 3)

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(gen.calls) != 0 {
		t.Error("expected no dispatches for empty queue")
	}
}
