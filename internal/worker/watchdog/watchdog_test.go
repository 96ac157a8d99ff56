package watchdog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/shopfeed/internal/cache"
	"github.com/hitoshi/shopfeed/internal/model"
)

// --- モック定義 ---

// memKVStore はKVStoreのテスト用インメモリ実装。
type memKVStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKVStore() *memKVStore {
	return &memKVStore{data: map[string][]byte{}}
}

func (m *memKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, found := m.data[key]
	return value, found, nil
}

func (m *memKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// mockSiteRepo はSiteRepositoryのテスト用モック。
type mockSiteRepo struct {
	sites []*model.Site
}

func (m *mockSiteRepo) FindByID(ctx context.Context, id int64) (*model.Site, error) {
	for _, site := range m.sites {
		if site.ID == id {
			return site, nil
		}
	}
	return nil, nil
}

func (m *mockSiteRepo) ListAll(ctx context.Context) ([]*model.Site, error) {
	return m.sites, nil
}

// mockPurger はExpiredPurgerのテスト用モック。
type mockPurger struct {
	called  bool
	deleted int64
}

func (m *mockPurger) PurgeExpired(ctx context.Context) (int64, error) {
	m.called = true
	return m.deleted, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- テスト ---

// TestRunOnce_DemotesStaleGenerating はタイムアウト超過のgenerating状態が
// errorへ降格されることを確認する。
func TestRunOnce_DemotesStaleGenerating(t *testing.T) {
	c := cache.New(newMemKVStore(), time.Hour, 100)
	ctx := context.Background()

	started := time.Now().Add(-time.Hour)
	if err := c.PutMeta(ctx, 1, model.GenerationMeta{
		Status:    model.GenerationStatusGenerating,
		StartedAt: &started,
	}); err != nil {
		t.Fatalf("PutMeta failed: %v", err)
	}

	sites := &mockSiteRepo{sites: []*model.Site{{ID: 1, Name: "A"}}}
	dog := New(c, sites, nil, discardLogger(), 30*time.Minute)

	if err := dog.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	meta, err := c.GetMeta(ctx, 1)
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if meta.Status != model.GenerationStatusError {
		t.Errorf("expected status error, got %s", meta.Status)
	}
	if meta.Error == "" {
		t.Error("expected error message on demoted meta")
	}
	if meta.CompletedAt == nil {
		t.Error("expected completed_at on demoted meta")
	}
}

// TestRunOnce_LeavesFreshGenerating はタイムアウト未満のgenerating状態に触れないことを確認する。
func TestRunOnce_LeavesFreshGenerating(t *testing.T) {
	c := cache.New(newMemKVStore(), time.Hour, 100)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	if err := c.PutMeta(ctx, 1, model.GenerationMeta{
		Status:    model.GenerationStatusGenerating,
		StartedAt: &started,
	}); err != nil {
		t.Fatalf("PutMeta failed: %v", err)
	}

	sites := &mockSiteRepo{sites: []*model.Site{{ID: 1, Name: "A"}}}
	dog := New(c, sites, nil, discardLogger(), 30*time.Minute)

	if err := dog.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	meta, err := c.GetMeta(ctx, 1)
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if meta.Status != model.GenerationStatusGenerating {
		t.Errorf("expected status generating to be untouched, got %s", meta.Status)
	}
}

// TestRunOnce_LeavesTerminalStates は終端状態のメタに触れないことを確認する。
func TestRunOnce_LeavesTerminalStates(t *testing.T) {
	c := cache.New(newMemKVStore(), time.Hour, 100)
	ctx := context.Background()

	completed := time.Now().Add(-2 * time.Hour)
	if err := c.PutMeta(ctx, 1, model.GenerationMeta{
		Status:      model.GenerationStatusComplete,
		CompletedAt: &completed,
		ItemCount:   10,
	}); err != nil {
		t.Fatalf("PutMeta failed: %v", err)
	}

	sites := &mockSiteRepo{sites: []*model.Site{{ID: 1, Name: "A"}}}
	dog := New(c, sites, nil, discardLogger(), 30*time.Minute)

	if err := dog.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	meta, _ := c.GetMeta(ctx, 1)
	if meta.Status != model.GenerationStatusComplete {
		t.Errorf("expected complete to be untouched, got %s", meta.Status)
	}
	if meta.ItemCount != 10 {
		t.Errorf("expected item count preserved, got %d", meta.ItemCount)
	}
}

// TestRunOnce_PurgesExpired は期限切れエントリの削除が呼ばれることを確認する。
func TestRunOnce_PurgesExpired(t *testing.T) {
	c := cache.New(newMemKVStore(), time.Hour, 100)
	purger := &mockPurger{deleted: 5}

	dog := New(c, &mockSiteRepo{}, purger, discardLogger(), 30*time.Minute)

	if err := dog.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if !purger.called {
		t.Error("expected purger to be called")
	}
}
