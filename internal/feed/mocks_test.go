package feed

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/shopfeed/internal/cache"
	"github.com/hitoshi/shopfeed/internal/model"
	"github.com/hitoshi/shopfeed/internal/repository"
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
	findByIDFunc func(ctx context.Context, id int64) (*model.Site, error)
	listAllFunc  func(ctx context.Context) ([]*model.Site, error)
}

func (m *mockSiteRepo) FindByID(ctx context.Context, id int64) (*model.Site, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockSiteRepo) ListAll(ctx context.Context) ([]*model.Site, error) {
	if m.listAllFunc != nil {
		return m.listAllFunc(ctx)
	}
	return nil, nil
}

// mockCatalogRepo はCatalogRepositoryのテスト用モック。
type mockCatalogRepo struct {
	scanEligibleFunc      func(ctx context.Context, siteID int64, offset, limit int) ([]model.CatalogVariant, error)
	scanByOwnerModuloFunc func(ctx context.Context, siteID int64, shardCount, shardIndex int) ([]model.CatalogVariant, error)
}

func (m *mockCatalogRepo) ScanEligible(ctx context.Context, siteID int64, offset, limit int) ([]model.CatalogVariant, error) {
	if m.scanEligibleFunc != nil {
		return m.scanEligibleFunc(ctx, siteID, offset, limit)
	}
	return nil, nil
}

func (m *mockCatalogRepo) ScanByOwnerModulo(ctx context.Context, siteID int64, shardCount, shardIndex int) ([]model.CatalogVariant, error) {
	if m.scanByOwnerModuloFunc != nil {
		return m.scanByOwnerModuloFunc(ctx, siteID, shardCount, shardIndex)
	}
	return nil, nil
}

// mockTaskQueue はTaskQueueのテスト用モック。投入されたタスクを記録する。
type mockTaskQueue struct {
	mu          sync.Mutex
	enqueued    []*repository.Task
	enqueueFunc func(ctx context.Context, task *repository.Task) error
}

func (m *mockTaskQueue) Enqueue(ctx context.Context, task *repository.Task) error {
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, task)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, task)
	return nil
}

func (m *mockTaskQueue) tasks() []*repository.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*repository.Task(nil), m.enqueued...)
}

// --- テストヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestCache() *cache.Cache {
	return cache.New(newMemKVStore(), time.Hour, 100)
}

func siteFixture() *model.Site {
	return &model.Site{
		ID:       1,
		Name:     "Test Shop",
		BaseURL:  "https://shop.example.com",
		Currency: "USD",
	}
}

func siteRepoWith(site *model.Site) *mockSiteRepo {
	return &mockSiteRepo{
		findByIDFunc: func(ctx context.Context, id int64) (*model.Site, error) {
			if site != nil && id == site.ID {
				return site, nil
			}
			return nil, nil
		},
	}
}

// variantFixture は正規化を通る最小限のバリアントを生成する。
func variantFixture(ownerID, variantID int64) model.CatalogVariant {
	return model.CatalogVariant{
		VariantID:            variantID,
		OwnerID:              ownerID,
		SKU:                  "SKU-" + intToString(variantID),
		URL:                  "https://shop.example.com/p/" + intToString(variantID),
		Price:                10.00,
		HasPrice:             true,
		AvailableForPurchase: true,
		UnlimitedStock:       true,
		ProductTitle:         "Product " + intToString(ownerID),
		VariantCount:         1,
	}
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
