// Package cache はフィードのシャードキャッシュを提供する。
// シャード本体・シャードメタデータ・組み立て済みXML・生成状態メタを
// サイトごとに名前空間化したキーでキー/バリューストアに保持する。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/shopfeed/internal/model"
	"github.com/hitoshi/shopfeed/internal/repository"
)

// cachePrefix は全キャッシュキーの接頭辞。
const cachePrefix = "shopfeed"

// Cache はサイトごとのシャードキャッシュ。
// すべての書き込みはシャード全置換のlast-write-winsで、compare-and-swapは行わない。
type Cache struct {
	store      repository.KVStore
	ttl        time.Duration
	shardCount int
}

// New はCacheを生成する。ttlはシャード・組み立て済みXML・メタデータに一律で適用される。
func New(store repository.KVStore, ttl time.Duration, shardCount int) *Cache {
	return &Cache{
		store:      store,
		ttl:        ttl,
		shardCount: shardCount,
	}
}

// ShardCount は固定のシャード数を返す。
func (c *Cache) ShardCount() int {
	return c.shardCount
}

// TTL は設定されたキャッシュTTLを返す。
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) shardKey(siteID int64, shardIndex int) string {
	return fmt.Sprintf("%s:%d:shard:%d", cachePrefix, siteID, shardIndex)
}

func (c *Cache) xmlKey(siteID int64) string {
	return fmt.Sprintf("%s:%d:xml", cachePrefix, siteID)
}

func (c *Cache) metaKey(siteID int64) string {
	return fmt.Sprintf("%s:%d:meta", cachePrefix, siteID)
}

func (c *Cache) shardMetaKey(siteID int64) string {
	return fmt.Sprintf("%s:%d:shard-meta", cachePrefix, siteID)
}

func (c *Cache) scratchKey(siteID int64) string {
	return fmt.Sprintf("%s:%d:scratch", cachePrefix, siteID)
}

// GetShard は指定シャードのアイテム列を取得する。
// 未生成または期限切れの場合はエラーではなくfound=falseを返す。
func (c *Cache) GetShard(ctx context.Context, siteID int64, shardIndex int) ([]model.FeedItem, bool, error) {
	raw, found, err := c.store.Get(ctx, c.shardKey(siteID, shardIndex))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	var items []model.FeedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("シャード%dの内容の解析に失敗しました: %w", shardIndex, err)
	}

	return items, true, nil
}

// PutShard は指定シャードをアイテム列で全置換し、シャードメタデータを更新する。
// 部分マージは行わない。消去されたシャード由来のバイト列を含みうるため、
// 組み立て済みXMLも保守的に無効化する。
func (c *Cache) PutShard(ctx context.Context, siteID int64, shardIndex int, items []model.FeedItem) error {
	if items == nil {
		items = []model.FeedItem{}
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("シャード%dの内容の直列化に失敗しました: %w", shardIndex, err)
	}

	if err := c.store.Set(ctx, c.shardKey(siteID, shardIndex), raw, c.ttl); err != nil {
		return err
	}

	meta, err := c.getShardMeta(ctx, siteID)
	if err != nil {
		return err
	}
	meta[shardIndex] = model.ShardMetadata{
		ItemCount: len(items),
		UpdatedAt: time.Now(),
	}
	if err := c.putShardMeta(ctx, siteID, meta); err != nil {
		return err
	}

	return c.store.Delete(ctx, c.xmlKey(siteID))
}

// InvalidateShard は指定シャードの内容とメタデータエントリを削除し、
// 組み立て済みXMLも無効化する。他のシャードには影響しない。
func (c *Cache) InvalidateShard(ctx context.Context, siteID int64, shardIndex int) error {
	if err := c.store.Delete(ctx, c.shardKey(siteID, shardIndex)); err != nil {
		return err
	}

	meta, err := c.getShardMeta(ctx, siteID)
	if err != nil {
		return err
	}
	delete(meta, shardIndex)
	if err := c.putShardMeta(ctx, siteID, meta); err != nil {
		return err
	}

	return c.store.Delete(ctx, c.xmlKey(siteID))
}

// InvalidateAll はサイトの全シャード・組み立て済みXML・メタデータ・
// スクラッチバッファを削除する。生成状態メタの削除は「レコード不在 ⇒ none」の
// デフォルト意味論への暗黙リセットにあたる。
func (c *Cache) InvalidateAll(ctx context.Context, siteID int64) error {
	for i := 0; i < c.shardCount; i++ {
		if err := c.store.Delete(ctx, c.shardKey(siteID, i)); err != nil {
			return err
		}
	}

	if err := c.store.Delete(ctx, c.shardMetaKey(siteID)); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, c.xmlKey(siteID)); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, c.metaKey(siteID)); err != nil {
		return err
	}

	return c.store.Delete(ctx, c.scratchKey(siteID))
}

// GetAssembled は組み立て済みXMLを取得する。不在の場合はfound=falseを返す。
func (c *Cache) GetAssembled(ctx context.Context, siteID int64) ([]byte, bool, error) {
	return c.store.Get(ctx, c.xmlKey(siteID))
}

// PutAssembled は組み立て済みXMLを書き込む。
func (c *Cache) PutAssembled(ctx context.Context, siteID int64, xml []byte) error {
	return c.store.Set(ctx, c.xmlKey(siteID), xml, c.ttl)
}

// GetMeta はサイトの生成状態メタを取得する。
// レコード不在の場合はstatus=noneのデフォルト値を返す。
func (c *Cache) GetMeta(ctx context.Context, siteID int64) (model.GenerationMeta, error) {
	raw, found, err := c.store.Get(ctx, c.metaKey(siteID))
	if err != nil {
		return model.DefaultGenerationMeta(), err
	}
	if !found {
		return model.DefaultGenerationMeta(), nil
	}

	var meta model.GenerationMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return model.DefaultGenerationMeta(), fmt.Errorf("生成状態メタの解析に失敗しました: %w", err)
	}

	return meta, nil
}

// PutMeta はサイトの生成状態メタを書き込む。
func (c *Cache) PutMeta(ctx context.Context, siteID int64, meta model.GenerationMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("生成状態メタの直列化に失敗しました: %w", err)
	}

	return c.store.Set(ctx, c.metaKey(siteID), raw, c.ttl)
}

// AppendScratch は (所有ID, アイテム) 対をスクラッチバッファへ追記する。
// バッチ境界とシャード境界を分離するための蓄積で、まだシャード分配はしない。
func (c *Cache) AppendScratch(ctx context.Context, siteID int64, items []model.OwnedItem) error {
	if len(items) == 0 {
		return nil
	}

	existing, err := c.GetScratch(ctx, siteID)
	if err != nil {
		return err
	}

	merged := append(existing, items...)
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("スクラッチバッファの直列化に失敗しました: %w", err)
	}

	// スクラッチは生成ジョブの実行中のみ生きていればよいが、
	// ジョブの中断に備えてTTLは通常のキャッシュと同じにする。
	return c.store.Set(ctx, c.scratchKey(siteID), raw, c.ttl)
}

// GetScratch はスクラッチバッファの内容を返す。不在の場合は空スライスを返す。
func (c *Cache) GetScratch(ctx context.Context, siteID int64) ([]model.OwnedItem, error) {
	raw, found, err := c.store.Get(ctx, c.scratchKey(siteID))
	if err != nil {
		return nil, err
	}
	if !found {
		return []model.OwnedItem{}, nil
	}

	var items []model.OwnedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("スクラッチバッファの解析に失敗しました: %w", err)
	}

	return items, nil
}

// ClearScratch はスクラッチバッファを削除する。
func (c *Cache) ClearScratch(ctx context.Context, siteID int64) error {
	return c.store.Delete(ctx, c.scratchKey(siteID))
}

// StatusSummary は全シャードを走査してキャッシュ状態の集計値を構築する。
// 観測専用で副作用はない。
func (c *Cache) StatusSummary(ctx context.Context, siteID int64) (model.StatusSummary, error) {
	summary := model.StatusSummary{ShardCount: c.shardCount}

	shardMeta, err := c.getShardMeta(ctx, siteID)
	if err != nil {
		return summary, err
	}

	for i := 0; i < c.shardCount; i++ {
		raw, found, err := c.store.Get(ctx, c.shardKey(siteID, i))
		if err != nil {
			return summary, err
		}
		if !found {
			continue
		}

		summary.PresentShards++
		summary.ShardBytes += len(raw)

		var items []model.FeedItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return summary, fmt.Errorf("シャード%dの内容の解析に失敗しました: %w", i, err)
		}
		summary.TotalItems += len(items)

		if info, ok := shardMeta[i]; ok {
			updatedAt := info.UpdatedAt
			if summary.OldestShardUpdatedAt == nil || updatedAt.Before(*summary.OldestShardUpdatedAt) {
				t := updatedAt
				summary.OldestShardUpdatedAt = &t
			}
			if summary.NewestShardUpdatedAt == nil || updatedAt.After(*summary.NewestShardUpdatedAt) {
				t := updatedAt
				summary.NewestShardUpdatedAt = &t
			}
		}
	}

	xml, found, err := c.GetAssembled(ctx, siteID)
	if err != nil {
		return summary, err
	}
	summary.AssembledPresent = found
	summary.AssembledSize = len(xml)

	meta, err := c.GetMeta(ctx, siteID)
	if err != nil {
		return summary, err
	}
	summary.Status = meta.Status
	summary.CompletedAt = meta.CompletedAt

	return summary, nil
}

// getShardMeta はサイトのシャードメタデータマップを取得する。不在の場合は空マップを返す。
func (c *Cache) getShardMeta(ctx context.Context, siteID int64) (model.ShardMetaMap, error) {
	raw, found, err := c.store.Get(ctx, c.shardMetaKey(siteID))
	if err != nil {
		return nil, err
	}
	if !found {
		return model.ShardMetaMap{}, nil
	}

	var meta model.ShardMetaMap
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("シャードメタデータの解析に失敗しました: %w", err)
	}

	return meta, nil
}

// putShardMeta はサイトのシャードメタデータマップを書き込む。
func (c *Cache) putShardMeta(ctx context.Context, siteID int64, meta model.ShardMetaMap) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("シャードメタデータの直列化に失敗しました: %w", err)
	}

	return c.store.Set(ctx, c.shardMetaKey(siteID), raw, c.ttl)
}
