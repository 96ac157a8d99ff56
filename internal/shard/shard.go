// Package shard はカタログエンティティの決定的なシャード割り当てを提供する。
// シャードインデックスは所有集約（商品）のIDの剰余で決まる純粋関数であり、
// 同じ商品配下のバリアントは常に同じシャードに同居する。
package shard

import "github.com/hitoshi/shopfeed/internal/model"

// Count はキャッシュの生存期間を通じて固定のシャード数。
// この値を変更すると既存シャードのアドレッシングがすべて無効になるため、
// 変更時はフル再生成が必要になる。
const Count = 100

// Index は所有集約IDをシャードインデックスに写像する。
// 純粋・全域・決定的で、shardCountが変わらない限り結果は安定する。
// 結果は常に [0, shardCount) の範囲に収まる。
func Index(ownerID int64, shardCount int) int {
	idx := int(ownerID % int64(shardCount))
	if idx < 0 {
		idx += shardCount
	}
	return idx
}

// Partition は蓄積済みの (所有ID, アイテム) 対をshardCount個のバケットへ分配する。
// すべてのバケットを返すため、アイテムのないシャードも空スライスとして明示される。
// 各バケット内の順序は入力順を保持する。
func Partition(items []model.OwnedItem, shardCount int) [][]model.FeedItem {
	buckets := make([][]model.FeedItem, shardCount)
	for i := range buckets {
		buckets[i] = []model.FeedItem{}
	}

	for _, owned := range items {
		idx := Index(owned.OwnerID, shardCount)
		buckets[idx] = append(buckets[idx], owned.Item)
	}

	return buckets
}
