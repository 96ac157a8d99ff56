package model

import "time"

// GenerationStatus はサイトごとのフィード生成状態を表す。
type GenerationStatus string

const (
	// GenerationStatusNone は一度も生成されていない状態。メタレコード不在時のデフォルト。
	GenerationStatusNone GenerationStatus = "none"
	// GenerationStatusGenerating はフル生成が進行中の状態。
	GenerationStatusGenerating GenerationStatus = "generating"
	// GenerationStatusComplete は生成が完了した状態。
	GenerationStatusComplete GenerationStatus = "complete"
	// GenerationStatusError は生成がエラーで終了した状態。
	GenerationStatusError GenerationStatus = "error"
)

// GenerationMeta はサイトごとの生成状態レコードを表す。
// 読み手とコントローラにとっての正であり、排他ロックではなく助言的な状態である。
type GenerationMeta struct {
	Status      GenerationStatus `json:"status"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ItemCount   int              `json:"item_count"`
	Error       string           `json:"error,omitempty"` // status=error のときのみ
}

// DefaultGenerationMeta はメタレコード不在時のデフォルト値を返す。
func DefaultGenerationMeta() GenerationMeta {
	return GenerationMeta{Status: GenerationStatusNone}
}

// ShardMetadata はシャード1件分のメタデータを表す。
// 存在するシャードに対してのみ存在し、シャードと同時に削除される。
type ShardMetadata struct {
	ItemCount int       `json:"item_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShardMetaMap はサイト内の存在するシャードのメタデータをシャードインデックスで引くマップ。
type ShardMetaMap map[int]ShardMetadata

// StatusSummary は運用ツール向けのキャッシュ状態の集計値を表す。
// 副作用のない観測専用の読み取りで構築される。
type StatusSummary struct {
	ShardCount           int              `json:"shard_count"`
	PresentShards        int              `json:"present_shards"`
	TotalItems           int              `json:"total_items"`
	ShardBytes           int              `json:"shard_bytes"`
	AssembledPresent     bool             `json:"assembled_present"`
	AssembledSize        int              `json:"assembled_size"`
	OldestShardUpdatedAt *time.Time       `json:"oldest_shard_updated_at,omitempty"`
	NewestShardUpdatedAt *time.Time       `json:"newest_shard_updated_at,omitempty"`
	Status               GenerationStatus `json:"status"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}
