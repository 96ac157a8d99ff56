// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/shopfeed/internal/model"
)

// KVStore はフィードキャッシュのバッキングとなるキー/バリューストアのインターフェース。
// キーごとのget/set/deleteはアトミックだが、キーをまたぐトランザクションは提供しない。
// TTLはシャード・組み立て済みXML・メタデータに一律で適用される。
type KVStore interface {
	// Get は指定キーの値を取得する。未設定または期限切れの場合はfound=falseを返す。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set は指定キーに値を書き込む。既存の値は上書きする（last-write-wins）。
	// ttlが0以下の場合は無期限として扱う。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete は指定キーを削除する。キーが存在しない場合もエラーにならない。
	Delete(ctx context.Context, key string) error
}

// SiteRepository はサイトデータの読み取りインターフェース。
type SiteRepository interface {
	// FindByID は指定IDのサイトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Site, error)

	// ListAll は全サイトを返す。
	ListAll(ctx context.Context) ([]*model.Site, error)
}

// CatalogRepository はカタログデータソースの読み取りインターフェース。
// コアから見て読み取り専用。
type CatalogRepository interface {
	// ScanEligible は対象サイトの有効なバリアントをバリアントID昇順で取得する。
	// enabled=true のバリアントと status='live' の商品に絞り込み、
	// offset/limit による固定サイズバッチで返す。
	ScanEligible(ctx context.Context, siteID int64, offset, limit int) ([]model.CatalogVariant, error)

	// ScanByOwnerModulo は所有商品IDの剰余が指定シャードに一致するバリアントのみを取得する。
	// 絞り込みはSQLに押し込み、カタログ全体のスキャンは行わない。
	ScanByOwnerModulo(ctx context.Context, siteID int64, shardCount, shardIndex int) ([]model.CatalogVariant, error)
}

// TaskKind はバックグラウンドタスクの種別を表す。
type TaskKind string

const (
	// TaskKindGenerateFeed はフルフィード生成タスク。
	TaskKindGenerateFeed TaskKind = "generate_feed"
	// TaskKindRegenerateShard は単一シャード再生成タスク。
	TaskKindRegenerateShard TaskKind = "regenerate_shard"
)

// Task はキュー上のバックグラウンドタスクを表す。
// at-least-once配信を前提とし、同一シャードへの重複タスクはデデュープしない。
type Task struct {
	ID         string
	Kind       TaskKind
	SiteID     int64
	ShardIndex *int // regenerate_shard のみ
	Attempts   int
	LastError  string
	RunAfter   time.Time
	CreatedAt  time.Time
}

// TaskRepository はタスクキューの永続化インターフェース。
type TaskRepository interface {
	// Enqueue はタスクをキューに追加する。fire-and-forgetで順序保証はない。
	Enqueue(ctx context.Context, task *Task) error

	// ClaimPending は実行待ちタスクをFOR UPDATE SKIP LOCKEDで排他的に取得し、
	// running状態へ遷移させる。attemptsをインクリメントする。
	ClaimPending(ctx context.Context, limit int) ([]*Task, error)

	// MarkDone は完了したタスクをキューから削除する。
	MarkDone(ctx context.Context, id string) error

	// MarkFailed は失敗したタスクを記録する。
	// attemptsがmaxAttempts未満の場合はretryDelay後の再実行としてpendingに戻し、
	// 上限に達した場合はfailedとして残す。
	MarkFailed(ctx context.Context, id string, taskErr string, maxAttempts int, retryDelay time.Duration) error
}
