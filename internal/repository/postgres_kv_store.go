package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/shopfeed/internal/model"
)

// PostgresKVStore はPostgreSQLを使用したキー/バリューストア。
// TTLはexpires_atカラムで表現し、期限切れエントリは読み取り時に不在として扱う。
type PostgresKVStore struct {
	db *sql.DB
}

// NewPostgresKVStore はPostgresKVStoreを生成する。
func NewPostgresKVStore(db *sql.DB) *PostgresKVStore {
	return &PostgresKVStore{db: db}
}

// Get は指定キーの値を取得する。未設定または期限切れの場合はfound=falseを返す。
func (s *PostgresKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &model.StoreError{Op: "キャッシュエントリの取得に失敗しました", Err: err}
	}

	return value, true, nil
}

// Set は指定キーに値を書き込む。既存の値は上書きする（last-write-wins）。
// ttlが0以下の場合は無期限として扱う。
func (s *PostgresKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return &model.StoreError{Op: "キャッシュエントリの書き込みに失敗しました", Err: err}
	}

	return nil
}

// Delete は指定キーを削除する。キーが存在しない場合もエラーにならない。
func (s *PostgresKVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1`,
		key,
	)
	if err != nil {
		return &model.StoreError{Op: "キャッシュエントリの削除に失敗しました", Err: err}
	}

	return nil
}

// PurgeExpired は期限切れエントリを物理削除する。
// 日次メンテナンスジョブから呼ばれる。冪等で、削除対象がなくてもエラーにならない。
func (s *PostgresKVStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`,
	)
	if err != nil {
		return 0, &model.StoreError{Op: "期限切れエントリの削除に失敗しました", Err: err}
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &model.StoreError{Op: "削除件数の取得に失敗しました", Err: err}
	}

	return deleted, nil
}
