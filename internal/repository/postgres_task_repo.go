package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresTaskRepo はPostgreSQLをバッキングとするタスクキュー。
// FOR UPDATE SKIP LOCKEDによる排他的クレームで、複数ワーカーの同時実行に耐える。
// at-least-once配信であり、同一シャードへの重複タスクはデデュープしない。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// Enqueue はタスクをキューに追加する。IDが未設定の場合は採番する。
func (r *PostgresTaskRepo) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	var shardIndex sql.NullInt32
	if task.ShardIndex != nil {
		shardIndex = sql.NullInt32{Int32: int32(*task.ShardIndex), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_tasks (id, kind, site_id, shard_index, status, run_after)
		 VALUES ($1, $2, $3, $4, 'pending', now())`,
		task.ID, task.Kind, task.SiteID, shardIndex,
	)
	if err != nil {
		return fmt.Errorf("タスクの登録に失敗しました: %w", err)
	}

	return nil
}

// ClaimPending は実行待ちタスクを排他的に取得し、running状態へ遷移させる。
// attemptsをインクリメントする。取得対象がない場合は空スライスを返す。
func (r *PostgresTaskRepo) ClaimPending(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE feed_tasks SET status = 'running', attempts = attempts + 1, updated_at = now()
		 WHERE id IN (
		     SELECT id FROM feed_tasks
		     WHERE status = 'pending' AND run_after <= now()
		     ORDER BY created_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, site_id, shard_index, attempts, COALESCE(last_error, ''), run_after, created_at`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("タスクのクレームに失敗しました: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task := &Task{}
		var shardIndex sql.NullInt32

		err := rows.Scan(
			&task.ID, &task.Kind, &task.SiteID, &shardIndex,
			&task.Attempts, &task.LastError, &task.RunAfter, &task.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("タスク行の読み取りに失敗しました: %w", err)
		}

		if shardIndex.Valid {
			idx := int(shardIndex.Int32)
			task.ShardIndex = &idx
		}

		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タスククレームの走査に失敗しました: %w", err)
	}

	return tasks, nil
}

// MarkDone は完了したタスクをキューから削除する。
func (r *PostgresTaskRepo) MarkDone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM feed_tasks WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("タスクの完了処理に失敗しました: %w", err)
	}

	return nil
}

// MarkFailed は失敗したタスクを記録する。
// attemptsがmaxAttempts未満の場合はretryDelay後の再実行としてpendingに戻し、
// 上限に達した場合はfailedとして残す。
func (r *PostgresTaskRepo) MarkFailed(ctx context.Context, id string, taskErr string, maxAttempts int, retryDelay time.Duration) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feed_tasks SET
		     status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
		     last_error = $3,
		     run_after = now() + $4::interval,
		     updated_at = now()
		 WHERE id = $1`,
		id, maxAttempts, taskErr, fmt.Sprintf("%d seconds", int(retryDelay.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("タスクの失敗記録に失敗しました: %w", err)
	}

	return nil
}
