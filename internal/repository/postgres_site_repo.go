package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shopfeed/internal/model"
)

// PostgresSiteRepo はPostgreSQLを使用したサイトリポジトリ。
type PostgresSiteRepo struct {
	db *sql.DB
}

// NewPostgresSiteRepo はPostgresSiteRepoを生成する。
func NewPostgresSiteRepo(db *sql.DB) *PostgresSiteRepo {
	return &PostgresSiteRepo{db: db}
}

// FindByID は指定IDのサイトを取得する。見つからない場合はnilを返す。
func (r *PostgresSiteRepo) FindByID(ctx context.Context, id int64) (*model.Site, error) {
	site := &model.Site{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, currency FROM sites WHERE id = $1`,
		id,
	).Scan(&site.ID, &site.Name, &site.BaseURL, &site.Currency)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サイトの取得に失敗しました: %w", err)
	}

	return site, nil
}

// ListAll は全サイトをID昇順で返す。
func (r *PostgresSiteRepo) ListAll(ctx context.Context) ([]*model.Site, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, base_url, currency FROM sites ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("サイト一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sites []*model.Site
	for rows.Next() {
		site := &model.Site{}
		if err := rows.Scan(&site.ID, &site.Name, &site.BaseURL, &site.Currency); err != nil {
			return nil, fmt.Errorf("サイト行の読み取りに失敗しました: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サイト一覧の走査に失敗しました: %w", err)
	}

	return sites, nil
}
