package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/shopfeed/internal/model"
)

// catalogSelectColumns はバリアントと所有商品を結合したスキャンの共通SELECT句。
// variant_countは同一商品配下の有効バリアント数で、item_group_id判定に使う。
const catalogSelectColumns = `
	SELECT v.id, v.product_id, v.sku, v.title, v.url, v.description,
	       v.price, v.on_promotion, v.promotional_price,
	       v.available_for_purchase, v.unlimited_stock, v.stock,
	       p.title, p.url, p.description, p.product_type,
	       COUNT(*) OVER (PARTITION BY v.product_id) AS variant_count,
	       p.image_url, p.additional_image_urls, p.brand, p.gtin, p.mpn, p.attributes
	FROM product_variants v
	INNER JOIN products p ON p.id = v.product_id
	WHERE p.site_id = $1 AND p.status = 'live' AND v.enabled = TRUE`

// PostgresCatalogRepo はPostgreSQLを使用したカタログデータソース。
// コアから見て読み取り専用。
type PostgresCatalogRepo struct {
	db *sql.DB
}

// NewPostgresCatalogRepo はPostgresCatalogRepoを生成する。
func NewPostgresCatalogRepo(db *sql.DB) *PostgresCatalogRepo {
	return &PostgresCatalogRepo{db: db}
}

// ScanEligible は対象サイトの有効なバリアントをバリアントID昇順で取得する。
// offset/limitによる固定サイズバッチでメモリ使用量を抑える。
func (r *PostgresCatalogRepo) ScanEligible(ctx context.Context, siteID int64, offset, limit int) ([]model.CatalogVariant, error) {
	rows, err := r.db.QueryContext(ctx,
		catalogSelectColumns+` ORDER BY v.id ASC LIMIT $2 OFFSET $3`,
		siteID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("カタログスキャンに失敗しました: %w", err)
	}
	defer rows.Close()

	return scanCatalogRows(rows)
}

// ScanByOwnerModulo は所有商品IDの剰余が指定シャードに一致するバリアントのみを取得する。
// 絞り込みはSQLのMOD条件に押し込み、カタログ全体のスキャンは行わない。
func (r *PostgresCatalogRepo) ScanByOwnerModulo(ctx context.Context, siteID int64, shardCount, shardIndex int) ([]model.CatalogVariant, error) {
	rows, err := r.db.QueryContext(ctx,
		catalogSelectColumns+` AND MOD(p.id, $2) = $3 ORDER BY v.id ASC`,
		siteID, shardCount, shardIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("シャード対象のカタログスキャンに失敗しました: %w", err)
	}
	defer rows.Close()

	return scanCatalogRows(rows)
}

// scanCatalogRows は結合済みカタログ行をCatalogVariantに変換する。
func scanCatalogRows(rows *sql.Rows) ([]model.CatalogVariant, error) {
	var variants []model.CatalogVariant

	for rows.Next() {
		var cv model.CatalogVariant
		var price, promoPrice sql.NullFloat64
		var additionalImages pq.StringArray
		var attributes []byte

		err := rows.Scan(
			&cv.VariantID, &cv.OwnerID, &cv.SKU, &cv.Title, &cv.URL, &cv.Description,
			&price, &cv.OnPromotion, &promoPrice,
			&cv.AvailableForPurchase, &cv.UnlimitedStock, &cv.Stock,
			&cv.ProductTitle, &cv.ProductURL, &cv.ProductDescription, &cv.ProductType,
			&cv.VariantCount,
			&cv.ImageURL, &additionalImages, &cv.Brand, &cv.GTIN, &cv.MPN, &attributes,
		)
		if err != nil {
			return nil, fmt.Errorf("カタログ行の読み取りに失敗しました: %w", err)
		}

		cv.HasPrice = price.Valid
		cv.Price = price.Float64
		if promoPrice.Valid {
			cv.PromotionalPrice = promoPrice.Float64
		}
		cv.AdditionalImageURLs = additionalImages

		if len(attributes) > 0 {
			if err := json.Unmarshal(attributes, &cv.Attributes); err != nil {
				return nil, fmt.Errorf("商品属性の解析に失敗しました: %w", err)
			}
		}

		variants = append(variants, cv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カタログスキャンの走査に失敗しました: %w", err)
	}

	return variants, nil
}
