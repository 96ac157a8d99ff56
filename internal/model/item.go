// Package model はドメインモデルを定義する。
package model

// Availability は商品の在庫状態を表す。
type Availability string

const (
	// AvailabilityInStock は在庫ありの状態。
	AvailabilityInStock Availability = "in_stock"
	// AvailabilityOutOfStock は在庫なしの状態。
	AvailabilityOutOfStock Availability = "out_of_stock"
)

// FeedItem は正規化済みのフィードアイテムを表す。
// (商品, バリアント) の組ごとに1件生成され、生成後は不変として扱う。
// 所属するシャードが所有する。
type FeedItem struct {
	ID                   string            `json:"id"`                              // 最大50文字
	Title                string            `json:"title"`                           // 必須、最大150文字
	Description          string            `json:"description,omitempty"`           // 最大5000文字
	Link                 string            `json:"link"`                            // 必須、絶対URL
	ImageLink            string            `json:"image_link,omitempty"`
	AdditionalImageLinks []string          `json:"additional_image_link,omitempty"` // 順序保持
	Price                string            `json:"price"`                           // "12.00 USD" 形式
	SalePrice            string            `json:"sale_price,omitempty"`
	Availability         Availability      `json:"availability"`
	SKU                  string            `json:"sku,omitempty"`
	ItemGroupID          string            `json:"item_group_id,omitempty"`
	ProductType          string            `json:"product_type,omitempty"`
	Condition            string            `json:"condition"` // デフォルト "new"
	IdentifierExists     string            `json:"identifier_exists,omitempty"` // brand/gtin/mpnがいずれも無い場合 "no"
	Extensions           map[string]string `json:"extensions,omitempty"`        // フィード語彙名をキーとする拡張フィールド
}

// FeedItem の各フィールドの最大長。超過分は正規化時に切り詰める。
const (
	MaxItemIDLength          = 50
	MaxItemTitleLength       = 150
	MaxItemDescriptionLength = 5000
)

// OwnedItem はシャード分配前のフィードアイテムと所有集約IDの組を表す。
// バッチ境界とシャード境界を分離するため、スクラッチバッファに蓄積される。
type OwnedItem struct {
	OwnerID int64    `json:"owner_id"`
	Item    FeedItem `json:"item"`
}
