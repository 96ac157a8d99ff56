package model

// Site はフィード生成の対象となるサイトを表す。
// すべてのキャッシュエントリのスコープとなる外部アイデンティティ。
type Site struct {
	ID       int64
	Name     string
	BaseURL  string
	Currency string // 例: "USD"
}

// CatalogVariant はカタログスキャンの1行を表す。
// バリアントとその所有商品（所有集約）を結合した読み取り専用のビュー。
// シャード割り当ては常に OwnerID（商品ID）で行う。
type CatalogVariant struct {
	VariantID   int64
	OwnerID     int64 // 所有商品のID
	SKU         string
	Title       string // バリアントのタイトル
	URL         string
	Description string
	Price       float64
	HasPrice    bool
	OnPromotion bool
	PromotionalPrice     float64
	AvailableForPurchase bool
	UnlimitedStock       bool
	Stock                int

	// 所有商品側のフィールド
	ProductTitle       string
	ProductURL         string
	ProductDescription string
	ProductType        string
	VariantCount       int // 商品配下の有効バリアント数。item_group_id 判定に使う

	ImageURL             string
	AdditionalImageURLs  []string
	Brand                string
	GTIN                 string
	MPN                  string
	Attributes           map[string]string // フィールドマッピングの参照先となる追加属性
}
