package normalize

// SourceScope はマッピングの参照元スコープを表す。
type SourceScope string

const (
	// SourceProduct は所有商品側の属性を参照する。
	SourceProduct SourceScope = "product"
	// SourceVariant はバリアント側の属性を参照する。
	SourceVariant SourceScope = "variant"
)

// FieldMapping は出力フィールド1つ分のマッピング定義を表す。
// どのスコープのどの属性を参照するかを宣言する純粋な設定値。
type FieldMapping struct {
	Source    SourceScope `json:"source"`
	Attribute string      `json:"attribute"`
}

// FieldMappings はフィード語彙のフィールド名をキーとするマッピング表。
// 自動処理されるフィールド（id、title、price等）への定義は無視される。
type FieldMappings map[string]FieldMapping

// autoHandledFields は正規化ロジックが直接組み立てるフィールド。
// マッピング表で上書きできない。
var autoHandledFields = map[string]bool{
	"id":            true,
	"title":         true,
	"description":   true,
	"link":          true,
	"price":         true,
	"sale_price":    true,
	"availability":  true,
	"sku":           true,
	"item_group_id": true,
	"condition":     true,
}
