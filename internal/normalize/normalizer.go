// Package normalize はカタログエンティティからフィードアイテムへの正規化を提供する。
// タイトル・価格・リンクを欠く対象は除外（nil）であってエラーではない。
package normalize

import (
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/shopfeed/internal/model"
)

// Normalizer はカタログバリアントをフィードアイテムへ正規化する。
// マッピング表を除き状態を持たず、並行呼び出しに対して安全。
type Normalizer struct {
	mappings FieldMappings
	policy   *bluemonday.Policy
	logger   *slog.Logger
}

// New はNormalizerを生成する。
// mappingsがnilの場合はマッピングなしとして動作する。
func New(mappings FieldMappings, logger *slog.Logger) *Normalizer {
	if mappings == nil {
		mappings = FieldMappings{}
	}
	return &Normalizer{
		mappings: mappings,
		policy:   bluemonday.StrictPolicy(),
		logger:   logger,
	}
}

// Normalize はバリアントをフィードアイテムへ正規化する。
// タイトル・リンク・価格のいずれかを欠く対象は (nil, nil) を返し、静かに除外される。
// エラーは呼び出し側でItemErrorとして記録・スキップされる。
func (n *Normalizer) Normalize(site *model.Site, cv model.CatalogVariant) (*model.FeedItem, error) {
	if site == nil {
		return nil, fmt.Errorf("site is required for normalization")
	}

	item := &model.FeedItem{}

	id := cv.SKU
	if id == "" {
		id = strconv.FormatInt(cv.VariantID, 10)
	}
	item.ID = truncate(id, model.MaxItemIDLength)

	title := n.buildTitle(cv)
	if title == "" {
		n.logger.Warn("商品にタイトルがないためスキップします",
			slog.Int64("product_id", cv.OwnerID),
			slog.Int64("variant_id", cv.VariantID),
		)
		return nil, nil
	}
	item.Title = title

	item.Description = n.buildDescription(cv)

	link := n.buildLink(site, cv)
	if link == "" {
		n.logger.Info("バリアントにURLが設定されていないためスキップします",
			slog.Int64("variant_id", cv.VariantID),
			slog.String("sku", cv.SKU),
		)
		return nil, nil
	}
	item.Link = link

	if !cv.HasPrice {
		return nil, nil
	}
	item.Price = formatPrice(cv.Price, site.Currency)

	if cv.OnPromotion && cv.PromotionalPrice > 0 {
		item.SalePrice = formatPrice(cv.PromotionalPrice, site.Currency)
	}

	item.Availability = availability(cv)

	if cv.SKU != "" {
		item.SKU = cv.SKU
	}

	if cv.VariantCount > 1 {
		item.ItemGroupID = strconv.FormatInt(cv.OwnerID, 10)
	}

	if cv.ProductType != "" {
		item.ProductType = cv.ProductType
	}

	item.Condition = "new"

	if imageLink := n.buildImageLink(cv); imageLink != "" {
		item.ImageLink = imageLink
	}

	if len(cv.AdditionalImageURLs) > 0 {
		item.AdditionalImageLinks = append([]string(nil), cv.AdditionalImageURLs...)
	}

	item.Extensions = n.buildExtensions(cv)

	if item.Extensions["brand"] == "" && item.Extensions["gtin"] == "" && item.Extensions["mpn"] == "" {
		item.IdentifierExists = "no"
	}

	if len(item.Extensions) == 0 {
		item.Extensions = nil
	}

	return item, nil
}

// buildTitle は商品タイトルを基礎に、バリアントタイトルが異なる場合は連結する。
func (n *Normalizer) buildTitle(cv model.CatalogVariant) string {
	title := strings.TrimSpace(cv.ProductTitle)
	if title == "" {
		return ""
	}

	variantTitle := strings.TrimSpace(cv.Title)
	if variantTitle != "" && variantTitle != title {
		title = title + " - " + variantTitle
	}

	return truncate(title, model.MaxItemTitleLength)
}

// buildDescription はバリアント→商品→タイトルの順でフォールバックし、
// HTMLタグを除去して切り詰める。
func (n *Normalizer) buildDescription(cv model.CatalogVariant) string {
	description := cv.Description
	if description == "" {
		description = cv.ProductDescription
	}
	if description == "" {
		description = cv.ProductTitle
	}

	description = html.UnescapeString(n.policy.Sanitize(description))
	return truncate(strings.TrimSpace(description), model.MaxItemDescriptionLength)
}

// buildLink はバリアント→商品の順でURLを選び、相対URLはサイトのベースURLへ解決する。
func (n *Normalizer) buildLink(site *model.Site, cv model.CatalogVariant) string {
	url := cv.URL
	if url == "" {
		url = cv.ProductURL
	}
	if url == "" {
		return ""
	}

	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return url
	}

	return strings.TrimRight(site.BaseURL, "/") + "/" + strings.TrimLeft(url, "/")
}

// buildImageLink はマッピング定義があればそれを優先し、なければ商品の画像URLを使う。
func (n *Normalizer) buildImageLink(cv model.CatalogVariant) string {
	if mapping, ok := n.mappings["image_link"]; ok {
		if value := n.mappedValue(cv, mapping); value != "" {
			return value
		}
	}
	return cv.ImageURL
}

// buildExtensions はbrand/gtin/mpnとマッピング表由来の拡張フィールドを構築する。
func (n *Normalizer) buildExtensions(cv model.CatalogVariant) map[string]string {
	extensions := map[string]string{}

	if cv.Brand != "" {
		extensions["brand"] = cv.Brand
	}
	if cv.GTIN != "" {
		extensions["gtin"] = cv.GTIN
	}
	if cv.MPN != "" {
		extensions["mpn"] = cv.MPN
	}

	for field, mapping := range n.mappings {
		if autoHandledFields[field] || field == "image_link" || field == "additional_image_link" {
			continue
		}
		if mapping.Attribute == "" {
			continue
		}
		if value := n.mappedValue(cv, mapping); value != "" {
			extensions[field] = value
		}
	}

	return extensions
}

// mappedValue はマッピング定義を1件解決する。
// title/urlはスコープごとの組み込みフィールドを、それ以外は属性マップを参照する。
func (n *Normalizer) mappedValue(cv model.CatalogVariant, mapping FieldMapping) string {
	switch mapping.Attribute {
	case "title":
		if mapping.Source == SourceVariant {
			return cv.Title
		}
		return cv.ProductTitle
	case "url":
		if mapping.Source == SourceVariant {
			return cv.URL
		}
		return cv.ProductURL
	}

	return cv.Attributes[mapping.Attribute]
}

// availability は購入可否と在庫数から在庫状態を判定する。
func availability(cv model.CatalogVariant) model.Availability {
	if !cv.AvailableForPurchase {
		return model.AvailabilityOutOfStock
	}
	if cv.UnlimitedStock {
		return model.AvailabilityInStock
	}
	if cv.Stock > 0 {
		return model.AvailabilityInStock
	}
	return model.AvailabilityOutOfStock
}

// formatPrice は価格を "12.00 USD" 形式に整形する。
func formatPrice(price float64, currency string) string {
	return fmt.Sprintf("%.2f %s", price, currency)
}

// truncate は文字数（ルーン数）で切り詰める。
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
