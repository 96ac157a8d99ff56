// Package render はフィードアイテム列からRSS 2.0（Google Merchant語彙）の
// XMLドキュメントを生成する。入力のみに依存する純粋関数で、キャッシュへの副作用はない。
package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/hitoshi/shopfeed/internal/model"
)

// googleNamespace はGoogle Merchantフィード語彙のXML名前空間。
const googleNamespace = "http://base.google.com/ns/1.0"

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	XmlnsG  string     `xml:"xmlns:g,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link,omitempty"`
	Description string    `xml:"description,omitempty"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	ID                   string   `xml:"g:id"`
	Title                string   `xml:"g:title"`
	Description          string   `xml:"g:description,omitempty"`
	Link                 string   `xml:"g:link"`
	ImageLink            string   `xml:"g:image_link,omitempty"`
	AdditionalImageLinks []string `xml:"g:additional_image_link,omitempty"`
	Price                string   `xml:"g:price"`
	SalePrice            string   `xml:"g:sale_price,omitempty"`
	Availability         string   `xml:"g:availability"`
	ItemGroupID          string   `xml:"g:item_group_id,omitempty"`
	ProductType          string   `xml:"g:product_type,omitempty"`
	Condition            string   `xml:"g:condition,omitempty"`
	IdentifierExists     string   `xml:"g:identifier_exists,omitempty"`
	Extensions           []gField
}

// gField はフィード語彙名をキーとする動的な拡張要素を表す。
type gField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// Render はサイトとアイテム列からフィードXMLを生成する。
// アイテム列の順序をそのまま保持する。
func Render(site *model.Site, items []model.FeedItem) ([]byte, error) {
	feed := rssFeed{
		Version: "2.0",
		XmlnsG:  googleNamespace,
		Channel: rssChannel{
			Title:       site.Name + " - Product Feed",
			Link:        site.BaseURL,
			Description: "Product feed for " + site.Name,
			Items:       make([]rssItem, 0, len(items)),
		},
	}

	for _, item := range items {
		feed.Channel.Items = append(feed.Channel.Items, toRSSItem(item))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")
	if err := encoder.Encode(feed); err != nil {
		return nil, fmt.Errorf("フィードXMLのエンコードに失敗しました: %w", err)
	}

	return buf.Bytes(), nil
}

// toRSSItem はFeedItemをRSS item要素へ変換する。
// 拡張フィールドはキー昇順で出力し、出力の決定性を保つ。
func toRSSItem(item model.FeedItem) rssItem {
	out := rssItem{
		ID:                   item.ID,
		Title:                item.Title,
		Description:          item.Description,
		Link:                 item.Link,
		ImageLink:            item.ImageLink,
		AdditionalImageLinks: item.AdditionalImageLinks,
		Price:                item.Price,
		SalePrice:            item.SalePrice,
		Availability:         string(item.Availability),
		ItemGroupID:          item.ItemGroupID,
		ProductType:          item.ProductType,
		Condition:            item.Condition,
		IdentifierExists:     item.IdentifierExists,
	}

	if item.SKU != "" {
		out.Extensions = append(out.Extensions, gField{
			XMLName: xml.Name{Local: "g:sku"},
			Value:   item.SKU,
		})
	}

	keys := make([]string, 0, len(item.Extensions))
	for key := range item.Extensions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		out.Extensions = append(out.Extensions, gField{
			XMLName: xml.Name{Local: "g:" + key},
			Value:   item.Extensions[key],
		})
	}

	return out
}

// Generating は生成中を示す空のフィードエンベロープを返す。
// 503レスポンスのボディとして使う、妥当だが空のドキュメント。
func Generating(site *model.Site) []byte {
	return []byte(xml.Header +
		`<rss version="2.0" xmlns:g="` + googleNamespace + `">` +
		`<channel>` +
		`<title>` + escape(site.Name) + ` - Product Feed</title>` +
		`<link>` + escape(site.BaseURL) + `</link>` +
		`<description>Feed is currently being generated. Please try again shortly.</description>` +
		`</channel></rss>`)
}

// ErrorEnvelope はエラーを示す最小限の静的フィードエンベロープを返す。
// レンダリング失敗が不正なドキュメントとして外に出ないための最終フォールバック。
func ErrorEnvelope(message string) []byte {
	return []byte(xml.Header +
		`<rss version="2.0" xmlns:g="` + googleNamespace + `">` +
		`<channel><title>Feed Error</title><description>` +
		escape(message) +
		`</description></channel></rss>`)
}

// escape はXMLテキストとして安全な文字列へエスケープする。
func escape(s string) string {
	var buf bytes.Buffer
	// EscapeTextは静的な文字列に対しては失敗しない
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
