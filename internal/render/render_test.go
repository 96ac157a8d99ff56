package render

import (
	"strings"
	"testing"

	"github.com/hitoshi/shopfeed/internal/model"
)

func testSite() *model.Site {
	return &model.Site{
		ID:       1,
		Name:     "Test Shop",
		BaseURL:  "https://shop.example.com",
		Currency: "USD",
	}
}

// TestRender_Basic はアイテム列がRSSドキュメントに描画されることを確認する。
func TestRender_Basic(t *testing.T) {
	items := []model.FeedItem{
		{
			ID:           "SKU-1",
			Title:        "Widget",
			Link:         "https://shop.example.com/p/1",
			Price:        "19.99 USD",
			Availability: model.AvailabilityInStock,
			Condition:    "new",
		},
	}

	out, err := Render(testSite(), items)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	xml := string(out)
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`xmlns:g="http://base.google.com/ns/1.0"`,
		`<title>Test Shop - Product Feed</title>`,
		`<g:id>SKU-1</g:id>`,
		`<g:title>Widget</g:title>`,
		`<g:price>19.99 USD</g:price>`,
		`<g:availability>in_stock</g:availability>`,
		`<g:condition>new</g:condition>`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("expected output to contain %q\noutput: %s", want, xml)
		}
	}
}

// TestRender_OmitsEmptyFields は空のオプションフィールドが出力されないことを確認する。
func TestRender_OmitsEmptyFields(t *testing.T) {
	items := []model.FeedItem{
		{ID: "a", Title: "A", Link: "https://x", Price: "1.00 USD", Availability: model.AvailabilityInStock},
	}

	out, err := Render(testSite(), items)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	xml := string(out)
	for _, unwanted := range []string{"<g:sale_price>", "<g:item_group_id>", "<g:description>"} {
		if strings.Contains(xml, unwanted) {
			t.Errorf("expected output to omit %q", unwanted)
		}
	}
}

// TestRender_PreservesOrder は入力順がそのまま出力順になることを確認する。
func TestRender_PreservesOrder(t *testing.T) {
	items := []model.FeedItem{
		{ID: "first", Title: "A", Link: "https://x/1", Price: "1.00 USD"},
		{ID: "second", Title: "B", Link: "https://x/2", Price: "2.00 USD"},
	}

	out, err := Render(testSite(), items)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	xml := string(out)
	if strings.Index(xml, "first") > strings.Index(xml, "second") {
		t.Error("expected items in input order")
	}
}

// TestRender_Extensions は拡張フィールドがキー昇順で出力されることを確認する。
func TestRender_Extensions(t *testing.T) {
	items := []model.FeedItem{
		{
			ID: "a", Title: "A", Link: "https://x", Price: "1.00 USD",
			SKU: "SKU-A",
			Extensions: map[string]string{
				"mpn":   "M-1",
				"brand": "Acme",
			},
		},
	}

	out, err := Render(testSite(), items)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	xml := string(out)
	if !strings.Contains(xml, "<g:sku>SKU-A</g:sku>") {
		t.Errorf("expected sku extension, got: %s", xml)
	}
	if !strings.Contains(xml, "<g:brand>Acme</g:brand>") {
		t.Errorf("expected brand extension, got: %s", xml)
	}

	// 出力の決定性: brandがmpnより先
	if strings.Index(xml, "<g:brand>") > strings.Index(xml, "<g:mpn>") {
		t.Error("expected extensions in key order")
	}
}

// TestRender_EscapesContent は特殊文字がエスケープされることを確認する。
func TestRender_EscapesContent(t *testing.T) {
	items := []model.FeedItem{
		{ID: "a", Title: "Widget <XL> & Co", Link: "https://x", Price: "1.00 USD"},
	}

	out, err := Render(testSite(), items)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	xml := string(out)
	if strings.Contains(xml, "Widget <XL>") {
		t.Error("expected title to be escaped")
	}
	if !strings.Contains(xml, "Widget &lt;XL&gt; &amp; Co") {
		t.Errorf("expected escaped title, got: %s", xml)
	}
}

// TestRender_EmptyItems はアイテムなしでも妥当なドキュメントが返ることを確認する。
func TestRender_EmptyItems(t *testing.T) {
	out, err := Render(testSite(), nil)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(string(out), "<channel>") {
		t.Error("expected channel element in empty feed")
	}
	if strings.Contains(string(out), "<item>") {
		t.Error("expected no item elements in empty feed")
	}
}

// TestGenerating は生成中エンベロープの内容を確認する。
func TestGenerating(t *testing.T) {
	out := Generating(&model.Site{Name: "Shop & Co", BaseURL: "https://x"})

	xml := string(out)
	if !strings.Contains(xml, "Shop &amp; Co") {
		t.Errorf("expected escaped site name, got: %s", xml)
	}
	if !strings.Contains(xml, "being generated") {
		t.Errorf("expected generating notice, got: %s", xml)
	}
}

// TestErrorEnvelope はエラーエンベロープの内容を確認する。
func TestErrorEnvelope(t *testing.T) {
	out := ErrorEnvelope("boom <err>")

	xml := string(out)
	if !strings.Contains(xml, "boom &lt;err&gt;") {
		t.Errorf("expected escaped message, got: %s", xml)
	}
	if !strings.Contains(xml, "<title>Feed Error</title>") {
		t.Errorf("expected error title, got: %s", xml)
	}
}
