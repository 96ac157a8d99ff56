// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はメトリクス収集のインターフェース。
// サービス層とワーカーから利用する。
type Collector interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordServeStatus(statusCode int)
	RecordGenerationCompleted(duration time.Duration, itemCount int)
	RecordGenerationFailed()
	RecordShardRegenerated()
	RecordItemsNormalized(count int)
	RecordItemError()
	RecordTaskFailure(kind string)
}

// PrometheusCollector はPrometheusメトリクスを収集する実装。
type PrometheusCollector struct {
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	serveStatus        *prometheus.CounterVec
	generationDuration prometheus.Histogram
	generationItems    prometheus.Gauge
	generationFailures prometheus.Counter
	shardRegenerations prometheus.Counter
	itemsNormalized    prometheus.Counter
	itemErrors         prometheus.Counter
	taskFailures       *prometheus.CounterVec
}

// NewCollector は新しいPrometheusCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopfeed_cache_hit_total",
			Help: "組み立て済みフィードのキャッシュヒット数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopfeed_cache_miss_total",
			Help: "組み立て済みフィードのキャッシュミス数",
		}),
		serveStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopfeed_serve_status_total",
			Help: "フィード配信のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopfeed_generation_duration_seconds",
			Help:    "フルフィード生成の所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		generationItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopfeed_generation_items",
			Help: "直近のフル生成で出力されたアイテム数",
		}),
		generationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopfeed_generation_failures_total",
			Help: "フルフィード生成の失敗数",
		}),
		shardRegenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopfeed_shard_regenerations_total",
			Help: "単一シャード再生成の実行数",
		}),
		itemsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopfeed_items_normalized_total",
			Help: "正規化されたフィードアイテムの合計数",
		}),
		itemErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopfeed_item_errors_total",
			Help: "正規化でスキップされたアイテムのエラー数",
		}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopfeed_task_failures_total",
			Help: "バックグラウンドタスクの失敗数（種別ごと）",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.serveStatus,
		c.generationDuration,
		c.generationItems,
		c.generationFailures,
		c.shardRegenerations,
		c.itemsNormalized,
		c.itemErrors,
		c.taskFailures,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *PrometheusCollector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *PrometheusCollector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordServeStatus はフィード配信のHTTPステータスコードを記録する。
func (c *PrometheusCollector) RecordServeStatus(statusCode int) {
	c.serveStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordGenerationCompleted はフル生成の完了を記録する。
func (c *PrometheusCollector) RecordGenerationCompleted(duration time.Duration, itemCount int) {
	c.generationDuration.Observe(duration.Seconds())
	c.generationItems.Set(float64(itemCount))
}

// RecordGenerationFailed はフル生成の失敗を記録する。
func (c *PrometheusCollector) RecordGenerationFailed() {
	c.generationFailures.Inc()
}

// RecordShardRegenerated は単一シャード再生成の実行を記録する。
func (c *PrometheusCollector) RecordShardRegenerated() {
	c.shardRegenerations.Inc()
}

// RecordItemsNormalized は正規化されたアイテム数を記録する。
func (c *PrometheusCollector) RecordItemsNormalized(count int) {
	c.itemsNormalized.Add(float64(count))
}

// RecordItemError は正規化でスキップされたアイテムのエラーを記録する。
func (c *PrometheusCollector) RecordItemError() {
	c.itemErrors.Inc()
}

// RecordTaskFailure はバックグラウンドタスクの失敗を記録する。
func (c *PrometheusCollector) RecordTaskFailure(kind string) {
	c.taskFailures.WithLabelValues(kind).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないCollector。テストやメトリクス無効時に使う。
type Noop struct{}

// RecordCacheHit は何もしない。
func (Noop) RecordCacheHit() {}

// RecordCacheMiss は何もしない。
func (Noop) RecordCacheMiss() {}

// RecordServeStatus は何もしない。
func (Noop) RecordServeStatus(int) {}

// RecordGenerationCompleted は何もしない。
func (Noop) RecordGenerationCompleted(time.Duration, int) {}

// RecordGenerationFailed は何もしない。
func (Noop) RecordGenerationFailed() {}

// RecordShardRegenerated は何もしない。
func (Noop) RecordShardRegenerated() {}

// RecordItemsNormalized は何もしない。
func (Noop) RecordItemsNormalized(int) {}

// RecordItemError は何もしない。
func (Noop) RecordItemError() {}

// RecordTaskFailure は何もしない。
func (Noop) RecordTaskFailure(string) {}
