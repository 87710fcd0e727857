// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordSecurityEvent(eventType string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordUpload(category string, sizeBytes int64)
	RecordRateLimitStoreError()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	securityEvents *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	storeErrors    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicroom_security_events_total",
			Help: "種別ごとのセキュリティイベント数",
		}, []string{"event_type"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicroom_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "musicroom_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicroom_uploads_total",
			Help: "分類ごとの受け付けたアップロード数",
		}, []string{"category"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "musicroom_upload_bytes_total",
			Help: "受け付けたアップロードの合計バイト数",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "musicroom_rate_limit_store_errors_total",
			Help: "レート制限ストアへのアクセス失敗数",
		}),
	}

	reg.MustRegister(
		c.securityEvents,
		c.httpStatus,
		c.requestLatency,
		c.uploads,
		c.uploadBytes,
		c.storeErrors,
	)

	return c
}

// RecordSecurityEvent はセキュリティイベントを記録する。
func (c *Collector) RecordSecurityEvent(eventType string) {
	c.securityEvents.WithLabelValues(eventType).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordUpload は受け付けたアップロードを記録する。
func (c *Collector) RecordUpload(category string, sizeBytes int64) {
	c.uploads.WithLabelValues(category).Inc()
	c.uploadBytes.Add(float64(sizeBytes))
}

// RecordRateLimitStoreError はレート制限ストアの失敗を記録する。
func (c *Collector) RecordRateLimitStoreError() {
	c.storeErrors.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordSecurityEvent(string) {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordRequestLatency(time.Duration) {}
func (NopCollector) RecordUpload(string, int64) {}
func (NopCollector) RecordRateLimitStoreError() {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
