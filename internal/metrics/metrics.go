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
// APIクライアント・ガード・アドバイザリワーカーから利用する。
type MetricsCollector interface {
	RecordSignIn(method string)
	RecordForcedSignOut()
	RecordTokenRefresh()
	RecordGuardRedirect(guard string)
	RecordUpstreamStatus(statusCode int)
	RecordUpstreamLatency(duration time.Duration)
	RecordProfileFailure()
	RecordAdvisoryFetch(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn          *prometheus.CounterVec
	forcedSignOut   prometheus.Counter
	tokenRefresh    prometheus.Counter
	guardRedirect   *prometheus.CounterVec
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	profileFailure  prometheus.Counter
	advisoryFetch   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbari_sign_in_total",
			Help: "ログイン成功の合計数（方式別）",
		}, []string{"method"}),
		forcedSignOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketbari_forced_sign_out_total",
			Help: "API 401/403による強制サインアウトの合計数",
		}),
		tokenRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketbari_token_refresh_total",
			Help: "IDトークン更新の合計数",
		}),
		guardRedirect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbari_guard_redirect_total",
			Help: "ルートガードによるリダイレクトの合計数（ガード種別）",
		}, []string{"guard"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbari_upstream_status_total",
			Help: "マーケットプレイスAPIのステータスコード別レスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketbari_upstream_latency_seconds",
			Help:    "マーケットプレイスAPIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		profileFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketbari_profile_failure_total",
			Help: "プロフィール解決失敗の合計数",
		}),
		advisoryFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbari_advisory_fetch_total",
			Help: "運行情報フィード取得の合計数（結果別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.signIn,
		c.forcedSignOut,
		c.tokenRefresh,
		c.guardRedirect,
		c.upstreamStatus,
		c.upstreamLatency,
		c.profileFailure,
		c.advisoryFetch,
	)

	return c
}

// RecordSignIn はログイン成功を方式（password, provider, restore）別に記録する。
func (c *Collector) RecordSignIn(method string) {
	c.signIn.WithLabelValues(method).Inc()
}

// RecordForcedSignOut は強制サインアウトを記録する。
func (c *Collector) RecordForcedSignOut() {
	c.forcedSignOut.Inc()
}

// RecordTokenRefresh はIDトークン更新を記録する。
func (c *Collector) RecordTokenRefresh() {
	c.tokenRefresh.Inc()
}

// RecordGuardRedirect はガードによるリダイレクトをガード種別（auth, role）で記録する。
func (c *Collector) RecordGuardRedirect(guard string) {
	c.guardRedirect.WithLabelValues(guard).Inc()
}

// RecordUpstreamStatus はマーケットプレイスAPIのステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency はマーケットプレイスAPIのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// RecordProfileFailure はプロフィール解決失敗を記録する。
func (c *Collector) RecordProfileFailure() {
	c.profileFailure.Inc()
}

// RecordAdvisoryFetch は運行情報フィード取得の結果を記録する。
func (c *Collector) RecordAdvisoryFetch(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.advisoryFetch.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
