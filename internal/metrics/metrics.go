// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ガードやサービス層から利用する。
type MetricsCollector interface {
	RecordTokenIssued(kind string)
	RecordVerification(kind string, outcome string)
	RecordRenewal()
	RecordHashLatency(duration time.Duration)
	RecordLoginFailure()
}

// トークン種別と検証結果のラベル値。
const (
	KindSession = "session"
	KindRefresh = "refresh"

	OutcomeOK        = "ok"
	OutcomeSignature = "signature_mismatch"
	OutcomeClaim     = "claim_invalid"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokensIssued  *prometheus.CounterVec
	verifications *prometheus.CounterVec
	renewals      prometheus.Counter
	hashLatency   prometheus.Histogram
	loginFailures prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "発行されたトークンの合計数（種別ごと）",
		}, []string{"kind"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_token_verifications_total",
			Help: "トークン検証の合計数（種別・結果ごと）",
		}, []string{"kind", "outcome"}),
		renewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_session_renewals_total",
			Help: "旧鍵で署名されたトークンの現行鍵での再発行数",
		}),
		hashLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_password_hash_latency_seconds",
			Help:    "パスワードハッシュ計算のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_login_failures_total",
			Help: "ログイン失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.verifications,
		c.renewals,
		c.hashLatency,
		c.loginFailures,
	)

	return c
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued(kind string) {
	c.tokensIssued.WithLabelValues(kind).Inc()
}

// RecordVerification はトークン検証の結果を記録する。
func (c *Collector) RecordVerification(kind string, outcome string) {
	c.verifications.WithLabelValues(kind, outcome).Inc()
}

// RecordRenewal は鍵ローテーションに伴う再発行を記録する。
func (c *Collector) RecordRenewal() {
	c.renewals.Inc()
}

// RecordHashLatency はパスワードハッシュ計算のレイテンシを記録する。
func (c *Collector) RecordHashLatency(duration time.Duration) {
	c.hashLatency.Observe(duration.Seconds())
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFailures.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
