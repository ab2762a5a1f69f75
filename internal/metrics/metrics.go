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
// ルートガード、セッション操作、お気に入り、外部API呼び出しから利用する。
type MetricsCollector interface {
	RecordGuardDecision(state string)
	RecordAuthAction(action, outcome string)
	RecordFavoriteAdd(outcome string)
	RecordAPICall(endpoint string, statusCode int)
	RecordAPILatency(endpoint string, duration time.Duration)
	SetActiveClients(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions *prometheus.CounterVec
	authActions    *prometheus.CounterVec
	favoriteAdds   *prometheus.CounterVec
	apiCalls       *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
	activeClients  prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodreview_guard_decisions_total",
			Help: "ルートガードの判定結果別の件数",
		}, []string{"state"}),
		authActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodreview_auth_actions_total",
			Help: "セッション操作の種類と結果別の件数",
		}, []string{"action", "outcome"}),
		favoriteAdds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodreview_favorite_adds_total",
			Help: "お気に入り追加の結果別の件数",
		}, []string{"outcome"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodreview_review_api_calls_total",
			Help: "レビューAPI呼び出しのエンドポイントとステータスコード別の件数",
		}, []string{"endpoint", "status_code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foodreview_review_api_latency_seconds",
			Help:    "レビューAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foodreview_active_clients",
			Help: "レジストリが保持しているクライアント数",
		}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.authActions,
		c.favoriteAdds,
		c.apiCalls,
		c.apiLatency,
		c.activeClients,
	)

	return c
}

// RecordGuardDecision はルートガードの判定結果を記録する。
func (c *Collector) RecordGuardDecision(state string) {
	c.guardDecisions.WithLabelValues(state).Inc()
}

// RecordAuthAction はセッション操作の結果を記録する。
// outcomeには成功時"success"、失敗時はエラーコードを渡す。
func (c *Collector) RecordAuthAction(action, outcome string) {
	c.authActions.WithLabelValues(action, outcome).Inc()
}

// RecordFavoriteAdd はお気に入り追加の結果を記録する。
func (c *Collector) RecordFavoriteAdd(outcome string) {
	c.favoriteAdds.WithLabelValues(outcome).Inc()
}

// RecordAPICall はレビューAPI呼び出しを記録する。
// 通信自体が失敗した場合はstatusCodeに0を渡す。
func (c *Collector) RecordAPICall(endpoint string, statusCode int) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	c.apiCalls.WithLabelValues(endpoint, status).Inc()
}

// RecordAPILatency はレビューAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordAPILatency(endpoint string, duration time.Duration) {
	c.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetActiveClients はレジストリのクライアント数を記録する。
func (c *Collector) SetActiveClients(n int) {
	c.activeClients.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
