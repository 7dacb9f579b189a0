// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// マッチング実行結果のラベル値
const (
	RunOutcomeCompleted = "completed"
	RunOutcomeFailed    = "failed"
)

// 通知配信結果のラベル値
const (
	DeliveryResultSent   = "sent"
	DeliveryResultFailed = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ジョブやサービス層から利用する。
type MetricsCollector interface {
	RecordRun(outcome string, pairs, unpaired int, duration time.Duration)
	RecordDelivery(result string)
	AddReaped(n int)
	RecordSuggestion(accepted bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runs        *prometheus.CounterVec
	pairs       prometheus.Counter
	unpaired    prometheus.Counter
	runDuration prometheus.Histogram
	deliveries  *prometheus.CounterVec
	reaped      prometheus.Counter
	suggestions *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetpair_matching_runs_total",
			Help: "結果別のマッチング実行回数",
		}, []string{"outcome"}),
		pairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetpair_pairs_total",
			Help: "成立したペアの合計数",
		}),
		unpaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetpair_unpaired_total",
			Help: "ペアが組めなかった参加者の合計数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetpair_matching_run_duration_seconds",
			Help:    "マッチング実行（配信を含む）の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetpair_deliveries_total",
			Help: "結果別の通知配信数",
		}, []string{"result"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetpair_reaped_participants_total",
			Help: "非アクティブにより削除された参加者の合計数",
		}),
		suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetpair_topic_suggestions_total",
			Help: "受理・却下別のトピック提案数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.runs,
		c.pairs,
		c.unpaired,
		c.runDuration,
		c.deliveries,
		c.reaped,
		c.suggestions,
	)

	return c
}

// RecordRun はマッチング実行の結果を記録する。
func (c *Collector) RecordRun(outcome string, pairs, unpaired int, duration time.Duration) {
	c.runs.WithLabelValues(outcome).Inc()
	c.pairs.Add(float64(pairs))
	c.unpaired.Add(float64(unpaired))
	c.runDuration.Observe(duration.Seconds())
}

// RecordDelivery は通知1件の配信結果を記録する。
func (c *Collector) RecordDelivery(result string) {
	c.deliveries.WithLabelValues(result).Inc()
}

// AddReaped は削除された参加者数を加算する。
func (c *Collector) AddReaped(n int) {
	c.reaped.Add(float64(n))
}

// RecordSuggestion はトピック提案の受理・却下を記録する。
func (c *Collector) RecordSuggestion(accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	c.suggestions.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
