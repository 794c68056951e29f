// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// auth.MetricsRecorder と board.MetricsRecorder を満たす。
type Collector struct {
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	boardOps      *prometheus.CounterVec
	authAttempts  *prometheus.CounterVec
	trashPurged   prometheus.Counter
	sessionsSwept prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_http_requests_total",
			Help: "ルート・メソッド・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whiteboard_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		boardOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_board_operations_total",
			Help: "操作・結果別のボード操作数",
		}, []string{"operation", "result"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_auth_attempts_total",
			Help: "方式・結果別のログイン試行数",
		}, []string{"method", "result"}),
		trashPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whiteboard_trash_purged_total",
			Help: "保持期間を過ぎてゴミ箱から完全削除されたボードの合計数",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whiteboard_sessions_swept_total",
			Help: "期限切れで削除されたセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.boardOps,
		c.authAttempts,
		c.trashPurged,
		c.sessionsSwept,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeはchiのルートパターン（例: /api/boards/{id}）を渡し、ラベルの爆発を防ぐ。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBoardOperation はボード操作の結果を記録する。
func (c *Collector) RecordBoardOperation(op, result string) {
	c.boardOps.WithLabelValues(op, result).Inc()
}

// RecordAuthAttempt はログイン試行の結果を記録する。
func (c *Collector) RecordAuthAttempt(method, result string) {
	c.authAttempts.WithLabelValues(method, result).Inc()
}

// RecordTrashPurge は完全削除したボード数を記録する。
func (c *Collector) RecordTrashPurge(count int) {
	c.trashPurged.Add(float64(count))
}

// RecordSessionSweep は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionSweep(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
