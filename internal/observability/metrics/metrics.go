// Package metrics 以 Prometheus 格式暴露 HTTP、工具、模型调用与限流指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openmcp_bank"

// Metrics 汇集服务的全部指标，零值不可用，请通过 New 创建。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	toolExecutions   *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	modelCalls       *prometheus.CounterVec
	modelDuration    *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	rateLimited      prometheus.Counter
	limiterFailOpen  prometheus.Counter
	settlementEvents *prometheus.CounterVec
}

// New 在独立的 Registry 上注册指标，同时附带 Go 运行时与进程指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"handler", "method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Total number of tool executions",
		}, []string{"tool", "status"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"tool"}),
		modelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of language model calls",
		}, []string{"phase", "status"}),
		modelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Language model call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"phase"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_fallbacks_total",
			Help:      "Chat turns answered by the deterministic fallback",
		}, []string{"reason"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_rate_limited_total",
			Help:      "Chat requests rejected by the rate limiter",
		}),
		limiterFailOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_fail_open_total",
			Help:      "Requests admitted because the rate limiter backend failed",
		}),
		settlementEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_dispatch_total",
			Help:      "Settlement dispatch attempts",
		}, []string{"status"}),
	}
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTool 记录一次工具执行，签名与 tools.Observer 一致。
func (m *Metrics) ObserveTool(tool string, success bool, duration time.Duration) {
	m.toolExecutions.WithLabelValues(tool, status(success)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveModelCall 记录一次模型调用。
func (m *Metrics) ObserveModelCall(phase string, err error, duration time.Duration) {
	m.modelCalls.WithLabelValues(phase, status(err == nil)).Inc()
	m.modelDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// ObserveFallback 记录一次降级应答。
func (m *Metrics) ObserveFallback(reason string) {
	m.fallbacks.WithLabelValues(reason).Inc()
}

// ObserveRateLimited 记录一次限流拒绝。
func (m *Metrics) ObserveRateLimited() {
	m.rateLimited.Inc()
}

// ObserveLimiterFailOpen 记录一次限流后端故障放行，签名与 ratelimit.NewFailOpen 的回调一致。
func (m *Metrics) ObserveLimiterFailOpen(string, error) {
	m.limiterFailOpen.Inc()
}

// ObserveSettlement 记录一次结算下发。
func (m *Metrics) ObserveSettlement(err error) {
	m.settlementEvents.WithLabelValues(status(err == nil)).Inc()
}

// Handler 以 Prometheus 文本格式暴露指标。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware 记录经过 next 的请求，handler 为路由名。
func (m *Metrics) Middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.ObserveHTTPRequest(handler, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
