package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserversUpdateCounters(t *testing.T) {
	m := New()
	m.ObserveTool("get_balance", true, 10*time.Millisecond)
	m.ObserveTool("get_balance", false, time.Millisecond)
	m.ObserveModelCall("initial", errors.New("boom"), time.Second)
	m.ObserveFallback("timeout")
	m.ObserveRateLimited()
	m.ObserveRateLimited()
	m.ObserveLimiterFailOpen("u1", errors.New("redis down"))
	m.ObserveSettlement(nil)

	if got := testutil.ToFloat64(m.toolExecutions.WithLabelValues("get_balance", "error")); got != 1 {
		t.Fatalf("unexpected tool error count %v", got)
	}
	if got := testutil.ToFloat64(m.modelCalls.WithLabelValues("initial", "error")); got != 1 {
		t.Fatalf("unexpected model error count %v", got)
	}
	if got := testutil.ToFloat64(m.rateLimited); got != 2 {
		t.Fatalf("unexpected rate limited count %v", got)
	}
	if got := testutil.ToFloat64(m.limiterFailOpen); got != 1 {
		t.Fatalf("unexpected fail-open count %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	h := m.Middleware("chat", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `openmcp_bank_http_requests_total{code="429",handler="chat",method="POST"} 1`) {
		t.Fatalf("expected request counter in exposition:\n%s", body)
	}
}
