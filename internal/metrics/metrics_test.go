package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	m := New()
	m.CountMessage(TypeInbound)
	m.CountMessage(TypeInbound)
	m.CountMessage(TypeRelay)
	m.SetActiveChats(7)

	if got := testutil.ToFloat64(m.botMessages.WithLabelValues(TypeInbound)); got != 2 {
		t.Errorf("inbound = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.activeChats); got != 7 {
		t.Errorf("active_chats = %v, want 7", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CountMessage(TypeInbound)
	m.SetActiveChats(1)
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/products/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products/42", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	want := `http_request_duration_seconds_count{method="GET",route="/products/:id",status="204"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %q", want)
	}
}
