package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nabbar/edgeproxy/metrics"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	r := metrics.New()
	r.SessionsOpened.Inc()
	r.RequestsRouted.WithLabelValues("c1", "b1").Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	if !strings.Contains(body, "edgeproxy_sessions_opened_total") {
		t.Fatal("expected sessions_opened_total in exposition output")
	}
	if !strings.Contains(body, "edgeproxy_requests_routed_total") {
		t.Fatal("expected requests_routed_total in exposition output")
	}
}
