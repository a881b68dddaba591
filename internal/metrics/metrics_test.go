package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInitMetricsAndHandler(t *testing.T) {
	oldRegistry := Registry
	Registry = prometheus.NewRegistry()
	defer func() { Registry = oldRegistry }()

	m := InitMetrics("be/0")

	m.ReconcileTotal.Inc()
	m.KnownPeers.Set(3)
	m.GeneratedJobs.Set(5)
	m.ConfigRejections.WithLabelValues("config_file").Inc()

	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	output := string(body)
	for _, want := range []string{
		`probemesh_reconcile_total{unit="be/0"} 1`,
		`probemesh_known_peers{unit="be/0"} 3`,
		`probemesh_generated_jobs{unit="be/0"} 5`,
		`probemesh_config_rejections_total{file="config_file",unit="be/0"} 1`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
