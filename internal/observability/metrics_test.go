package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("POST", "/ingest", 200, 0.001)
	IncReading("stored")
	IncValidationFailure("missing_field")
	ObserveStoreOp("pipeline_set", nil, 0.002)
	ObserveDetectRun("ok", 1.5)
	IncAssessment("cluster")
	ObserveLLMCall("ok", 0.8)
	IncAlert("created")
	IncPublish("event", "ok")
	SetActiveAlerts(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`app_build_info{version="test"} 1`,
		`ingest_readings_total{outcome="stored"} `,
		`ingest_validation_failures_total{rule="missing_field"} `,
		`detect_assessments_total{type="cluster"} `,
		`llm_calls_total{outcome="ok"} `,
		`alerts_total{action="created"} `,
		`bus_publish_total{class="event",outcome="ok"} `,
		`alerts_active 3`,
		`store_operation_duration_seconds_bucket`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics payload missing %q; got:\n%s", want, body)
		}
	}
}
