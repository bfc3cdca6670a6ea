package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestHandlerExposesCollectors(t *testing.T) {
	Init()
	Init()

	ResourceFinished("VALIDATED")
	SecretsWritten(2, 1)
	Mismatch()
	Sweep("clean")
	ObserveStage("encrypting", time.Now())

	body := scrape(t)
	for _, want := range []string{
		`aclsync_resources_total{state="VALIDATED"}`,
		"aclsync_secrets_created_total",
		"aclsync_secrets_deleted_total",
		"aclsync_mismatches_total",
		`aclsync_sweeps_total{outcome="clean"}`,
		`aclsync_pipeline_duration_seconds_count{stage="encrypting"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}
}
