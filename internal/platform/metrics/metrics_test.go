package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMetrics_scrape(t *testing.T) {
	m := New()
	m.ObservePoll("became-live")
	m.ObservePoll("became-live")
	m.IncCapturesStarted()
	m.ObserveFinalize("failed")

	out := scrape(t, m, func() { m.SetActiveCaptures(3) })

	for _, want := range []string{
		`chzzk_polls_total{result="became-live"} 2`,
		`chzzk_captures_started_total 1`,
		`chzzk_finalize_total{result="failed"} 1`,
		`chzzk_active_captures 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_nil_receiver(t *testing.T) {
	var m *Metrics
	m.ObservePoll("unreachable")
	m.IncCaptureFailures()
	m.SetActiveCaptures(1)
	m.ObserveResolve("ok")
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/channels", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	out := scrape(t, m, nil)
	if !strings.Contains(out, "chzzk_http_requests_total 2") {
		t.Errorf("expected 2 counted requests:\n%s", out)
	}
	if !strings.Contains(out, "chzzk_http_errors_total 1") {
		t.Errorf("expected 1 error:\n%s", out)
	}
}
