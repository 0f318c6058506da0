package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newTestServerWith(&fakeQuerier{}, "")
	defer s.stopRL()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_RequestCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newTestServerWith(&fakeQuerier{}, "")
	defer s.stopRL()

	do(t, s, http.MethodGet, "/api/sources", nil)
	do(t, s, http.MethodGet, "/api/jobs/missing", nil)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	want := map[string]string{"sources": "200", "job_get": "404"}
	found := 0
	for _, mf := range mfs {
		if mf.GetName() != "corpus_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if code, ok := want[labels[labelHandler]]; ok && labels["code"] == code {
				if m.GetCounter().GetValue() != 1 {
					t.Errorf("%s: want counter=1, got %v", labels[labelHandler], m.GetCounter().GetValue())
				}
				found++
			}
		}
	}
	if found != len(want) {
		t.Errorf("want %d labelled series, found %d", len(want), found)
	}
}

func Test_Metrics_InFlightGaugeReturnsToZero(t *testing.T) {
	t.Parallel()
	s, reg := newTestServerWith(&fakeQuerier{}, "")
	defer s.stopRL()

	do(t, s, http.MethodGet, "/api/health", nil)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "corpus_http_in_flight_requests" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Errorf("want in_flight=0, got %v", v)
			}
			return
		}
	}
	t.Error("corpus_http_in_flight_requests not found in gathered metrics")
}
