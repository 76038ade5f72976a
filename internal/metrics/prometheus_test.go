package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordSessionCreated()
	m.RecordSessionEnded("client")
	m.SetTrackedSessions(3)
	m.RecordChunk("ok", 1, 100)
	m.RecordTranscription("demo", 0.5, true)
	m.RecordStoreError("append_result")
	m.RecordPublish(nil)
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RecordWSMessage("in", "audio_chunk")
	m.RecordHTTPRequest("GET", "/api/health/", "200", 0.01)
	m.RecordHTTPError("GET", "/api/health/", "storage")
}

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSessionCreated()
	m.RecordSessionCreated()
	m.RecordSessionEnded("idle")
	m.RecordChunk("silent", 0.5, 8000)
	m.RecordTranscription("demo", 0.2, true)
	m.RecordPublish(errors.New("broker down"))
	m.RecordPublish(nil)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"sessions created", testutil.ToFloat64(m.SessionsCreated), 2},
		{"sessions ended idle", testutil.ToFloat64(m.SessionsEnded.WithLabelValues("idle")), 1},
		{"chunks silent", testutil.ToFloat64(m.ChunksIngested.WithLabelValues("silent")), 1},
		{"transcription failures", testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues("demo")), 1},
		{"published", testutil.ToFloat64(m.EventsPublished), 1},
		{"publish failures", testutil.ToFloat64(m.PublishFailures), 1},
		{"connections", testutil.ToFloat64(m.ActiveConnections), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestHandlerExposesOwnRegistry(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordSessionCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "indicvoice_sessions_created_total 1") {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}
