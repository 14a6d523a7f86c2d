package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framecast/internal/camera"
	"framecast/internal/stream"
)

func TestCameraMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	c := m.Camera("front")

	c.FrameCaptured(20 * time.Millisecond)
	c.FrameCaptured(30 * time.Millisecond)
	c.CaptureFailed()
	c.StateChanged(camera.StateRunning)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesCaptured.WithLabelValues("front")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.captureFailures.WithLabelValues("front")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.captureUp.WithLabelValues("front")))

	c.StateChanged(camera.StateFailed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.captureUp.WithLabelValues("front")))
}

func TestSessionMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	c := m.Camera("front")
	info := stream.SessionInfo{ID: "a", Transport: stream.TransportMJPEG}

	c.SessionStarted(info)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions.WithLabelValues("front", "mjpeg")))

	c.FrameSent(info, 1000, 0)
	c.FrameSent(info, 500, 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesSent.WithLabelValues("front", "mjpeg")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.framesSkipped.WithLabelValues("front", "mjpeg")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.bytesSent.WithLabelValues("front", "mjpeg")))

	c.SessionEnded(info)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeSessions.WithLabelValues("front", "mjpeg")))
}

func TestInstrumentHandlerAndExport(t *testing.T) {
	m := New(prometheus.NewRegistry())
	h := m.InstrumentHandler("front", "frame", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("front", "frame", "503")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `framecast_http_requests_total{camera="front",code="503",handler="frame"} 1`))
}
