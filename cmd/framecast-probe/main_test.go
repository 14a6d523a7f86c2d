package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framecast/internal/camera/camtest"
	"framecast/internal/frame"
	"framecast/internal/stream"
)

func TestProbeCountsFrames(t *testing.T) {
	b := frame.NewBroadcaster()
	ts := httptest.NewServer(stream.NewMJPEGHandler("test", b, nil))
	defer ts.Close()
	defer b.Close()

	jpg := camtest.TestJPEG(8, 8)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if b.Publish(jpg, time.Now()) == nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	res, err := probe(ctx, http.DefaultClient, ts.URL, "", &out)
	require.NoError(t, err)
	assert.Greater(t, res.Frames, 5)
	assert.Equal(t, int64(res.Frames*len(jpg)), res.Bytes)
	assert.Greater(t, res.FPS(), 0.0)
}

func TestProbeRejectsMalformedStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream.SetStreamHeaders(w.Header())
		_, _ = w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 4\r\n\r\nnope\r\n"))
	}))
	defer ts.Close()

	_, err := probe(t.Context(), http.DefaultClient, ts.URL, "", &bytes.Buffer{})
	require.ErrorIs(t, err, stream.ErrNotJPEG)
}

func TestProbeReportsStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := probe(t.Context(), http.DefaultClient, ts.URL, "abc", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
