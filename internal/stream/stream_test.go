package stream_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framecast/internal/camera/camtest"
	"framecast/internal/frame"
	"framecast/internal/stream"
)

// publishEvery publishes a test JPEG on b until the returned stop func is called
func publishEvery(b *frame.Broadcaster, d time.Duration) (stop func()) {
	data := camtest.TestJPEG(8, 8)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				b.Publish(data, time.Now())
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	started []stream.SessionInfo
	ended   []stream.SessionInfo
	sent    int
	skipped uint64
}

func (o *recordingObserver) SessionStarted(info stream.SessionInfo) {
	o.mu.Lock()
	o.started = append(o.started, info)
	o.mu.Unlock()
}

func (o *recordingObserver) FrameSent(info stream.SessionInfo, size int, skipped uint64) {
	o.mu.Lock()
	o.sent++
	o.skipped += skipped
	o.mu.Unlock()
}

func (o *recordingObserver) SessionEnded(info stream.SessionInfo) {
	o.mu.Lock()
	o.ended = append(o.ended, info)
	o.mu.Unlock()
}

func (o *recordingObserver) endedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ended)
}

func TestWritePartAndPartReader(t *testing.T) {
	frames := [][]byte{camtest.TestJPEG(4, 4), camtest.TestJPEG(8, 8), camtest.TestJPEG(16, 2)}

	var buf bytes.Buffer
	for _, f := range frames {
		require.NoError(t, stream.WritePart(&buf, f))
	}
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: ")))

	pr := stream.NewPartReader(&buf, stream.Boundary)
	for _, want := range frames {
		part, err := pr.NextJPEG()
		require.NoError(t, err)
		assert.Equal(t, want, part.Data)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	}

	_, err := pr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPartReaderRejectsBadFraming(t *testing.T) {
	tests := map[string]string{
		"wrong boundary":   "--other\r\nContent-Type: image/jpeg\r\nContent-Length: 2\r\n\r\nab\r\n",
		"missing length":   "--frame\r\nContent-Type: image/jpeg\r\n\r\nab\r\n",
		"length too short": "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 1\r\n\r\nab\r\n",
		"truncated body":   "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 10\r\n\r\nab",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := stream.NewPartReader(bytes.NewBufferString(input), "frame").Next()
			assert.ErrorIs(t, err, stream.ErrMalformedPart)
		})
	}
}

func TestPartReaderRejectsNonJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, stream.WritePart(&buf, []byte("hello world")))

	_, err := stream.NewPartReader(&buf, "frame").NextJPEG()
	assert.ErrorIs(t, err, stream.ErrNotJPEG)
}

func TestBoundaryFromContentType(t *testing.T) {
	b, err := stream.BoundaryFromContentType("multipart/x-mixed-replace; boundary=frame")
	require.NoError(t, err)
	assert.Equal(t, "frame", b)

	b, err = stream.BoundaryFromContentType(`multipart/x-mixed-replace;boundary="abc"`)
	require.NoError(t, err)
	assert.Equal(t, "abc", b)

	_, err = stream.BoundaryFromContentType("image/jpeg")
	assert.ErrorIs(t, err, stream.ErrMalformedPart)
}

func TestSnapshotHandler(t *testing.T) {
	b := frame.NewBroadcaster()
	h := stream.NewSnapshotHandler(b)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	data := camtest.TestJPEG(8, 8)
	b.Publish(data, time.Now())
	b.Publish(data, time.Now())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "2", rec.Header().Get("X-Frame-Seq"))
	assert.Equal(t, data, rec.Body.Bytes())
}

func TestHandlersRejectWhenCaptureUnavailable(t *testing.T) {
	b := frame.NewBroadcaster()
	b.Publish(camtest.TestJPEG(8, 8), time.Now())

	var up atomic.Bool
	available := func() bool { return up.Load() }

	snap := stream.NewSnapshotHandler(b)
	snap.SetAvailability(available)
	mjpeg := stream.NewMJPEGHandler("cam", b, nil)
	mjpeg.SetAvailability(available)

	rec := httptest.NewRecorder()
	snap.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	mjpeg.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Type"))

	up.Store(true)
	rec = httptest.NewRecorder()
	snap.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionDeliversIncreasingSequence(t *testing.T) {
	b := frame.NewBroadcaster()
	stop := publishEvery(b, time.Millisecond)
	defer stop()

	obs := &recordingObserver{}
	sess := stream.NewSession("cam", stream.TransportMJPEG, "test", b, obs)
	assert.Equal(t, stream.SessionConnecting, sess.State())

	var seqs []uint64
	reason := sess.Run(context.Background(), func(f *frame.Frame) error {
		seqs = append(seqs, f.Seq)
		time.Sleep(5 * time.Millisecond) // slower than the publisher
		if len(seqs) == 20 {
			return errors.New("viewer went away")
		}
		return nil
	})

	assert.Equal(t, stream.EndWriteFailed, reason)
	assert.Equal(t, stream.SessionClosed, sess.State())
	// the failed send is not counted
	require.Len(t, seqs, 20)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1], "sequence must strictly increase")
	}

	info := sess.Info()
	assert.Equal(t, uint64(19), info.FramesSent)
	assert.Greater(t, info.FramesSkipped, uint64(0), "slow viewer should skip generations")
	assert.Equal(t, 1, obs.endedCount())
	assert.Equal(t, stream.EndWriteFailed, obs.ended[0].EndReason)
}

func TestSessionEndsOnBroadcasterClose(t *testing.T) {
	b := frame.NewBroadcaster()
	sess := stream.NewSession("cam", stream.TransportWS, "test", b, nil)

	done := make(chan string, 1)
	go func() {
		done <- sess.Run(context.Background(), func(*frame.Frame) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case reason := <-done:
		assert.Equal(t, stream.EndShutdown, reason)
	case <-time.After(time.Second):
		t.Fatal("session did not end after broadcaster close")
	}
}

func TestSessionEndsOnContextCancel(t *testing.T) {
	b := frame.NewBroadcaster()
	sess := stream.NewSession("cam", stream.TransportMJPEG, "test", b, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	reason := sess.Run(ctx, func(*frame.Frame) error { return nil })
	assert.Equal(t, stream.EndClientGone, reason)
	assert.Equal(t, stream.EndClientGone, sess.End(stream.EndShutdown), "first reason wins")
}

func openStream(t *testing.T, ctx context.Context, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestMJPEGHandlerStreamsParts(t *testing.T) {
	b := frame.NewBroadcaster()
	stop := publishEvery(b, 10*time.Millisecond)
	defer stop()

	srv := httptest.NewServer(stream.NewMJPEGHandler("cam", b, nil))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv.URL)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	boundary, err := stream.BoundaryFromContentType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)

	pr := stream.NewPartReader(resp.Body, boundary)
	for i := 0; i < 10; i++ {
		_, err := pr.NextJPEG()
		require.NoError(t, err)
	}
}

func TestMJPEGHandlerDisconnectLeavesOtherSessions(t *testing.T) {
	b := frame.NewBroadcaster()
	stop := publishEvery(b, 10*time.Millisecond)
	defer stop()

	tracker := stream.NewTracker()
	obs := &recordingObserver{}
	srv := httptest.NewServer(stream.NewMJPEGHandler("cam", b, stream.Observers{tracker, obs}))
	defer srv.Close()

	ctxA, cancelA := context.WithCancel(context.Background())
	respA := openStream(t, ctxA, srv.URL)
	defer respA.Body.Close()

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	respB := openStream(t, ctxB, srv.URL)
	defer respB.Body.Close()

	readerA := stream.NewPartReader(respA.Body, stream.Boundary)
	readerB := stream.NewPartReader(respB.Body, stream.Boundary)
	_, err := readerA.NextJPEG()
	require.NoError(t, err)
	_, err = readerB.NextJPEG()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tracker.Active(stream.TransportMJPEG) == 2 }, time.Second, 5*time.Millisecond)

	// Drop the first viewer
	cancelA()
	require.Eventually(t, func() bool { return tracker.Active(stream.TransportMJPEG) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, obs.endedCount())

	// The second keeps receiving
	for i := 0; i < 5; i++ {
		_, err := readerB.NextJPEG()
		require.NoError(t, err)
	}
	assert.Len(t, tracker.List(), 1)
}
