package stream

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"framecast/internal/frame"
)

// Boundary separates parts of the multipart stream
const Boundary = "frame"

// WritePart writes one JPEG as a multipart/x-mixed-replace part
func WritePart(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// SetStreamHeaders sets the response headers for an MJPEG stream
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
}

// Availability reports whether the capture behind a handler can still
// produce frames. A nil Availability is always available.
type Availability func() bool

func (a Availability) ok() bool {
	return a == nil || a()
}

// MJPEGHandler serves the live multipart stream of one camera. Each request
// runs its own Session on the handler goroutine.
type MJPEGHandler struct {
	camera      string
	broadcaster *frame.Broadcaster
	observer    Observer
	wait        time.Duration
	available   Availability
}

// NewMJPEGHandler creates a stream handler. observer may be nil.
func NewMJPEGHandler(camera string, b *frame.Broadcaster, observer Observer) *MJPEGHandler {
	return &MJPEGHandler{camera: camera, broadcaster: b, observer: observer, wait: DefaultWaitTimeout}
}

// SetWaitTimeout overrides the per-wait timeout of new sessions
func (h *MJPEGHandler) SetWaitTimeout(d time.Duration) {
	h.wait = d
}

// SetAvailability makes new connections fail with 503 while fn reports false
func (h *MJPEGHandler) SetAvailability(fn Availability) {
	h.available = fn
}

// ServeHTTP serves the MJPEG stream to a client
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.available.ok() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sess := NewSession(h.camera, TransportMJPEG, r.RemoteAddr, h.broadcaster, h.observer)
	sess.SetWaitTimeout(h.wait)

	SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("[MJPEGStream] Client %s connected to camera %s (session %s)", r.RemoteAddr, h.camera, sess.ID())

	reason := sess.Run(r.Context(), func(f *frame.Frame) error {
		if err := WritePart(w, f.Data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	info := sess.Info()
	log.Printf("[MJPEGStream] Client %s disconnected from camera %s (%s): sent=%d skipped=%d",
		r.RemoteAddr, h.camera, reason, info.FramesSent, info.FramesSkipped)
}

// SnapshotHandler serves the most recent frame as a single JPEG
type SnapshotHandler struct {
	broadcaster *frame.Broadcaster
	available   Availability
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(b *frame.Broadcaster) *SnapshotHandler {
	return &SnapshotHandler{broadcaster: b}
}

// SetAvailability makes the handler answer 503 while fn reports false, even
// if an older frame is still held
func (h *SnapshotHandler) SetAvailability(fn Availability) {
	h.available = fn
}

// ServeHTTP serves a single JPEG snapshot, or 503 before the first capture
// and after the capture has failed
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f := h.broadcaster.Snapshot()
	if f == nil || !h.available.ok() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(f.Data)
	}
}
