package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"framecast/internal/frame"
	"framecast/internal/stream"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	controlWait    = 10 * time.Second
	frameWriteWait = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 256 * 1024, // 256KB for video frames
	CheckOrigin: func(r *http.Request) bool {
		// Same permissive policy as the CORS headers on the HTTP routes
		return true
	},
}

// Handler streams one camera's frames to WebSocket viewers as binary
// messages
type Handler struct {
	camera      string
	broadcaster *frame.Broadcaster
	observer    stream.Observer
	wait        time.Duration
	available   stream.Availability
}

// NewHandler creates a new WebSocket handler. observer may be nil.
func NewHandler(camera string, b *frame.Broadcaster, observer stream.Observer) *Handler {
	return &Handler{camera: camera, broadcaster: b, observer: observer, wait: stream.DefaultWaitTimeout}
}

// SetWaitTimeout overrides the per-wait timeout of new sessions
func (h *Handler) SetWaitTimeout(d time.Duration) {
	h.wait = d
}

// SetAvailability rejects new connections with 503 while fn reports false
func (h *Handler) SetAvailability(fn stream.Availability) {
	h.available = fn
}

// ServeHTTP upgrades the connection and runs a viewer session on it
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.available != nil && !h.available() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[WS] New connection for camera %s from %s", h.camera, r.RemoteAddr)

	// The upgraded connection outlives r's context, so disconnects are
	// detected by the read pump instead
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readPump(conn, cancel)
	go h.pingLoop(ctx, conn)

	sess := stream.NewSession(h.camera, stream.TransportWS, r.RemoteAddr, h.broadcaster, h.observer)
	sess.SetWaitTimeout(h.wait)
	reason := sess.Run(ctx, func(f *frame.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(frameWriteWait))
		return conn.WriteMessage(websocket.BinaryMessage, EncodeFrame(f.Seq, f.Data))
	})

	if reason == stream.EndShutdown {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(controlWait))
	}

	info := sess.Info()
	log.Printf("[WS] Connection closed for camera %s from %s (%s): sent=%d skipped=%d",
		h.camera, r.RemoteAddr, reason, info.FramesSent, info.FramesSkipped)
}

// readPump reads messages from the WebSocket connection
// This keeps the connection alive and handles client disconnection
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512) // Small limit since client shouldn't send much
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Read loop - mainly to detect disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error for camera %s: %v", h.camera, err)
			}
			return
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				return
			}
		}
	}
}
