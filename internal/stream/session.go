package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"framecast/internal/frame"
)

// DefaultWaitTimeout bounds a single wait for a newer frame; on expiry the
// session re-checks its context and waits again.
const DefaultWaitTimeout = 100 * time.Millisecond

// Transport names used in metrics, the journal and status
const (
	TransportMJPEG = "mjpeg"
	TransportWS    = "ws"
)

// End reasons recorded when a session closes
const (
	EndClientGone  = "client_gone"
	EndWriteFailed = "write_failed"
	EndShutdown    = "shutdown"
)

// SessionState is the viewer session lifecycle state
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionStreaming
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionStreaming:
		return "streaming"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo describes a viewer session
type SessionInfo struct {
	ID            string    `json:"id"`
	Camera        string    `json:"camera"`
	Transport     string    `json:"transport"`
	Remote        string    `json:"remote"`
	Started       time.Time `json:"started"`
	Ended         time.Time `json:"ended,omitempty"`
	FramesSent    uint64    `json:"frames_sent"`
	FramesSkipped uint64    `json:"frames_skipped"`
	BytesSent     uint64    `json:"bytes_sent"`
	EndReason     string    `json:"end_reason,omitempty"`
}

// Observer receives session events. FrameSent runs on the session's
// goroutine for every delivered frame and must not block.
type Observer interface {
	SessionStarted(info SessionInfo)
	FrameSent(info SessionInfo, size int, skipped uint64)
	SessionEnded(info SessionInfo)
}

// Observers fans events out to several observers
type Observers []Observer

func (o Observers) SessionStarted(info SessionInfo) {
	for _, ob := range o {
		ob.SessionStarted(info)
	}
}

func (o Observers) FrameSent(info SessionInfo, size int, skipped uint64) {
	for _, ob := range o {
		ob.FrameSent(info, size, skipped)
	}
}

func (o Observers) SessionEnded(info SessionInfo) {
	for _, ob := range o {
		ob.SessionEnded(info)
	}
}

// SendFunc delivers one frame to the viewer
type SendFunc func(f *frame.Frame) error

// Session pulls frames from a broadcaster for one viewer. Frames are
// delivered in strictly increasing sequence order; generations published
// while the viewer was busy are skipped, never queued.
type Session struct {
	info     SessionInfo
	b        *frame.Broadcaster
	wait     time.Duration
	observer Observer

	state   atomic.Int32
	lastSeq uint64

	mu      sync.Mutex
	endOnce sync.Once
}

// NewSession creates a session in the connecting state
func NewSession(camera, transport, remote string, b *frame.Broadcaster, observer Observer) *Session {
	return &Session{
		info: SessionInfo{
			ID:        uuid.New().String(),
			Camera:    camera,
			Transport: transport,
			Remote:    remote,
			Started:   time.Now(),
		},
		b:        b,
		wait:     DefaultWaitTimeout,
		observer: observer,
	}
}

// SetWaitTimeout overrides DefaultWaitTimeout
func (s *Session) SetWaitTimeout(d time.Duration) {
	if d > 0 {
		s.wait = d
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.info.ID
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Info returns a copy of the session counters
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Start moves the session to streaming once the transport has sent its
// preamble
func (s *Session) Start() {
	if !s.state.CompareAndSwap(int32(SessionConnecting), int32(SessionStreaming)) {
		return
	}
	if s.observer != nil {
		s.observer.SessionStarted(s.Info())
	}
}

// Run delivers frames through send until ctx ends, send fails or the
// broadcaster closes. It always leaves the session closed and returns the
// end reason.
func (s *Session) Run(ctx context.Context, send SendFunc) string {
	s.Start()

	for {
		f, err := s.b.WaitForNewer(ctx, s.lastSeq, s.wait)
		if err != nil {
			if errors.Is(err, frame.ErrClosed) {
				return s.End(EndShutdown)
			}
			return s.End(EndClientGone)
		}
		if f == nil {
			// Timed out; loop to re-check the context
			if ctx.Err() != nil {
				return s.End(EndClientGone)
			}
			continue
		}

		var skipped uint64
		if s.lastSeq > 0 {
			skipped = f.Seq - s.lastSeq - 1
		}

		if err := send(f); err != nil {
			if ctx.Err() != nil {
				return s.End(EndClientGone)
			}
			return s.End(EndWriteFailed)
		}
		s.lastSeq = f.Seq

		s.mu.Lock()
		s.info.FramesSent++
		s.info.FramesSkipped += skipped
		s.info.BytesSent += uint64(f.Len())
		info := s.info
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.FrameSent(info, f.Len(), skipped)
		}
	}
}

// End closes the session exactly once and reports it to the observer.
// Later calls return the first reason.
func (s *Session) End(reason string) string {
	s.endOnce.Do(func() {
		wasStreaming := s.State() == SessionStreaming
		s.state.Store(int32(SessionClosed))

		s.mu.Lock()
		s.info.Ended = time.Now()
		s.info.EndReason = reason
		info := s.info
		s.mu.Unlock()

		if s.observer != nil && wasStreaming {
			s.observer.SessionEnded(info)
		}
	})
	return s.Info().EndReason
}

