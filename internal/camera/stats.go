package camera

import (
	"sync"
	"time"
)

// fpsWindow is the number of recent captures used to estimate the frame rate
const fpsWindow = 30

// State is the capture loop lifecycle state
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats contains capture statistics for one camera
type Stats struct {
	Camera          string
	State           string
	FramesCaptured  uint64
	CaptureFailures uint64
	Reopens         uint64
	LastFrameTime   time.Time
	CurrentFPS      float64
	AvgCycle        time.Duration
}

// Observer receives capture loop events (metrics exporters)
type Observer interface {
	FrameCaptured(cycle time.Duration)
	CaptureFailed()
}

type statsRecorder struct {
	mu         sync.Mutex
	stats      Stats
	times      [fpsWindow]time.Time
	next       int
	filled     int
	cycleTotal time.Duration
}

func (r *statsRecorder) frame(at time.Time, cycle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.FramesCaptured++
	r.stats.LastFrameTime = at
	r.cycleTotal += cycle

	r.times[r.next] = at
	r.next = (r.next + 1) % fpsWindow
	if r.filled < fpsWindow {
		r.filled++
	}
}

func (r *statsRecorder) failure() {
	r.mu.Lock()
	r.stats.CaptureFailures++
	r.mu.Unlock()
}

func (r *statsRecorder) reopen() {
	r.mu.Lock()
	r.stats.Reopens++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	if s.FramesCaptured > 0 {
		s.AvgCycle = r.cycleTotal / time.Duration(s.FramesCaptured)
	}
	if r.filled >= 2 {
		newest := r.times[(r.next-1+fpsWindow)%fpsWindow]
		oldest := r.times[(r.next-r.filled+fpsWindow)%fpsWindow]
		if span := newest.Sub(oldest); span > 0 {
			s.CurrentFPS = float64(r.filled-1) / span.Seconds()
		}
	}
	return s
}
