package services

import (
	"context"
	"time"

	"framecast/internal/stream"
)

// ClientCounts is the number of connected viewers per transport
type ClientCounts struct {
	MJPEG int `json:"mjpeg"`
	WS    int `json:"ws"`
}

// SystemStatus is the /status response
type SystemStatus struct {
	Status          string       `json:"status"`
	Camera          string       `json:"camera"`
	Capture         string       `json:"capture"`
	FrameSeq        uint64       `json:"frame_seq"`
	FrameAgeMs      *int64       `json:"frame_age_ms"`
	Clients         ClientCounts `json:"clients"`
	FPS             float64      `json:"fps"`
	FramesCaptured  uint64       `json:"frames_captured"`
	CaptureFailures uint64       `json:"capture_failures"`
	Reopens         uint64       `json:"reopens"`
	UptimeSeconds   float64      `json:"uptime_seconds"`
}

// Status returns the service status. The process answering is "ok"; the
// capture field carries the loop state.
func (s *CameraService) Status(ctx context.Context) (*SystemStatus, error) {
	now := time.Now()
	stats := s.loop.Stats()

	status := &SystemStatus{
		Status:  "ok",
		Camera:  s.cfg.Name,
		Capture: stats.State,
		Clients: ClientCounts{
			MJPEG: s.tracker.Active(stream.TransportMJPEG),
			WS:    s.tracker.Active(stream.TransportWS),
		},
		FPS:             roundTo(stats.CurrentFPS, 2),
		FramesCaptured:  stats.FramesCaptured,
		CaptureFailures: stats.CaptureFailures,
		Reopens:         stats.Reopens,
		UptimeSeconds:   roundTo(now.Sub(s.startTime).Seconds(), 3),
	}

	if f := s.broadcaster.Snapshot(); f != nil {
		status.FrameSeq = f.Seq
		age := f.Age(now).Milliseconds()
		status.FrameAgeMs = &age
	}

	return status, nil
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}
