// Package camera turns a capture device into a paced stream of published
// JPEG frames.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

var (
	// ErrDeviceUnavailable means the device could not be opened within the retry budget
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrNoFrame is a transient, single-cycle capture failure
	ErrNoFrame = errors.New("no frame available")
	// ErrNotOpen is returned by Next when the source has not been opened
	ErrNotOpen = errors.New("source not open")
)

// Capture is one retrieval from a Source. Exactly one of JPEG or Image is set:
// sources that already produce encoded frames fill JPEG, the others return a
// raw image for the capture loop to encode.
type Capture struct {
	JPEG       []byte
	Image      image.Image
	CapturedAt time.Time
}

// Source wraps a capture device. Next returns the newest frame available,
// discarding anything captured since the previous call.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (*Capture, error)
	Close() error
}

// Config describes a single camera
type Config struct {
	Name    string
	Device  string
	Width   int
	Height  int
	FPS     int
	Quality int
}

// Interval returns the target time between captures
func (c Config) Interval() time.Duration {
	if c.FPS <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.FPS)
}

// NewSource picks a source implementation from the device string:
// "pattern" for a synthetic test card, an HTTP still-image URL for polling,
// anything else (V4L2 path, RTSP or HTTP video URL) through ffmpeg.
func NewSource(cfg Config) (Source, error) {
	device := strings.TrimSpace(cfg.Device)
	switch {
	case device == "":
		return nil, fmt.Errorf("camera %q: device is required", cfg.Name)
	case device == "pattern" || strings.HasPrefix(device, "pattern:"):
		return NewPatternSource(cfg), nil
	case isHTTPImageEndpoint(device):
		return NewHTTPSource(cfg), nil
	default:
		return NewFFmpegSource(cfg), nil
	}
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// isHTTPImageEndpoint checks if the device is an HTTP still-image endpoint
func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image") || strings.Contains(device, "snapshot"))
}
