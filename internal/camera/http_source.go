package camera

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// maxSnapshotBytes bounds a single polled image
const maxSnapshotBytes = 16 << 20

// HTTPSource polls a still-image endpoint (IP camera snapshot URL). Every
// Next performs a fresh request, so the result is always the newest image.
type HTTPSource struct {
	name   string
	url    string
	client *http.Client

	mu   sync.Mutex
	open bool
}

// NewHTTPSource creates a polling source for cfg.Device
func NewHTTPSource(cfg Config) *HTTPSource {
	return &HTTPSource{
		name:   cfg.Name,
		url:    cfg.Device,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Open probes the endpoint once so that an unreachable camera counts
// against the open retry budget.
func (s *HTTPSource) Open(ctx context.Context) error {
	if _, err := s.fetch(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.mu.Lock()
	s.open = true
	s.mu.Unlock()

	log.Printf("[HTTPSource] Polling %s for camera %s", s.url, s.name)
	return nil
}

// Next fetches the current image from the endpoint
func (s *HTTPSource) Next(ctx context.Context) (*Capture, error) {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open {
		return nil, ErrNotOpen
	}

	data, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return &Capture{JPEG: data, CapturedAt: time.Now()}, nil
}

// Close marks the source closed and drops idle connections
func (s *HTTPSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching frame from %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading frame: %w", err)
	}
	if !IsJPEG(data) {
		return nil, fmt.Errorf("response from %s is not a JPEG image", s.url)
	}
	return data, nil
}
