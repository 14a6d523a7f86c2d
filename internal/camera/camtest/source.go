// Package camtest provides a scriptable camera.Source for tests.
package camtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"framecast/internal/camera"
)

// Source is an in-memory camera.Source. Each Next returns a small valid JPEG
// unless a failure is scripted.
type Source struct {
	// OpenFailures makes the first N Open calls fail
	OpenFailures int
	// FailEvery makes every Nth Next call fail with camera.ErrNoFrame (0 disables)
	FailEvery int
	// Delay is added to every Next call to simulate capture/encode time
	Delay time.Duration
	// Raw makes Next return an image instead of JPEG bytes
	Raw bool
	// DieAfter makes every Next and every later Open fail once this many
	// frames were delivered (0 disables)
	DieAfter int

	mu        sync.Mutex
	opened    bool
	delivered int

	OpenCalls  atomic.Int32
	NextCalls  atomic.Int32
	CloseCalls atomic.Int32

	jpeg []byte
}

// NewSource creates a fake source with a 16x16 test JPEG payload
func NewSource() *Source {
	return &Source{jpeg: TestJPEG(16, 16)}
}

// Open implements camera.Source
func (s *Source) Open(ctx context.Context) error {
	n := int(s.OpenCalls.Add(1))
	if n <= s.OpenFailures {
		return fmt.Errorf("fake open failure %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead() {
		return errors.New("fake device gone")
	}
	s.opened = true
	return nil
}

// Next implements camera.Source
func (s *Source) Next(ctx context.Context) (*camera.Capture, error) {
	n := int(s.NextCalls.Add(1))

	s.mu.Lock()
	opened, dead := s.opened, s.dead()
	s.mu.Unlock()
	if !opened {
		return nil, camera.ErrNotOpen
	}
	if dead {
		return nil, camera.ErrNoFrame
	}

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.FailEvery > 0 && n%s.FailEvery == 0 {
		return nil, camera.ErrNoFrame
	}
	s.mu.Lock()
	s.delivered++
	s.mu.Unlock()
	if s.Raw {
		return &camera.Capture{Image: testImage(32, 24), CapturedAt: time.Now()}, nil
	}
	return &camera.Capture{JPEG: s.jpeg, CapturedAt: time.Now()}, nil
}

func (s *Source) dead() bool {
	return s.DieAfter > 0 && s.delivered >= s.DieAfter
}

// Close implements camera.Source
func (s *Source) Close() error {
	s.CloseCalls.Add(1)
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return nil
}

// BrokenSource never opens
type BrokenSource struct {
	OpenCalls  atomic.Int32
	CloseCalls atomic.Int32
}

// Open implements camera.Source
func (s *BrokenSource) Open(ctx context.Context) error {
	s.OpenCalls.Add(1)
	return errors.New("no such device")
}

// Next implements camera.Source
func (s *BrokenSource) Next(ctx context.Context) (*camera.Capture, error) {
	return nil, camera.ErrNotOpen
}

// Close implements camera.Source
func (s *BrokenSource) Close() error {
	s.CloseCalls.Add(1)
	return nil
}

// TestJPEG encodes a solid grey image of the given size
func TestJPEG(w, h int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 50}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func testImage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 4)})
		}
	}
	return img
}
