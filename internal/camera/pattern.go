package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PatternSource renders a synthetic test card: colour bars, a sweeping
// marker and a label with the camera name, frame counter and wall clock.
// It needs no hardware and returns raw images for the loop to encode.
type PatternSource struct {
	name   string
	width  int
	height int

	mu    sync.Mutex
	open  bool
	count uint64
}

var patternBars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// NewPatternSource creates a test card source
func NewPatternSource(cfg Config) *PatternSource {
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 360
	}
	return &PatternSource{name: cfg.Name, width: w, height: h}
}

// Open always succeeds
func (s *PatternSource) Open(ctx context.Context) error {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return nil
}

// Next renders the next test card
func (s *PatternSource) Next(ctx context.Context) (*Capture, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	s.count++
	n := s.count
	s.mu.Unlock()

	now := time.Now()
	return &Capture{Image: s.render(n, now), CapturedAt: now}, nil
}

// Close marks the source closed
func (s *PatternSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}

func (s *PatternSource) render(n uint64, now time.Time) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))

	barWidth := s.width / len(patternBars)
	if barWidth == 0 {
		barWidth = 1
	}
	for i, c := range patternBars {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, s.height)
		draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	}

	// Sweeping marker makes dropped frames visible
	markerX := int(n % uint64(s.width))
	marker := image.Rect(markerX, s.height-12, markerX+8, s.height)
	draw.Draw(img, marker, image.NewUniform(color.White), image.Point{}, draw.Src)

	label := fmt.Sprintf("%s #%d %s", s.name, n, now.Format("15:04:05.000"))
	drawLabel(img, 8, 8, label)
	return img
}

// drawLabel draws text on a dark background box
func drawLabel(img *image.RGBA, x, y int, label string) {
	bg := image.Rect(x-2, y-2, x+len(label)*7+2, y+14)
	draw.Draw(img, bg, image.NewUniform(color.RGBA{0, 0, 0, 200}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
