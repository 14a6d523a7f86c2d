package camera

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// FFmpegSource captures MJPEG frames through an ffmpeg child process.
// A reader goroutine keeps only the newest complete JPEG; Next hands out a
// frame at most once, so anything that arrived in between is dropped.
type FFmpegSource struct {
	name    string
	device  string
	width   int
	height  int
	fps     int
	quality int

	// FFmpegPath defaults to "ffmpeg" from PATH
	FFmpegPath string

	mu        sync.Mutex
	cmd       *exec.Cmd
	exited    chan struct{}
	exitErr   error
	latest    []byte
	latestAt  time.Time
	latestSeq uint64
	handedSeq uint64
	ready     chan struct{}
}

// NewFFmpegSource creates an ffmpeg-backed source for a V4L2 device or an
// RTSP/HTTP video URL
func NewFFmpegSource(cfg Config) *FFmpegSource {
	return &FFmpegSource{
		name:       cfg.Name,
		device:     cfg.Device,
		width:      cfg.Width,
		height:     cfg.Height,
		fps:        cfg.FPS,
		quality:    cfg.Quality,
		FFmpegPath: "ffmpeg",
		ready:      make(chan struct{}, 1),
	}
}

// Open starts the ffmpeg process. An already running process is replaced.
func (s *FFmpegSource) Open(ctx context.Context) error {
	if !deviceAccessible(s.device) {
		return fmt.Errorf("%w: %s is not accessible", ErrDeviceUnavailable, s.device)
	}

	s.Close()

	cmd := exec.Command(s.FFmpegPath, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("error creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("error starting ffmpeg: %w", err)
	}

	// Progress lines end in \r, so drain raw bytes rather than lines
	go func() {
		_, _ = io.Copy(io.Discard, stderr)
	}()

	exited := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.exitErr = nil
	s.latest = nil
	s.mu.Unlock()

	go s.readFrames(cmd, stdout, exited)

	log.Printf("[FFmpegSource] Started capture for camera %s (device: %s, %dx%d@%d)", s.name, s.device, s.width, s.height, s.fps)
	return nil
}

// Next returns a frame newer than the previous one, waiting at most one
// frame interval for it.
func (s *FFmpegSource) Next(ctx context.Context) (*Capture, error) {
	wait := time.Second
	if s.fps > 0 {
		wait = time.Second / time.Duration(s.fps)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.cmd == nil {
			s.mu.Unlock()
			return nil, ErrNotOpen
		}
		if s.latestSeq > s.handedSeq && s.latest != nil {
			c := &Capture{JPEG: s.latest, CapturedAt: s.latestAt}
			s.handedSeq = s.latestSeq
			s.mu.Unlock()
			return c, nil
		}
		exited := s.exited
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-exited:
			s.mu.Lock()
			err := s.exitErr
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: ffmpeg exited: %v", ErrNoFrame, err)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrNoFrame
		}
	}
}

// Close kills the ffmpeg process. Safe to call when not open.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	cmd := s.cmd
	exited := s.exited
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-exited
	log.Printf("[FFmpegSource] Stopped capture for camera %s", s.name)
	return nil
}

func (s *FFmpegSource) readFrames(cmd *exec.Cmd, stdout io.Reader, exited chan struct{}) {
	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)

	var readErr error
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			frameBuffer = append(frameBuffer, chunk[:n]...)
			for {
				f := extractJPEGFrame(&frameBuffer)
				if f == nil {
					break
				}
				s.store(f)
			}
			if len(frameBuffer) > maxPendingBytes {
				frameBuffer = frameBuffer[:0]
			}
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	if readErr != nil {
		s.exitErr = readErr
	} else {
		s.exitErr = waitErr
	}
	s.mu.Unlock()
	close(exited)
}

func (s *FFmpegSource) store(data []byte) {
	s.mu.Lock()
	s.latest = data
	s.latestAt = time.Now()
	s.latestSeq++
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *FFmpegSource) args() []string {
	return append([]string{"-nostats", "-loglevel", "error"}, s.inputArgs()...)
}

func (s *FFmpegSource) inputArgs() []string {
	q := fmt.Sprintf("%d", ffmpegQScale(s.quality))

	if strings.HasPrefix(s.device, "rtsp://") || strings.HasPrefix(s.device, "http://") || strings.HasPrefix(s.device, "https://") {
		var args []string
		if strings.HasPrefix(s.device, "rtsp://") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		args = append(args,
			"-fflags", "nobuffer",
			"-i", s.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", s.fps),
			"-q:v", q,
		)
		if s.width > 0 && s.height > 0 {
			args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", s.width, s.height))
		}
		return append(args, "-")
	}

	// V4L2 device (USB camera)
	return []string{
		"-f", "v4l2",
		"-fflags", "nobuffer",
		"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
		"-framerate", fmt.Sprintf("%d", s.fps),
		"-i", s.device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", q,
		"-",
	}
}

// ffmpegQScale maps a 1-100 JPEG quality onto ffmpeg's 2-31 qscale (lower is better)
func ffmpegQScale(quality int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return 31 - (quality-1)*29/99
}

// deviceAccessible checks that a local device exists and can be read.
// Network sources are verified when ffmpeg connects.
func deviceAccessible(device string) bool {
	if isNetworkSource(device) {
		return true
	}

	if _, err := os.Stat(device); os.IsNotExist(err) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer file.Close()

	return true
}
