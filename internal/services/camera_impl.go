package services

import (
	"context"
	"errors"
	"log"
	"time"

	"framecast/internal/auth"
	"framecast/internal/camera"
	"framecast/internal/database"
	"framecast/internal/frame"
	"framecast/internal/metrics"
	"framecast/internal/stream"
	"framecast/internal/ws"
)

// Options wires the optional parts of a camera service. Zero values disable
// the corresponding feature.
type Options struct {
	Metrics  *metrics.Metrics
	Journal  *database.Journal
	Database *database.Database
	Auth     *auth.Authenticator
	Loop     camera.LoopOptions
	// WaitTimeout bounds each viewer wait; defaults to stream.DefaultWaitTimeout
	WaitTimeout time.Duration
}

// CameraService distributes one camera to any number of viewers. The
// capture loop is the only writer to the broadcaster; every viewer session
// reads the newest frame from it independently.
type CameraService struct {
	cfg         camera.Config
	broadcaster *frame.Broadcaster
	loop        *camera.Loop
	tracker     *stream.Tracker
	observers   stream.Observers

	metrics *metrics.Metrics
	db      *database.Database
	auth    *auth.Authenticator
	wait    time.Duration

	startTime time.Time
}

// NewCameraService creates the service for a camera. Run starts capturing.
func NewCameraService(cfg camera.Config, source camera.Source, opts Options) *CameraService {
	b := frame.NewBroadcaster()
	s := &CameraService{
		cfg:         cfg,
		broadcaster: b,
		loop:        camera.NewLoop(cfg, source, b, opts.Loop),
		tracker:     stream.NewTracker(),
		metrics:     opts.Metrics,
		db:          opts.Database,
		auth:        opts.Auth,
		wait:        opts.WaitTimeout,
		startTime:   time.Now(),
	}
	if s.wait <= 0 {
		s.wait = stream.DefaultWaitTimeout
	}

	s.observers = stream.Observers{s.tracker}
	if opts.Metrics != nil {
		cm := opts.Metrics.Camera(cfg.Name)
		s.loop.SetObserver(cm)
		s.loop.OnStateChange(cm.StateChanged)
		s.observers = append(s.observers, cm)
	}
	if opts.Journal != nil {
		cj := opts.Journal.Camera(cfg)
		s.loop.OnStateChange(cj.StateChanged)
		s.observers = append(s.observers, cj)
	}

	return s
}

// Name returns the camera name
func (s *CameraService) Name() string {
	return s.cfg.Name
}

// Broadcaster returns the frame slot viewers read from
func (s *CameraService) Broadcaster() *frame.Broadcaster {
	return s.broadcaster
}

// Tracker returns the live session set
func (s *CameraService) Tracker() *stream.Tracker {
	return s.tracker
}

// CaptureState returns the capture loop state
func (s *CameraService) CaptureState() camera.State {
	return s.loop.State()
}

// OnStateChange registers a capture state listener. Must be called before Run.
func (s *CameraService) OnStateChange(fn func(camera.State)) {
	s.loop.OnStateChange(fn)
}

// Run captures until ctx ends. A device that never opens is reported but
// does not stop the service: viewers keep getting "no frame yet".
func (s *CameraService) Run(ctx context.Context) error {
	log.Printf("[CameraService] Starting camera %s (device: %s, %dx%d @ %d fps, quality %d)",
		s.cfg.Name, s.cfg.Device, s.cfg.Width, s.cfg.Height, s.cfg.FPS, s.cfg.Quality)

	err := s.loop.Run(ctx)
	if errors.Is(err, camera.ErrDeviceUnavailable) {
		log.Printf("[CameraService] Camera %s is unavailable, serving without frames", s.cfg.Name)
	}
	return err
}

// Close stops capturing, releases the device and ends every viewer session
func (s *CameraService) Close() error {
	err := s.loop.Close()
	s.broadcaster.Close()
	return err
}

// available reports false once the capture loop has given up on the device
func (s *CameraService) available() bool {
	return s.loop.State() != camera.StateFailed
}

func (s *CameraService) snapshotHandler() *stream.SnapshotHandler {
	h := stream.NewSnapshotHandler(s.broadcaster)
	h.SetAvailability(s.available)
	return h
}

func (s *CameraService) wsHandler() *ws.Handler {
	h := ws.NewHandler(s.cfg.Name, s.broadcaster, s.observers)
	h.SetWaitTimeout(s.wait)
	h.SetAvailability(s.available)
	return h
}

func (s *CameraService) mjpegHandler() *stream.MJPEGHandler {
	h := stream.NewMJPEGHandler(s.cfg.Name, s.broadcaster, s.observers)
	h.SetWaitTimeout(s.wait)
	h.SetAvailability(s.available)
	return h
}
