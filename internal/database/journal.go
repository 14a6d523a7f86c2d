package database

import (
	"log"
	"sync"
	"time"

	"framecast/internal/camera"
	"framecast/internal/stream"
)

const journalQueueSize = 256

// sweepInterval is how often the journal prunes rows past retention
const sweepInterval = time.Hour

// Journal records session and capture lifecycle events off the request
// path. Writes are queued to a single writer goroutine; when the queue is
// full the event is dropped and logged, and write errors never reach the
// viewer. With a positive retention the writer also deletes sessions and
// capture events older than that, once at start and then every
// sweepInterval.
type Journal struct {
	db        *Database
	retention time.Duration
	queue     chan func(*Database) error
	done      chan struct{}
	closed    bool
	mu        sync.RWMutex
}

// NewJournal starts the writer goroutine
func NewJournal(db *Database, retention time.Duration) *Journal {
	j := &Journal{
		db:        db,
		retention: retention,
		queue:     make(chan func(*Database) error, journalQueueSize),
		done:      make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) run() {
	defer close(j.done)

	var sweep <-chan time.Time
	if j.retention > 0 {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
		j.sweep(time.Now())
	}

	for {
		select {
		case write, ok := <-j.queue:
			if !ok {
				return
			}
			if err := write(j.db); err != nil {
				log.Printf("[Journal] Write failed: %v", err)
			}
		case now := <-sweep:
			j.sweep(now)
		}
	}
}

func (j *Journal) sweep(now time.Time) {
	before := now.Add(-j.retention)
	sessions, err := j.db.DeleteOldSessions(before)
	if err != nil {
		log.Printf("[Journal] Retention sweep failed: %v", err)
		return
	}
	events, err := j.db.DeleteOldCaptureEvents(before)
	if err != nil {
		log.Printf("[Journal] Retention sweep failed: %v", err)
		return
	}
	if sessions > 0 || events > 0 {
		log.Printf("[Journal] Pruned %d sessions and %d capture events older than %s", sessions, events, j.retention)
	}
}

func (j *Journal) enqueue(write func(*Database) error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- write:
	default:
		log.Printf("[Journal] Queue full, dropping event")
	}
}

// Close flushes queued writes and stops the writer. It does not close the
// database.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done
}

// Camera returns the journal view for one camera
func (j *Journal) Camera(cfg camera.Config) *CameraJournal {
	cj := &CameraJournal{j: j, name: cfg.Name}
	j.enqueue(func(db *Database) error {
		return db.SaveCamera(&CameraRecord{
			Name:   cfg.Name,
			Device: cfg.Device,
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
			Status: camera.StateStarting.String(),
		})
	})
	return cj
}

// CameraJournal implements stream.Observer for one camera and records
// capture state changes
type CameraJournal struct {
	j    *Journal
	name string
}

var _ stream.Observer = (*CameraJournal)(nil)

func (c *CameraJournal) SessionStarted(info stream.SessionInfo) {
	rec := sessionRecord(info)
	c.j.enqueue(func(db *Database) error { return db.SaveSession(rec) })
}

// FrameSent is not journaled
func (c *CameraJournal) FrameSent(info stream.SessionInfo, size int, skipped uint64) {}

func (c *CameraJournal) SessionEnded(info stream.SessionInfo) {
	rec := sessionRecord(info)
	c.j.enqueue(func(db *Database) error { return db.SaveSession(rec) })
}

// StateChanged records a capture loop transition
func (c *CameraJournal) StateChanged(s camera.State) {
	name := c.name
	c.j.enqueue(func(db *Database) error {
		if err := db.UpdateCameraStatus(name, s.String()); err != nil {
			return err
		}
		return db.SaveCaptureEvent(&CaptureEventRecord{Camera: name, Kind: s.String(), Timestamp: time.Now()})
	})
}

func sessionRecord(info stream.SessionInfo) *SessionRecord {
	rec := &SessionRecord{
		ID:            info.ID,
		Camera:        info.Camera,
		Transport:     info.Transport,
		Remote:        info.Remote,
		Started:       info.Started,
		FramesSent:    int64(info.FramesSent),
		FramesSkipped: int64(info.FramesSkipped),
		BytesSent:     int64(info.BytesSent),
		EndReason:     info.EndReason,
	}
	if !info.Ended.IsZero() {
		ended := info.Ended
		rec.Ended = &ended
	}
	return rec
}
