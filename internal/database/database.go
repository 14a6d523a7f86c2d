package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// CameraRecord represents a configured camera and its last capture state
type CameraRecord struct {
	Name      string    `json:"name"`
	Device    string    `json:"device"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FPS       int       `json:"fps"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionRecord represents one viewer session
type SessionRecord struct {
	ID            string     `json:"id"`
	Camera        string     `json:"camera"`
	Transport     string     `json:"transport"`
	Remote        string     `json:"remote"`
	Started       time.Time  `json:"started"`
	Ended         *time.Time `json:"ended,omitempty"`
	FramesSent    int64      `json:"frames_sent"`
	FramesSkipped int64      `json:"frames_skipped"`
	BytesSent     int64      `json:"bytes_sent"`
	EndReason     string     `json:"end_reason,omitempty"`
}

// CaptureEventRecord represents a capture loop state change
type CaptureEventRecord struct {
	ID        int64     `json:"id"`
	Camera    string    `json:"camera"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			name TEXT PRIMARY KEY,
			device TEXT NOT NULL,
			width INTEGER,
			height INTEGER,
			fps INTEGER DEFAULT 30,
			status TEXT DEFAULT 'starting',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS stream_sessions (
			id TEXT PRIMARY KEY,
			camera TEXT NOT NULL,
			transport TEXT NOT NULL,
			remote TEXT,
			started DATETIME NOT NULL,
			ended DATETIME,
			frames_sent INTEGER DEFAULT 0,
			frames_skipped INTEGER DEFAULT 0,
			bytes_sent INTEGER DEFAULT 0,
			end_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS capture_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_camera_started ON stream_sessions(camera, started DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_capture_events_camera_time ON capture_events(camera, timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("[Database] Migrations completed successfully")
	return nil
}

// SaveCamera saves or updates a camera
func (d *Database) SaveCamera(cam *CameraRecord) error {
	query := `INSERT INTO cameras (name, device, width, height, fps, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			device = excluded.device,
			width = excluded.width,
			height = excluded.height,
			fps = excluded.fps,
			status = excluded.status,
			updated_at = excluded.updated_at`

	_, err := d.db.Exec(query, cam.Name, cam.Device, cam.Width, cam.Height, cam.FPS, cam.Status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by name
func (d *Database) GetCamera(name string) (*CameraRecord, error) {
	query := `SELECT name, device, width, height, fps, status, updated_at FROM cameras WHERE name = ?`

	var cam CameraRecord
	err := d.db.QueryRow(query, name).Scan(&cam.Name, &cam.Device, &cam.Width, &cam.Height, &cam.FPS, &cam.Status, &cam.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return &cam, nil
}

// UpdateCameraStatus updates only the status of a camera
func (d *Database) UpdateCameraStatus(name, status string) error {
	_, err := d.db.Exec("UPDATE cameras SET status = ?, updated_at = ? WHERE name = ?", status, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}
	return nil
}

// SaveSession inserts a session or updates its counters and end state
func (d *Database) SaveSession(s *SessionRecord) error {
	query := `INSERT INTO stream_sessions
		(id, camera, transport, remote, started, ended, frames_sent, frames_skipped, bytes_sent, end_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended = excluded.ended,
			frames_sent = excluded.frames_sent,
			frames_skipped = excluded.frames_skipped,
			bytes_sent = excluded.bytes_sent,
			end_reason = excluded.end_reason`

	var ended sql.NullTime
	if s.Ended != nil {
		ended = sql.NullTime{Time: s.Ended.UTC(), Valid: true}
	}

	_, err := d.db.Exec(query, s.ID, s.Camera, s.Transport, s.Remote, s.Started.UTC(), ended,
		s.FramesSent, s.FramesSkipped, s.BytesSent, s.EndReason)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first. An empty camera
// lists every camera.
func (d *Database) ListSessions(camera string, limit int) ([]*SessionRecord, error) {
	query := `SELECT id, camera, transport, remote, started, ended, frames_sent, frames_skipped, bytes_sent, end_reason
		FROM stream_sessions WHERE 1=1`
	args := []interface{}{}

	if camera != "" {
		query += " AND camera = ?"
		args = append(args, camera)
	}

	query += " ORDER BY started DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*SessionRecord{}
	for rows.Next() {
		var s SessionRecord
		var ended sql.NullTime
		var remote, reason sql.NullString
		if err := rows.Scan(&s.ID, &s.Camera, &s.Transport, &remote, &s.Started, &ended,
			&s.FramesSent, &s.FramesSkipped, &s.BytesSent, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			s.Ended = &t
		}
		s.Remote = remote.String
		s.EndReason = reason.String
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// DeleteOldSessions deletes sessions that started before the specified time
func (d *Database) DeleteOldSessions(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM stream_sessions WHERE started < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOldCaptureEvents deletes capture events recorded before the specified time
func (d *Database) DeleteOldCaptureEvents(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM capture_events WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old capture events: %w", err)
	}
	return result.RowsAffected()
}

// SaveCaptureEvent records a capture loop event
func (d *Database) SaveCaptureEvent(e *CaptureEventRecord) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	result, err := d.db.Exec("INSERT INTO capture_events (camera, kind, message, timestamp) VALUES (?, ?, ?, ?)",
		e.Camera, e.Kind, e.Message, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to save capture event: %w", err)
	}
	e.ID, _ = result.LastInsertId()
	return nil
}

// ListCaptureEvents returns the most recent capture events for a camera
func (d *Database) ListCaptureEvents(camera string, limit int) ([]*CaptureEventRecord, error) {
	query := `SELECT id, camera, kind, message, timestamp FROM capture_events WHERE camera = ? ORDER BY timestamp DESC, id DESC`
	args := []interface{}{camera}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture events: %w", err)
	}
	defer rows.Close()

	events := []*CaptureEventRecord{}
	for rows.Next() {
		var e CaptureEventRecord
		var msg sql.NullString
		if err := rows.Scan(&e.ID, &e.Camera, &e.Kind, &msg, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan capture event: %w", err)
		}
		e.Message = msg.String
		events = append(events, &e)
	}
	return events, rows.Err()
}
