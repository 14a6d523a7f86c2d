package services

import (
	"context"
	"errors"

	goa "goa.design/goa/v3/pkg"

	"framecast/internal/database"
	"framecast/internal/stream"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 1000
)

// SessionsResult is the /sessions response
type SessionsResult struct {
	Camera  string                         `json:"camera"`
	Record  *database.CameraRecord         `json:"record,omitempty"`
	Active  []stream.SessionInfo           `json:"active"`
	History []*database.SessionRecord      `json:"history"`
	Events  []*database.CaptureEventRecord `json:"events"`
}

var errJournalDisabled = goa.NewServiceError(errors.New("session journal is disabled"), "not_found", false, false, false)

// Sessions lists live sessions, the most recent journal entries and the
// camera's capture events
func (s *CameraService) Sessions(ctx context.Context, limit int) (*SessionsResult, error) {
	if s.db == nil {
		return nil, errJournalDisabled
	}
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	if limit > maxSessionLimit {
		return nil, goa.InvalidRangeError("limit", limit, maxSessionLimit, false)
	}

	history, err := s.db.ListSessions(s.cfg.Name, limit)
	if err != nil {
		return nil, err
	}
	events, err := s.db.ListCaptureEvents(s.cfg.Name, limit)
	if err != nil {
		return nil, err
	}
	// nil until the journal has written the camera row
	record, err := s.db.GetCamera(s.cfg.Name)
	if err != nil {
		return nil, err
	}

	return &SessionsResult{
		Camera:  s.cfg.Name,
		Record:  record,
		Active:  s.tracker.List(),
		History: history,
		Events:  events,
	}, nil
}
