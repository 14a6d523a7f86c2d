// Package frame holds the latest-wins frame slot shared between the capture
// loop and every viewer session.
package frame

import "time"

// Frame is one encoded still image plus its position in the capture sequence.
// A Frame is never modified after it has been published.
type Frame struct {
	Seq        uint64
	Data       []byte
	CapturedAt time.Time
}

// Len returns the encoded payload size in bytes
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// Age returns how long ago the frame was captured
func (f *Frame) Age(now time.Time) time.Duration {
	if f == nil || f.CapturedAt.IsZero() {
		return 0
	}
	return now.Sub(f.CapturedAt)
}
