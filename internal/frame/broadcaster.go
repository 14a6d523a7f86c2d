package frame

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned to waiters once the broadcaster has been shut down.
var ErrClosed = errors.New("frame broadcaster closed")

// Broadcaster is a single-slot, latest-wins frame store.
//
// Publish overwrites the slot and closes the current notification channel,
// which wakes every waiter at once. Waiters grab the channel and check the
// sequence under the same lock, so a publish that lands between two calls
// to WaitForNewer is always seen by the second call.
type Broadcaster struct {
	mu      sync.Mutex
	current *Frame
	seq     uint64
	notify  chan struct{}
	closed  bool
	done    chan struct{}

	waiters atomic.Int64
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		notify: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Publish replaces the current frame and wakes all waiting readers.
// The returned frame carries the newly assigned sequence number.
// Publishing after Close is a no-op and returns nil.
func (b *Broadcaster) Publish(data []byte, capturedAt time.Time) *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.seq++
	f := &Frame{
		Seq:        b.seq,
		Data:       data,
		CapturedAt: capturedAt,
	}
	b.current = f

	close(b.notify)
	b.notify = make(chan struct{})

	return f
}

// Snapshot returns the current frame, or nil before the first publish
func (b *Broadcaster) Snapshot() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Seq returns the sequence number of the most recent publish (0 before any)
func (b *Broadcaster) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Waiters returns the number of readers currently blocked in WaitForNewer
func (b *Broadcaster) Waiters() int {
	return int(b.waiters.Load())
}

// WaitForNewer blocks until a frame with Seq > lastSeq is available and
// returns it. It returns (nil, nil) when timeout elapses first, ErrClosed
// after Close, and ctx.Err() when the context ends. A timeout <= 0 waits
// until one of the other conditions fires.
//
// Slow callers skip generations: only the latest frame is ever returned.
func (b *Broadcaster) WaitForNewer(ctx context.Context, lastSeq uint64, timeout time.Duration) (*Frame, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	b.waiters.Add(1)
	defer b.waiters.Add(-1)

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		if b.current != nil && b.current.Seq > lastSeq {
			f := b.current
			b.mu.Unlock()
			return f, nil
		}
		wake := b.notify
		b.mu.Unlock()

		select {
		case <-wake:
		case <-b.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer:
			if f := b.newerThan(lastSeq); f != nil {
				return f, nil
			}
			return nil, nil
		}
	}
}

func (b *Broadcaster) newerThan(lastSeq uint64) *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.current == nil || b.current.Seq <= lastSeq {
		return nil
	}
	return b.current
}

// Close wakes every waiter and makes further publishes no-ops. Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Closed reports whether Close has been called
func (b *Broadcaster) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
