package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultBuffer      = 256
	DefaultSinkTimeout = 5 * time.Second
)

// Broadcaster delivers events to every registered channel from a single
// goroutine. Publish never blocks; when the buffer is full the event is dropped.
type Broadcaster struct {
	channels    []Channel
	logger      *slog.Logger
	sinkTimeout time.Duration

	mu     sync.RWMutex
	events chan Event
	closed bool

	dropped atomic.Int64
	done    chan struct{}
}

// NewBroadcaster starts a broadcaster with the given buffer size.
func NewBroadcaster(buffer int, logger *slog.Logger, channels ...Channel) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		channels:    channels,
		logger:      logger,
		sinkTimeout: DefaultSinkTimeout,
		events:      make(chan Event, buffer),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues e for delivery.
func (b *Broadcaster) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.events <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits until the buffered ones are
// delivered or ctx expires.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for e := range b.events {
		for _, ch := range b.channels {
			ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
			if err := ch.Publish(ctx, e); err != nil {
				b.logger.Warn("event delivery failed", "event", e.Name, "job_id", e.JobID, "error", err)
			}
			cancel()
		}
	}
}

var _ Publisher = (*Broadcaster)(nil)
