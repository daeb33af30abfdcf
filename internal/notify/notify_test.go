package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/streadway/amqp"

	"scenepipe/internal/media"
)

// recordingChannel collects delivered events.
type recordingChannel struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (r *recordingChannel) Publish(ctx context.Context, e Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingChannel) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBroadcaster_DeliversInOrderToAllChannels(t *testing.T) {
	a, b := &recordingChannel{}, &recordingChannel{err: errors.New("sink down")}
	bc := NewBroadcaster(10, nil, a, b)

	bc.Publish(Event{Name: EventJobStarted, JobID: "job-1"})
	bc.Publish(Event{Name: EventJobProgress, JobID: "job-1", Percent: 50})
	bc.Publish(Event{Name: EventJobCompleted, JobID: "job-1", Percent: 100})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bc.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, ch := range []*recordingChannel{a, b} {
		got := ch.received()
		if len(got) != 3 {
			t.Fatalf("expected 3 events per channel, got %d", len(got))
		}
		if got[0].Name != EventJobStarted || got[2].Name != EventJobCompleted {
			t.Errorf("events out of order: %+v", got)
		}
		if got[1].Timestamp.IsZero() {
			t.Error("Publish should stamp events without a timestamp")
		}
	}
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	sink := &recordingChannel{block: make(chan struct{})}
	bc := NewBroadcaster(1, nil, sink)

	// The first event is picked up and blocks the sink, the second fills the
	// buffer, the rest are dropped.
	for i := 0; i < 5; i++ {
		bc.Publish(Event{Name: EventJobProgress, JobID: "job-1"})
		time.Sleep(5 * time.Millisecond)
	}

	if bc.Dropped() < 3 {
		t.Errorf("Dropped = %d, want at least 3", bc.Dropped())
	}

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bc.Close(ctx)

	bc.Publish(Event{Name: EventJobProgress})
	if bc.Dropped() < 4 {
		t.Error("events published after Close must be dropped")
	}
}

func TestHub_TopicAndWildcard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub()
	go h.Run(ctx)

	jobCh := make(chan []byte, 4)
	allCh := make(chan []byte, 4)
	otherCh := make(chan []byte, 4)
	h.Subscribe(ctx, jobCh, "job-1")
	h.Subscribe(ctx, allCh, TopicAll)
	h.Subscribe(ctx, otherCh, "job-2")

	if err := h.Publish(ctx, Event{Name: EventJobProgress, JobID: "job-1", Percent: 25}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for name, ch := range map[string]chan []byte{"job": jobCh, "all": allCh} {
		select {
		case msg := <-ch:
			var e Event
			if err := json.Unmarshal(msg, &e); err != nil {
				t.Fatalf("%s: payload is not JSON: %v", name, err)
			}
			if e.JobID != "job-1" || e.Percent != 25 {
				t.Errorf("%s: unexpected event %+v", name, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber received nothing", name)
		}
	}

	select {
	case msg := <-otherCh:
		t.Errorf("subscriber of another job received %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub()
	go h.Run(ctx)

	ch := make(chan []byte) // never read
	h.Subscribe(ctx, ch, "job-1")
	h.PublishTopic(ctx, "job-1", []byte("x"))

	deadline := time.Now().Add(time.Second)
	for h.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", h.Dropped())
	}

	h.Unsubscribe(ctx, ch, "job-1")
}

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	if b, ok := message.([]byte); ok {
		f.payloads = append(f.payloads, b)
	}
	return redis.NewIntResult(1, f.err)
}

func TestRedisChannel_Publish(t *testing.T) {
	fake := &fakeRedis{}
	ch := NewRedisChannelWithClient(fake, "")

	err := ch.Publish(context.Background(), Event{Name: EventJobCompleted, JobID: "job-1", Stage: media.StageImages})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(fake.channels) != 2 || fake.channels[0] != "scenepipe:job-1" || fake.channels[1] != "scenepipe:all" {
		t.Errorf("unexpected channels %v", fake.channels)
	}

	var e Event
	if err := json.Unmarshal(fake.payloads[0], &e); err != nil || e.Name != EventJobCompleted {
		t.Errorf("unexpected payload %s (%v)", fake.payloads[0], err)
	}
}

func TestRedisChannel_PublishError(t *testing.T) {
	ch := NewRedisChannelWithClient(&fakeRedis{err: errors.New("connection reset")}, "events")
	if err := ch.Publish(context.Background(), Event{JobID: "job-1"}); err == nil {
		t.Error("expected error")
	}
}

type fakeAMQP struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (f *fakeAMQP) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func TestAMQPChannel_Publish(t *testing.T) {
	fake := &fakeAMQP{}
	ch := NewAMQPChannel(fake, "scenepipe.events")

	if err := ch.Publish(context.Background(), Event{Name: EventJobFailed, JobID: "job-1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if fake.exchange != "scenepipe.events" || fake.key != EventJobFailed {
		t.Errorf("published to %s/%s", fake.exchange, fake.key)
	}
	if fake.msg.ContentType != "application/json" || fake.msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected message properties %+v", fake.msg)
	}
}

func TestAMQPChannel_CancelledContext(t *testing.T) {
	fake := &fakeAMQP{}
	ch := NewAMQPChannel(fake, "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Publish(ctx, Event{Name: EventJobStarted}); err == nil {
		t.Error("expected context error")
	}
	if fake.key != "" {
		t.Error("nothing should be published on a cancelled context")
	}
}

func TestProgressEvent(t *testing.T) {
	now := time.Now()
	e := ProgressEvent("job-1", "proj-1", media.GenerationProgress{Stage: media.StageAudio, SceneID: "s1", Percent: 40, Timestamp: now, Message: "m"})
	if e.Name != EventJobProgress || e.ProjectID != "proj-1" || e.SceneID != "s1" || !e.Timestamp.Equal(now) {
		t.Errorf("unexpected event %+v", e)
	}
}
