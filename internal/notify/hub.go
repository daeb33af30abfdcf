package notify

import (
	"context"
	"fmt"
	"sync/atomic"
)

// TopicAll receives every event regardless of job.
const TopicAll = "*"

// Hub manages topic-based subscribers for in-process streaming.
// All access to the topic table happens on the goroutine running Run.
type Hub struct {
	topics map[string]map[chan []byte]struct{}

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage

	dropped atomic.Int64
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

// NewHub creates a hub. Call Run before subscribing.
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]struct{}),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 100),
	}
}

// Run processes subscriptions and messages until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.subscribe:
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]struct{})
				h.topics[s.topic] = subs
			}
			subs[s.ch] = struct{}{}
		case s := <-h.unsubscribe:
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
		case tm := <-h.publish:
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
					// slow subscriber
					h.dropped.Add(1)
				}
			}
		}
	}
}

// Subscribe registers ch for topic. The caller owns ch and must unsubscribe
// before closing it.
func (h *Hub) Subscribe(ctx context.Context, ch chan []byte, topic string) error {
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe removes ch from topic.
func (h *Hub) Unsubscribe(ctx context.Context, ch chan []byte, topic string) {
	select {
	case h.unsubscribe <- subscription{ch: ch, topic: topic}:
	case <-ctx.Done():
	}
}

// PublishTopic hands msg to the subscribers of topic.
func (h *Hub) PublishTopic(ctx context.Context, topic string, msg []byte) error {
	select {
	case h.publish <- topicMessage{topic: topic, msg: msg}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub publish to %s: %w", topic, ctx.Err())
	}
}

// Publish implements Channel: the event goes to its job topic and to TopicAll.
func (h *Hub) Publish(ctx context.Context, e Event) error {
	payload, err := e.Payload()
	if err != nil {
		return err
	}
	if err := h.PublishTopic(ctx, e.JobID, payload); err != nil {
		return err
	}
	return h.PublishTopic(ctx, TopicAll, payload)
}

// Dropped returns how many messages slow subscribers missed.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

var _ Channel = (*Hub)(nil)
