// Package cache memoizes provider results by a content-addressed key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"scenepipe/internal/media"
)

const (
	DefaultCapacity         = 1024
	DefaultSimilarityWindow = 64
)

// Options configures a Cache.
type Options struct {
	// Capacity is the maximum number of entries before LRU eviction.
	Capacity int
	// NearDuplicates reuses an entry whose prompt has the same words in the
	// same order, differing only in punctuation. Never applies to audio.
	NearDuplicates bool
	// SimilarityWindow is how many recent keys are scanned on an exact miss.
	SimilarityWindow int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Capacity:         DefaultCapacity,
		SimilarityWindow: DefaultSimilarityWindow,
	}
}

// Query identifies one generation request.
type Query struct {
	Stage  media.Stage
	Model  string
	Params string // canonical params, see media.Params
	Prompt string
}

// QueryFor builds the cache query of a request.
func QueryFor(req media.Request) Query {
	q := Query{Stage: req.Stage, Model: req.Model, Prompt: req.Prompt}
	if req.Params != nil {
		q.Params = req.Params.Canonical()
	}
	return q
}

// Key returns the content address of q.
func (q Query) Key() string {
	return Key(q.Stage, q.Model, q.Params, q.Prompt)
}

func (q Query) fingerprint() string {
	return string(q.Stage) + "\x00" + q.Model + "\x00" + q.Params
}

// Key hashes stage, model, canonical params and the normalized prompt.
func Key(stage media.Stage, model, canonicalParams, prompt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", stage, model, canonicalParams, NormalizePrompt(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizePrompt lower-cases the prompt and collapses whitespace.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}

// Payload is the reusable part of a provider result.
type Payload struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Entry is one cached result.
type Entry struct {
	Key       string    `json:"key"`
	Payload   Payload   `json:"payload"`
	Cost      float64   `json:"cost"`
	SavedCost float64   `json:"saved_cost"`
	Hits      int       `json:"hits"`
	LastUsed  time.Time `json:"last_used"`

	fingerprint string
	words       string
}

// Stats are process-wide cache counters.
type Stats struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Similar   int64   `json:"similar_hits"`
	Evictions int64   `json:"evictions"`
	SavedCost float64 `json:"saved_cost"`
}

// Cache is an LRU-bounded, concurrency-safe result cache.
type Cache struct {
	opts Options

	mu      sync.Mutex
	entries *simplelru.LRU[string, *Entry]
	stats   Stats

	flight singleflight.Group
	now    func() time.Time
}

// New creates a cache. Zero-valued options fall back to the defaults.
func New(opts Options) (*Cache, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.SimilarityWindow <= 0 {
		opts.SimilarityWindow = DefaultSimilarityWindow
	}

	entries, err := simplelru.NewLRU[string, *Entry](opts.Capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}

	return &Cache{
		opts:    opts,
		entries: entries,
		stats:   Stats{Capacity: opts.Capacity},
		now:     time.Now,
	}, nil
}

// Lookup returns the entry for q. On an exact miss it falls back to a
// near-duplicate prompt with the same stage, model and params when enabled.
func (c *Cache) Lookup(ctx context.Context, q Query) (Entry, bool) {
	key := q.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries.Get(key); ok {
		return c.hitLocked(e), true
	}
	if e := c.similarLocked(q); e != nil {
		c.stats.Similar++
		return c.hitLocked(e), true
	}
	c.stats.Misses++
	return Entry{}, false
}

// Get returns the entry stored under key without touching counters or recency.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(key)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Store records the result of q and returns the stored entry.
func (c *Cache) Store(ctx context.Context, q Query, payload Payload, cost float64) Entry {
	e := &Entry{
		Key:         q.Key(),
		Payload:     payload,
		Cost:        cost,
		LastUsed:    c.now(),
		fingerprint: q.fingerprint(),
		words:       wordSequence(q.Prompt),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries.Peek(e.Key); ok {
		e.Hits = prev.Hits
		e.SavedCost = prev.SavedCost
	}
	if evicted := c.entries.Add(e.Key, e); evicted {
		c.stats.Evictions++
	}
	return *e
}

// Resolve returns the cached entry for q, or calls generate and stores its result.
// Concurrent callers resolving the same key share one generate call. shared
// reports whether the result was reused rather than paid for by this caller;
// every reuse is counted as a hit.
func (c *Cache) Resolve(ctx context.Context, q Query, generate func(context.Context) (Payload, float64, error)) (entry Entry, shared bool, err error) {
	key := q.Key()
	leader, reused := false, false
	v, err, _ := c.flight.Do(key, func() (any, error) {
		leader = true
		// A previous flight may have stored the key after our caller missed.
		c.mu.Lock()
		if e, ok := c.entries.Get(key); ok {
			reused = true
			hit := c.hitLocked(e)
			c.mu.Unlock()
			return hit, nil
		}
		c.mu.Unlock()

		payload, cost, err := generate(ctx)
		if err != nil {
			return nil, err
		}
		return c.Store(ctx, q, payload, cost), nil
	})

	if err != nil {
		if leader {
			return Entry{}, false, err
		}
		// The leader's failure is its own; try independently.
		payload, cost, err := generate(ctx)
		if err != nil {
			return Entry{}, false, err
		}
		return c.Store(ctx, q, payload, cost), false, nil
	}

	e := v.(Entry)
	if leader {
		return e, reused, nil
	}
	c.mu.Lock()
	if stored, ok := c.entries.Peek(e.Key); ok {
		e = c.hitLocked(stored)
	} else {
		c.stats.Hits++
		c.stats.SavedCost += e.Cost
	}
	c.mu.Unlock()
	return e, true, nil
}

// Invalidate removes key. It reports whether an entry was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(key)
}

// Purge drops every entry. Counters are kept.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.entries.Len()
	return s
}

func (c *Cache) hitLocked(e *Entry) Entry {
	e.Hits++
	e.SavedCost += e.Cost
	e.LastUsed = c.now()
	c.stats.Hits++
	c.stats.SavedCost += e.Cost
	return *e
}

// similarLocked scans the most recently used keys for an entry of the same
// stage, model and params whose prompt differs only in punctuation.
// Narration punctuation shapes the spoken result, so audio never matches.
func (c *Cache) similarLocked(q Query) *Entry {
	if !c.opts.NearDuplicates || q.Stage == media.StageAudio {
		return nil
	}
	words := wordSequence(q.Prompt)
	if words == "" {
		return nil
	}
	fp := q.fingerprint()

	keys := c.entries.Keys() // oldest first
	for i, n := len(keys)-1, 0; i >= 0 && n < c.opts.SimilarityWindow; i, n = i-1, n+1 {
		e, ok := c.entries.Peek(keys[i])
		if !ok || e.fingerprint != fp || e.words != words {
			continue
		}
		c.entries.Get(e.Key)
		return e
	}
	return nil
}

// wordSequence reduces a prompt to its lower-cased words in order, with
// punctuation dropped. Apostrophes inside words are kept ("don't" ≠ "dont").
func wordSequence(prompt string) string {
	fields := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for i, f := range fields {
		fields[i] = strings.Trim(f, "'")
	}
	return strings.Join(fields, " ")
}
