// Package events fans pipeline progress out to live stream subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/accent-engine/internal/metrics"
	"github.com/snarg/accent-engine/internal/pipeline"
)

// Envelope is one published event as seen by stream subscribers.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	AnalysisID string          `json:"analysis_id"`
	Timestamp  string          `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	Types    []string // stage names, e.g. "classified"
	Analyses []string
}

// Bus provides pub-sub distribution of pipeline events. It keeps a ring
// buffer so reconnecting clients can replay what they missed.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Envelope
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Envelope
	filter Filter
}

// NewBus creates a bus with the given ring buffer size (minimum 1).
func NewBus(ringSize int) *Bus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Envelope, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (b *Bus) Subscribe(filter Filter) (<-chan Envelope, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Envelope, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events published after lastEventID, oldest
// first. An empty or evicted lastEventID replays the whole buffer.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Envelope {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	found := lastEventID == "" || !b.inRing(lastEventID)
	var out []Envelope
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (b *Bus) inRing(id string) bool {
	for _, e := range b.ring {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Emit publishes a pipeline event. It lets the bus act as a pipeline.Sink.
func (b *Bus) Emit(e pipeline.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	env := Envelope{
		ID:         fmt.Sprintf("%d-%d", time.Now().UnixMilli(), b.seq.Add(1)),
		Type:       string(e.Stage),
		AnalysisID: e.AnalysisID,
		Timestamp:  ts.Format(time.RFC3339),
		Data:       data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = env
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()
	metrics.EventsPublishedTotal.Inc()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.filter.matches(env) {
			select {
			case sub.ch <- env:
			default:
				// Drop if subscriber is slow
			}
		}
	}
	b.mu.RUnlock()
}

func (f Filter) matches(e Envelope) bool {
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if len(f.Analyses) > 0 && !contains(f.Analyses, e.AnalysisID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.TrimSpace(s) == v {
			return true
		}
	}
	return false
}
