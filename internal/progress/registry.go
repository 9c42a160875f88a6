// Package progress fans out per-operation status events to any number
// of subscribers, typically SSE connections.
package progress

import (
	"strings"
	"sync"
	"time"
)

const (
	// CompletePrefix marks a successful terminal event.
	CompletePrefix = "complete:"
	// ErrorPrefix marks a failed terminal event.
	ErrorPrefix = "error:"

	// subscriberBuffer is the per-subscriber channel capacity. A
	// subscriber that falls further behind loses events rather than
	// blocking the publisher.
	subscriberBuffer = 64

	// DefaultTTL is how long an idle operation is retained.
	DefaultTTL = 10 * time.Minute
)

// IsTerminal reports whether msg ends an operation's stream.
func IsTerminal(msg string) bool {
	return strings.HasPrefix(msg, CompletePrefix) || strings.HasPrefix(msg, ErrorPrefix)
}

type operation struct {
	subscribers map[int]chan string
	nextSub     int
	history     []string
	done        bool
	lastActive  time.Time
}

// Registry tracks in-flight operations and their subscribers. All
// methods are safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	ops  map[string]*operation
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

// NewRegistry creates a registry whose idle operations are evicted
// after ttl. A non-positive ttl uses DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		ops:  make(map[string]*operation),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Register creates the operation's stream. Events published before any
// subscriber connects are kept and replayed on subscribe.
func (r *Registry) Register(opID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[opID]; exists {
		return
	}
	r.ops[opID] = &operation{
		subscribers: make(map[int]chan string),
		lastActive:  time.Now(),
	}
}

// Publish sends msg to all subscribers of opID. It never blocks: a
// subscriber with a full buffer misses the event. Terminal events
// close all subscriber channels. Publishing to an unknown or finished
// operation is a no-op.
func (r *Registry) Publish(opID, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, exists := r.ops[opID]
	if !exists || op.done {
		return
	}

	op.history = append(op.history, msg)
	op.lastActive = time.Now()

	for _, ch := range op.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}

	if IsTerminal(msg) {
		op.done = true
		for id, ch := range op.subscribers {
			close(ch)
			delete(op.subscribers, id)
		}
	}
}

// Subscribe attaches to an operation's stream. Prior events are
// replayed into the returned channel first. The cancel function
// detaches the subscriber; the channel is closed on terminal event or
// cancel. ok is false when the operation is unknown.
func (r *Registry) Subscribe(opID string) (events <-chan string, cancel func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, exists := r.ops[opID]
	if !exists {
		return nil, nil, false
	}

	ch := make(chan string, subscriberBuffer)
	for _, msg := range op.history {
		select {
		case ch <- msg:
		default:
		}
	}

	if op.done {
		close(ch)
		return ch, func() {}, true
	}

	id := op.nextSub
	op.nextSub++
	op.subscribers[id] = ch
	op.lastActive = time.Now()

	cancel = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if ch, live := op.subscribers[id]; live {
			close(ch)
			delete(op.subscribers, id)
		}
	}
	return ch, cancel, true
}

// Known reports whether the registry is tracking opID.
func (r *Registry) Known(opID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.ops[opID]
	return exists
}

// janitor evicts idle operations.
func (r *Registry) janitor() {
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.evictIdle(now)
		}
	}
}

func (r *Registry) evictIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for opID, op := range r.ops {
		if now.Sub(op.lastActive) < r.ttl {
			continue
		}
		for id, ch := range op.subscribers {
			close(ch)
			delete(op.subscribers, id)
		}
		delete(r.ops, opID)
	}
}

// Close stops the janitor and drops all operations.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.stop) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for opID, op := range r.ops {
		for id, ch := range op.subscribers {
			close(ch)
			delete(op.subscribers, id)
		}
		delete(r.ops, opID)
	}
}
