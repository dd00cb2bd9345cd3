// Package logbus fans live build output out to WebSocket subscribers. Each
// active build owns one topic, keyed by its socket token. A topic buffers
// every published frame so late subscribers replay the full history before
// seeing live frames, and delivery to slow subscribers is lossy but ordered:
// frames may be dropped for a lagging subscriber, never reordered.
package logbus

import (
	"sync"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/build"
)

// SubscriberBuffer is the per-subscriber ring capacity. A subscriber that
// falls more than this many frames behind starts losing intermediate frames.
const SubscriberBuffer = 100

// Frame is the wire form of one log record.
type Frame struct {
	Type      string         `json:"type"`
	BuildID   string         `json:"build_id"`
	Step      int            `json:"step"`
	Level     build.LogLevel `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Command   string         `json:"command,omitempty"`
}

// FrameOf converts a build log record into its wire form.
func FrameOf(buildID string, rec build.Log) Frame {
	return Frame{
		Type:      "log",
		BuildID:   buildID,
		Step:      rec.Step,
		Level:     rec.Level,
		Message:   rec.Message,
		Timestamp: rec.Timestamp,
		Command:   rec.Command,
	}
}

// Bus owns the per-build topics, keyed by socket token.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*Topic
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*Topic)}
}

// Open creates the topic for a build, or returns the existing one.
func (b *Bus) Open(socketToken, buildID string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[socketToken]; ok {
		return t
	}
	t := &Topic{
		buildID: buildID,
		subs:    make(map[int]chan Frame),
	}
	b.topics[socketToken] = t
	return t
}

// Lookup finds the topic for a socket token.
func (b *Bus) Lookup(socketToken string) (*Topic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[socketToken]
	return t, ok
}

// Shutdown delivers the terminal marker for a build: every subscriber channel
// is closed and the topic is removed from the bus.
func (b *Bus) Shutdown(socketToken string) {
	b.mu.Lock()
	t, ok := b.topics[socketToken]
	delete(b.topics, socketToken)
	b.mu.Unlock()
	if ok {
		t.close()
	}
}

// Topic is the broadcast channel for one build.
type Topic struct {
	buildID string

	mu      sync.Mutex
	history []Frame
	subs    map[int]chan Frame
	nextSub int
	closed  bool
}

// BuildID returns the build this topic belongs to.
func (t *Topic) BuildID() string { return t.buildID }

// Publish appends the frame to the replay history and fans it out. A
// subscriber whose buffer is full loses this frame rather than stalling the
// publisher.
func (t *Topic) Publish(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.history = append(t.history, f)
	for _, ch := range t.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

// Attach registers a subscriber. The returned history snapshot and the live
// channel are consistent: every frame is in exactly one of the two (modulo
// frames dropped for a slow subscriber). The channel is closed when the build
// reaches its terminal state. detach must be called when the subscriber goes
// away.
func (t *Topic) Attach() (history []Frame, ch <-chan Frame, detach func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	history = make([]Frame, len(t.history))
	copy(history, t.history)

	c := make(chan Frame, SubscriberBuffer)
	if t.closed {
		close(c)
		return history, c, func() {}
	}

	id := t.nextSub
	t.nextSub++
	t.subs[id] = c

	detach = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
		}
	}
	return history, c, detach
}

func (t *Topic) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
