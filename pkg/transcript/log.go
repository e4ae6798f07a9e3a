// Package transcript maintains the shared in-memory transcription history.
//
// The Log is the single rendezvous point between the capture loop (writer)
// and the display, persistence, and connectivity loops (readers). It holds a
// fixed number of recent entries; older ones are evicted first. Every entry
// carries a monotonically increasing sequence number, so readers that
// persist or sync can track their position even after eviction.
package transcript

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries retained when none is configured.
const DefaultCapacity = 100

// Entry is one finalized transcription.
type Entry struct {
	// Seq is assigned on append, starts at 1, and never repeats for the
	// lifetime of the Log — including across evictions.
	Seq uint64

	// Timestamp records when the text was appended.
	Timestamp time.Time

	// Text is the transcribed speech.
	Text string
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is a bounded, concurrency-safe transcription history. All methods may
// be called from any goroutine.
type Log struct {
	mu      sync.Mutex
	entries []Entry // ring storage
	head    int     // index of the oldest entry
	count   int
	nextSeq uint64
	now     func() time.Time
}

// NewLog creates a log retaining at most capacity entries. A non-positive
// capacity selects DefaultCapacity.
func NewLog(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		entries: make([]Entry, capacity),
		nextSeq: 1,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Capacity returns the maximum number of retained entries.
func (l *Log) Capacity() int { return len(l.entries) }

// Append adds text as the newest entry, evicting the oldest when full, and
// returns the stored entry.
func (l *Log) Append(text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Seq:       l.nextSeq,
		Timestamp: l.now(),
		Text:      text,
	}
	l.nextSeq++

	pos := (l.head + l.count) % len(l.entries)
	l.entries[pos] = entry
	if l.count < len(l.entries) {
		l.count++
	} else {
		l.head = (l.head + 1) % len(l.entries)
	}
	return entry
}

// Snapshot returns a copy of all retained entries, oldest first. The copy is
// owned by the caller.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.entries[(l.head+i)%len(l.entries)]
	}
	return out
}

// CurrentText returns the newest entry's text, or "" when the log is empty.
func (l *Log) CurrentText() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return ""
	}
	return l.entries[(l.head+l.count-1)%len(l.entries)].Text
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// LastSeq returns the sequence number of the newest entry, or 0 when the log
// has never been appended to.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1
}
