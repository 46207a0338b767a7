// Package consolelog captures console output from targets into bounded per-locator
// buffers that outlive individual capture sessions.
package consolelog

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// DefaultCapacity is the number of lines a buffer keeps.
const DefaultCapacity = 1000

// ErrNoLogs is returned when a locator has no buffer or an empty one.
var ErrNoLogs = errors.New("no logs recorded")

// ring is a fixed capacity FIFO that evicts its oldest line when full.
type ring struct {
	lines []string
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{lines: make([]string, capacity)}
}

func (r *ring) push(line string) {
	if r.size < len(r.lines) {
		r.lines[(r.start+r.size)%len(r.lines)] = line
		r.size++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % len(r.lines)
}

func (r *ring) snapshot() []string {
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

// Registry holds one buffer per locator key. Create one per process and share it
// between the recorder and whatever serves the logs.
type Registry struct {
	capacity int

	mu      sync.Mutex
	buffers map[string]*ring
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		buffers:  make(map[string]*ring),
	}
}

// Capacity returns the per-buffer line limit.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Ensure creates an empty buffer for key unless one exists. Existing lines are kept.
func (r *Registry) Ensure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(key)
}

func (r *Registry) ensureLocked(key string) *ring {
	b, ok := r.buffers[key]
	if !ok {
		b = newRing(r.capacity)
		r.buffers[key] = b
	}
	return b
}

// Append adds line to key's buffer, creating it when needed.
func (r *Registry) Append(key, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(key).push(line)
}

// Lines returns a copy of key's buffer in chronological order.
func (r *Registry) Lines(key string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[key]
	if !ok {
		return nil, false
	}
	return b.snapshot(), true
}

// GetLogs returns key's buffer joined by newlines.
func (r *Registry) GetLogs(key string) (string, error) {
	lines, ok := r.Lines(key)
	if !ok || len(lines) == 0 {
		return "", ErrNoLogs
	}
	return strings.Join(lines, "\n"), nil
}

// Keys lists the locator keys that have a buffer.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.buffers))
	for k := range r.buffers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset drops every buffer. It belongs to process lifecycle, not to session teardown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers = make(map[string]*ring)
}
