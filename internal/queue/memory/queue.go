// Package memory provides the in-process URL queue used by the crawl frontier.
package memory

import "sync"

// Queue is an unbounded FIFO of URLs that remembers what it currently holds.
// It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	items   []string
	pending map[string]struct{}
}

// NewQueue constructs an empty queue with the provided initial capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		items:   make([]string, 0, capacity),
		pending: make(map[string]struct{}, capacity),
	}
}

// Push appends url unless it is already queued. It reports whether the url
// was added.
func (q *Queue) Push(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[url]; ok {
		return false
	}
	q.items = append(q.items, url)
	q.pending[url] = struct{}{}
	return true
}

// PopN removes and returns up to n urls in FIFO order.
func (q *Queue) PopN(n int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	n = min(n, len(q.items))
	out := make([]string, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	for _, url := range out {
		delete(q.pending, url)
	}
	return out
}

// Len returns the number of queued urls.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset drops every queued url.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.pending = make(map[string]struct{})
}
