// Package frontier owns the crawl frontier: which URLs were seen, which were
// fully processed, what is queued next, and the bounded worker rounds that
// drain the queue.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/clock/system"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/policy/ratelimit"
	"github.com/JakeFAU/graphbuilder/internal/progress"
	"github.com/JakeFAU/graphbuilder/internal/queue/memory"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultCrawlLimit   = 10
	DefaultMaxWorkers   = 5
	DefaultRequestDelay = time.Second
)

// ErrCrawlLimitReached is returned by MarkProcessed once the limit is full.
var ErrCrawlLimitReached = errors.New("crawl limit reached")

// Config controls frontier admission and pacing.
type Config struct {
	CrawlLimit int
	// AllowedDomains restricts hosts by substring match. Empty allows all.
	AllowedDomains []string
	RequestDelay   time.Duration
	MaxWorkers     int
	// SameHostOnly keeps discovered links on the hosts of the start URLs.
	SameHostOnly bool
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEmitter sets the progress emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(m *Manager) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// WithLimiter adds per-domain pacing on top of the per-round delay.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(m *Manager) {
		m.limiter = limiter
	}
}

// WithClock overrides the time source.
func WithClock(clock ingest.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithIDGenerator sets the generator used for crawl run ids.
func WithIDGenerator(ids ingest.IDGenerator) Option {
	return func(m *Manager) {
		m.ids = ids
	}
}

// Stats summarizes one Run.
type Stats struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Statistics is a point-in-time view of the frontier.
type Statistics struct {
	Visited        int           `json:"visitedCount"`
	Processed      int           `json:"processedCount"`
	Queued         int           `json:"queueSize"`
	CrawlLimit     int           `json:"crawlLimit"`
	Remaining      int           `json:"remainingCapacity"`
	AllowedDomains []string      `json:"allowedDomains"`
	RequestDelay   time.Duration `json:"requestDelay"`
}

// Manager is the frontier state plus the machinery to crawl from it. One
// mutex guards visited, processed, in-flight reservations and the queue
// handoff.
type Manager struct {
	cfg     Config
	fetcher ingest.Fetcher
	store   ingest.StateStore
	limiter *ratelimit.Limiter
	emitter progress.Emitter
	logger  *zap.Logger
	clock   ingest.Clock
	ids     ingest.IDGenerator
	sleep   func(context.Context, time.Duration) error

	mu        sync.Mutex
	visited   map[string]struct{}
	processed map[string]struct{}
	inflight  int
	queue     *memory.Queue

	// saveMu orders snapshot writes so an older snapshot never lands last.
	saveMu sync.Mutex
}

// New builds a Manager with empty state. Call Load to restore persisted state.
func New(cfg Config, fetcher ingest.Fetcher, store ingest.StateStore, opts ...Option) (*Manager, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required: %w", ingest.ErrValidation)
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required: %w", ingest.ErrValidation)
	}
	if cfg.CrawlLimit < 0 || cfg.MaxWorkers < 0 || cfg.RequestDelay < 0 {
		return nil, fmt.Errorf("crawl limit, workers and delay must be >= 0: %w", ingest.ErrValidation)
	}
	if cfg.CrawlLimit == 0 {
		cfg.CrawlLimit = DefaultCrawlLimit
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	domains := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	cfg.AllowedDomains = domains

	m := &Manager{
		cfg:       cfg,
		fetcher:   fetcher,
		store:     store,
		emitter:   progress.Nop{},
		logger:    zap.NewNop(),
		clock:     system.New(),
		sleep:     sleepContext,
		visited:   make(map[string]struct{}),
		processed: make(map[string]struct{}),
		queue:     memory.NewQueue(cfg.CrawlLimit),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("frontier")
	return m, nil
}

// Load replaces in-memory state with the persisted snapshot. Processed URLs
// are also marked visited.
func (m *Manager) Load(ctx context.Context) error {
	snap, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load frontier state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visited = make(map[string]struct{}, len(snap.VisitedURLs))
	m.processed = make(map[string]struct{}, len(snap.ProcessedURLs))
	for _, u := range snap.VisitedURLs {
		m.visited[u] = struct{}{}
	}
	for _, u := range snap.ProcessedURLs {
		m.processed[u] = struct{}{}
		m.visited[u] = struct{}{}
	}
	m.logger.Info("frontier state loaded",
		zap.Int("visited", len(m.visited)),
		zap.Int("processed", len(m.processed)),
	)
	return nil
}

// Reset clears visited, processed and the queue, then persists the empty state.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.visited = make(map[string]struct{})
	m.processed = make(map[string]struct{})
	m.queue.Reset()
	snap := m.snapshotLocked()
	m.saveMu.Lock()
	m.mu.Unlock()
	defer m.saveMu.Unlock()

	if err := m.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("reset frontier state: %w", err)
	}
	m.logger.Info("frontier state reset")
	return nil
}

// ShouldProcess reports whether url is admissible: unseen, well formed, on an
// allowed domain, and with crawl capacity left.
func (m *Manager) ShouldProcess(rawURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldProcessLocked(rawURL)
}

func (m *Manager) shouldProcessLocked(rawURL string) bool {
	if _, ok := m.visited[rawURL]; ok {
		return false
	}
	if _, ok := m.processed[rawURL]; ok {
		return false
	}
	if len(m.processed)+m.inflight >= m.cfg.CrawlLimit {
		return false
	}
	return m.allowedURL(rawURL)
}

func (m *Manager) allowedURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if len(m.cfg.AllowedDomains) == 0 {
		return true
	}
	host := strings.ToLower(u.Host)
	for _, allowed := range m.cfg.AllowedDomains {
		if strings.Contains(host, allowed) {
			return true
		}
	}
	return false
}

// Enqueue admits urls through ShouldProcess, skips ones already queued and
// returns how many were added.
func (m *Manager) Enqueue(urls ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, u := range urls {
		if !m.shouldProcessLocked(u) {
			continue
		}
		if m.queue.Push(u) {
			added++
		}
	}
	return added
}

// MarkVisited records that url has been taken for processing.
func (m *Manager) MarkVisited(rawURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visited[rawURL] = struct{}{}
}

// MarkProcessed records url as fully processed and persists both sets. It
// refuses to grow processed past the crawl limit.
func (m *Manager) MarkProcessed(ctx context.Context, rawURL string) error {
	m.mu.Lock()
	if err := m.markProcessedLocked(rawURL, false); err != nil {
		m.mu.Unlock()
		return err
	}
	return m.persistUnlocking(ctx)
}

func (m *Manager) markProcessedLocked(rawURL string, reserved bool) error {
	if reserved {
		m.inflight--
	}
	if _, ok := m.processed[rawURL]; ok {
		return nil
	}
	if len(m.processed)+m.inflight >= m.cfg.CrawlLimit {
		return fmt.Errorf("mark %s processed: %w", rawURL, ErrCrawlLimitReached)
	}
	m.processed[rawURL] = struct{}{}
	m.visited[rawURL] = struct{}{}
	return nil
}

// persistUnlocking snapshots under m.mu, releases it and saves in order.
func (m *Manager) persistUnlocking(ctx context.Context) error {
	snap := m.snapshotLocked()
	m.saveMu.Lock()
	m.mu.Unlock()
	defer m.saveMu.Unlock()
	if err := m.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist frontier state: %w", err)
	}
	return nil
}

// claim atomically checks admission, marks url visited and reserves one unit
// of crawl capacity for it.
func (m *Manager) claim(rawURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.shouldProcessLocked(rawURL) {
		return false
	}
	m.visited[rawURL] = struct{}{}
	m.inflight++
	return true
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
}

func (m *Manager) commit(ctx context.Context, rawURL string) error {
	m.mu.Lock()
	if err := m.markProcessedLocked(rawURL, true); err != nil {
		m.mu.Unlock()
		return err
	}
	return m.persistUnlocking(ctx)
}

// Snapshot returns the durable form of the current state with sorted lists.
func (m *Manager) Snapshot() ingest.FrontierSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() ingest.FrontierSnapshot {
	return ingest.FrontierSnapshot{
		VisitedURLs:   sortedKeys(m.visited),
		ProcessedURLs: sortedKeys(m.processed),
	}
}

// Statistics returns counts and configuration for status reporting.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Statistics{
		Visited:        len(m.visited),
		Processed:      len(m.processed),
		Queued:         m.queue.Len(),
		CrawlLimit:     m.cfg.CrawlLimit,
		Remaining:      max(0, m.cfg.CrawlLimit-len(m.processed)),
		AllowedDomains: append([]string{}, m.cfg.AllowedDomains...),
		RequestDelay:   m.cfg.RequestDelay,
	}
}

func (m *Manager) processedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processed)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
