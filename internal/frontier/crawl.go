package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/metrics"
	"github.com/JakeFAU/graphbuilder/internal/progress"
)

// Callback handles one fetched page. A returned error marks the URL failed
// and keeps it out of the processed set.
type Callback func(ctx context.Context, page ingest.Page) error

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (o outcome) String() string {
	switch o {
	case outcomeProcessed:
		return "processed"
	case outcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Run seeds the queue with startURLs and crawls in rounds of up to maxWorkers
// concurrent URLs until the queue drains, the crawl limit is met or ctx ends.
// Per-URL failures are counted, never returned. The returned error is non-nil
// only when ctx ended the crawl early; Stats are valid either way.
func (m *Manager) Run(ctx context.Context, startURLs []string, callback Callback, maxWorkers int) (Stats, error) {
	if maxWorkers <= 0 {
		maxWorkers = m.cfg.MaxWorkers
	}
	start := m.clock.Now()
	runID := m.newRunID()
	hosts := hostSet(startURLs)

	added := m.Enqueue(startURLs...)
	m.logger.Info("crawl starting",
		zap.String("run_id", runID),
		zap.Int("seeds", len(startURLs)),
		zap.Int("queued", added),
		zap.Int("workers", maxWorkers),
		zap.Int("crawl_limit", m.cfg.CrawlLimit),
	)
	m.emit(progress.Event{RunID: runID, Stage: progress.StageCrawlStart, Total: m.cfg.CrawlLimit})

	var processed, failed, skipped atomic.Int64
	var runErr error
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if !m.hasWork() {
			break
		}
		batch := m.queue.PopN(maxWorkers)
		m.logger.Debug("crawl round", zap.Int("round", round), zap.Int("urls", len(batch)))

		var g errgroup.Group
		g.SetLimit(maxWorkers)
		for _, u := range batch {
			g.Go(func() error {
				switch m.visit(ctx, runID, u, callback, hosts) {
				case outcomeProcessed:
					processed.Add(1)
				case outcomeFailed:
					failed.Add(1)
				default:
					skipped.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		if !m.hasWork() {
			break
		}
		if err := m.sleep(ctx, m.cfg.RequestDelay); err != nil {
			runErr = err
			break
		}
	}

	stats := Stats{
		Processed: int(processed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Duration:  m.clock.Now().Sub(start),
	}
	status := "Completed"
	if runErr != nil {
		status = "Cancelled"
	}
	m.emit(progress.Event{
		RunID:     runID,
		Stage:     progress.StageCrawlDone,
		Processed: min(stats.Processed, m.cfg.CrawlLimit),
		Total:     m.cfg.CrawlLimit,
		Status:    status,
		Dur:       stats.Duration,
	})
	m.logger.Info("crawl finished",
		zap.String("run_id", runID),
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", stats.Duration),
	)
	if runErr != nil {
		return stats, fmt.Errorf("crawl interrupted: %w", runErr)
	}
	return stats, nil
}

func (m *Manager) hasWork() bool {
	return m.queue.Len() > 0 && m.processedCount() < m.cfg.CrawlLimit
}

func (m *Manager) visit(ctx context.Context, runID, rawURL string, callback Callback, hosts map[string]struct{}) outcome {
	site := metrics.SanitizeSite(rawURL)
	if !m.claim(rawURL) {
		metrics.ObservePage(rawURL, outcomeSkipped.String(), 0)
		return outcomeSkipped
	}
	logger := m.logger.With(zap.String("url", rawURL))

	fail := func(stage string, err error, status int) outcome {
		m.release()
		logger.Warn("url failed", zap.String("stage", stage), zap.Error(err))
		metrics.ObservePage(rawURL, outcomeFailed.String(), 0)
		m.emit(progress.Event{
			RunID:       runID,
			Stage:       progress.StageFetchError,
			Site:        site,
			URL:         rawURL,
			StatusClass: progress.ClassifyStatus(status),
			Note:        err.Error(),
		})
		return outcomeFailed
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, rawURL); err != nil {
			return fail("rate_limit", err, 0)
		}
	}
	page, err := m.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return fail("fetch", err, page.StatusCode)
	}
	if callback != nil {
		if err := callback(ctx, page); err != nil {
			return fail("callback", err, page.StatusCode)
		}
	}
	if err := m.commit(ctx, rawURL); err != nil {
		if errors.Is(err, ErrCrawlLimitReached) {
			logger.Info("crawl limit reached before commit")
			metrics.ObservePage(rawURL, outcomeSkipped.String(), 0)
			return outcomeSkipped
		}
		logger.Error("frontier state not persisted", zap.Error(err))
	}

	metrics.ObservePage(rawURL, outcomeProcessed.String(), page.Bytes)
	m.emit(progress.Event{
		RunID:       runID,
		Stage:       progress.StageFetchDone,
		Site:        site,
		URL:         rawURL,
		Bytes:       int64(page.Bytes),
		StatusClass: progress.ClassifyStatus(page.StatusCode),
		Dur:         page.Duration,
	})
	logger.Info("url processed", zap.Int("links", len(page.Links)))

	if m.processedCount() < m.cfg.CrawlLimit {
		if n := m.Enqueue(m.filterLinks(page.Links, hosts)...); n > 0 {
			logger.Debug("links queued", zap.Int("added", n))
		}
	}
	return outcomeProcessed
}

func (m *Manager) filterLinks(links []string, hosts map[string]struct{}) []string {
	if !m.cfg.SameHostOnly {
		return links
	}
	out := make([]string, 0, len(links))
	for _, l := range links {
		if _, ok := hosts[hostOf(l)]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (m *Manager) emit(evt progress.Event) {
	evt.TS = m.clock.Now()
	m.emitter.Emit(evt)
}

func (m *Manager) newRunID() string {
	if m.ids != nil {
		if id, err := m.ids.NewID(); err == nil {
			return "crawl-" + id
		}
	}
	return "crawl-" + m.clock.Now().Format("20060102T150405.000")
}

func hostSet(urls []string) map[string]struct{} {
	out := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if h := hostOf(u); h != "" {
			out[h] = struct{}{}
		}
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
