// Package headless renders JavaScript-heavy pages with headless Chrome before parsing them.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/parser"
)

const (
	defaultNavTimeout   = 45 * time.Second
	defaultSettle       = 500 * time.Millisecond
	defaultWaitSelector = "body"
)

// Config controls the behavior of the headless fetcher. Zero MaxParallel
// leaves renders unbounded.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be ready before the DOM is captured.
	WaitSelector string
	// Settle is the pause after WaitSelector for late scripts.
	Settle       time.Duration
	ExtraHeaders http.Header
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavTimeout
	}
	if c.WaitSelector == "" {
		c.WaitSelector = defaultWaitSelector
	}
	if c.Settle < 0 {
		c.Settle = 0
	} else if c.Settle == 0 {
		c.Settle = defaultSettle
	}
	return c
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger used for render diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher implements ingest.Fetcher using chromedp.
type Fetcher struct {
	cfg    Config
	slots  *semaphore.Weighted
	parser *parser.Parser
	logger *zap.Logger

	browser context.Context
	stop    context.CancelFunc
}

// New creates a headless fetcher backed by chromedp. Chrome is only launched
// on the first Fetch.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("headless max parallel %d: %w", cfg.MaxParallel, ingest.ErrValidation)
	}
	cfg = cfg.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(cfg.UserAgent))
	}
	browser, stop := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	f := &Fetcher{
		cfg:     cfg,
		parser:  parser.New(),
		logger:  zap.NewNop(),
		browser: browser,
		stop:    stop,
	}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.stop()
}

// Fetch navigates with a headless browser and parses the rendered DOM into a
// Page marked Headless.
func (f *Fetcher) Fetch(ctx context.Context, url string) (ingest.Page, error) {
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return ingest.Page{}, fmt.Errorf("wait for render slot: %w", err)
		}
		defer f.slots.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	detach := context.AfterFunc(ctx, cancel)
	defer detach()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	snap, err := f.render(tab, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ingest.Page{}, fmt.Errorf("render %s: %w", url, ctxErr)
		}
		return ingest.Page{}, fmt.Errorf("render %s: %w: %w", url, ingest.ErrNetwork, err)
	}

	status, headers, pageURL := doc.resolve(url, snap.location)
	if status >= http.StatusBadRequest {
		return ingest.Page{}, fmt.Errorf("render %s: status %d: %w", url, status, ingest.ErrNetwork)
	}
	parsed, err := f.parser.Parse(pageURL, []byte(snap.html))
	if err != nil {
		return ingest.Page{}, fmt.Errorf("parse rendered %s: %w: %w", pageURL, ingest.ErrNetwork, err)
	}
	elapsed := time.Since(start)
	f.logger.Debug("page rendered",
		zap.String("url", pageURL),
		zap.Int("status", status),
		zap.Int("bytes", len(snap.html)),
		zap.Duration("duration", elapsed))

	return ingest.Page{
		URL:        pageURL,
		Title:      parsed.Title,
		Text:       parsed.Text,
		Links:      parsed.Links,
		StatusCode: status,
		Headers:    headers,
		Bytes:      len(snap.html),
		Duration:   elapsed,
		Headless:   true,
	}, nil
}

type snapshot struct {
	html     string
	location string
}

func (f *Fetcher) render(ctx context.Context, url string) (snapshot, error) {
	var snap snapshot
	err := chromedp.Run(ctx,
		f.prepare(),
		chromedp.Navigate(url),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&snap.location),
		chromedp.OuterHTML("html", &snap.html, chromedp.ByQuery),
	)
	if err != nil {
		return snapshot{}, fmt.Errorf("chromedp run: %w", err)
	}
	if snap.html == "" {
		return snapshot{}, errors.New("empty document")
	}
	return snap, nil
}

// prepare enables network events so the document response can be observed,
// and applies per-tab overrides.
func (f *Fetcher) prepare() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user agent: %w", err)
			}
		}
		if len(f.cfg.ExtraHeaders) > 0 {
			if err := network.SetExtraHTTPHeaders(networkHeaders(f.cfg.ExtraHeaders)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// documentResponse keeps the first top-level document response of a tab.
// Later document responses belong to iframes.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.headers = httpHeaders(resp.Response.Headers)
	d.url = resp.Response.URL
}

// resolve returns the status, headers and URL of the page. The browser
// location wins over the response URL because it reflects client redirects.
func (d *documentResponse) resolve(requested, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	url := requested
	switch {
	case location != "":
		url = location
	case d.url != "":
		url = d.url
	}
	return status, headers, url
}

func httpHeaders(in network.Headers) http.Header {
	out := make(http.Header, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []string:
			for _, entry := range v {
				out.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
