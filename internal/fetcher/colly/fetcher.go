// Package collyfetcher implements ingest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/parser"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements ingest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	parser        *parser.Parser
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response is what the collector callbacks capture for one visit.
type response struct {
	url      string
	status   int
	headers  http.Header
	body     []byte
	duration time.Duration
	err      error
}

// New builds a Fetcher. The frontier owns revisit decisions, so the collector
// allows revisits.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		parser:        parser.New(),
	}
}

// Fetch downloads url and parses it into a Page. Transport failures and
// non-2xx responses are returned wrapped in ingest.ErrNetwork.
func (f *Fetcher) Fetch(ctx context.Context, url string) (ingest.Page, error) {
	var resp response
	start := time.Now()
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, start, &resp)

	if err := f.runCollector(ctx, collector, url, &resp); err != nil {
		return ingest.Page{}, err
	}
	return f.toPage(url, resp)
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, start time.Time, resp *response) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp.url = r.Request.URL.String()
		resp.status = r.StatusCode
		resp.headers = r.Headers.Clone()
		resp.body = append([]byte(nil), r.Body...)
		resp.duration = time.Since(start)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.status = r.StatusCode
		}
		resp.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, resp *response) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("fetch %s (status %d): %w: %w", url, resp.status, ingest.ErrNetwork, err)
		}
		if resp.err != nil {
			return fmt.Errorf("fetch %s (status %d): %w: %w", url, resp.status, ingest.ErrNetwork, resp.err)
		}
		return nil
	}
}

func (f *Fetcher) toPage(requested string, resp response) (ingest.Page, error) {
	finalURL := resp.url
	if finalURL == "" {
		finalURL = requested
	}
	page := ingest.Page{
		URL:        finalURL,
		StatusCode: resp.status,
		Headers:    resp.headers,
		Bytes:      len(resp.body),
		Duration:   resp.duration,
	}
	if !isHTML(resp.headers) {
		page.Text = strings.TrimSpace(string(resp.body))
		return page, nil
	}
	parsed, err := f.parser.Parse(finalURL, resp.body)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("parse %s: %w: %w", finalURL, ingest.ErrNetwork, err)
	}
	page.Title = parsed.Title
	page.Text = parsed.Text
	page.Links = parsed.Links
	return page, nil
}

func isHTML(h http.Header) bool {
	ct := h.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return true
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
