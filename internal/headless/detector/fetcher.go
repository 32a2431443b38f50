package detector

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// Promoter decides whether a plain fetch result needs a headless render.
type Promoter interface {
	ShouldPromote(page ingest.Page) bool
}

// Fetcher fetches with a cheap fetcher and re-fetches through a headless one
// when the promoter asks for it.
type Fetcher struct {
	plain    ingest.Fetcher
	headless ingest.Fetcher
	promoter Promoter
	logger   *zap.Logger
}

// NewFetcher wires plain, headless and promoter. A nil logger is replaced with a no-op.
func NewFetcher(plain, headless ingest.Fetcher, promoter Promoter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{plain: plain, headless: headless, promoter: promoter, logger: logger}
}

// Fetch returns the plain page, or the headless page when promoted. A failed
// headless render falls back to the plain page.
func (f *Fetcher) Fetch(ctx context.Context, url string) (ingest.Page, error) {
	page, err := f.plain.Fetch(ctx, url)
	if err != nil {
		return page, err
	}
	if f.headless == nil || f.promoter == nil || !f.promoter.ShouldPromote(page) {
		return page, nil
	}
	f.logger.Debug("promoting to headless", zap.String("url", url), zap.Int("text_bytes", len(page.Text)))
	rendered, err := f.headless.Fetch(ctx, url)
	if err != nil {
		f.logger.Warn("headless render failed; keeping plain page", zap.String("url", url), zap.Error(err))
		return page, nil
	}
	rendered.Headless = true
	return rendered, nil
}
