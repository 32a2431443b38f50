// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/chunker"
	"github.com/JakeFAU/graphbuilder/internal/clock/system"
	"github.com/JakeFAU/graphbuilder/internal/config"
	httpextract "github.com/JakeFAU/graphbuilder/internal/extraction/http"
	collyfetcher "github.com/JakeFAU/graphbuilder/internal/fetcher/colly"
	"github.com/JakeFAU/graphbuilder/internal/fetcher/headless"
	"github.com/JakeFAU/graphbuilder/internal/frontier"
	"github.com/JakeFAU/graphbuilder/internal/hash/sha1"
	"github.com/JakeFAU/graphbuilder/internal/headless/detector"
	"github.com/JakeFAU/graphbuilder/internal/id/uuid"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/pipeline"
	"github.com/JakeFAU/graphbuilder/internal/policy/ratelimit"
	"github.com/JakeFAU/graphbuilder/internal/processing"
	"github.com/JakeFAU/graphbuilder/internal/progress"
	"github.com/JakeFAU/graphbuilder/internal/progress/sinks"
	"github.com/JakeFAU/graphbuilder/internal/publisher/memory"
	natspub "github.com/JakeFAU/graphbuilder/internal/publisher/nats"
	pubsubpub "github.com/JakeFAU/graphbuilder/internal/publisher/pubsub"
	"github.com/JakeFAU/graphbuilder/internal/storage/gcs"
	"github.com/JakeFAU/graphbuilder/internal/storage/local"
	storemem "github.com/JakeFAU/graphbuilder/internal/storage/memory"
	"github.com/JakeFAU/graphbuilder/internal/storage/postgres"
)

// ErrNoExtractor is returned by document operations when no extraction
// endpoint is configured.
var ErrNoExtractor = fmt.Errorf("extraction.endpoint is not configured: %w", ingest.ErrValidation)

// Option overrides a collaborator NewApp would otherwise build from config.
type Option func(*App)

// WithGraphStore replaces the configured graph store.
func WithGraphStore(store ingest.GraphStore) Option {
	return func(a *App) { a.graph = store }
}

// WithStateStore replaces the configured frontier state store.
func WithStateStore(store ingest.StateStore) Option {
	return func(a *App) { a.states = store }
}

// WithFetcher replaces the configured fetcher.
func WithFetcher(fetcher ingest.Fetcher) Option {
	return func(a *App) { a.fetcher = fetcher }
}

// WithExtractor replaces the HTTP extraction client.
func WithExtractor(extractor ingest.Extractor) Option {
	return func(a *App) { a.extractor = extractor }
}

// WithPublisher replaces the configured publisher.
func WithPublisher(publisher ingest.Publisher) Option {
	return func(a *App) { a.publisher = publisher }
}

// WithClock replaces the wall clock shared by the frontier, controller and pipelines.
func WithClock(clock ingest.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// WithRegisterer sets where progress metrics are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and passed to the commands that need it.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer
	clock      ingest.Clock

	graph      ingest.GraphStore
	states     ingest.StateStore
	fetcher    ingest.Fetcher
	extractor  ingest.Extractor
	publisher  ingest.Publisher
	limiter    *ratelimit.Limiter
	hub        *progress.Hub
	controller *processing.Controller

	mu       sync.Mutex
	frontier *frontier.Manager

	closers []func() error
}

// NewApp builds every service named by cfg. It fails fast when a configured
// backend cannot be reached.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	for _, opt := range opts {
		opt(a)
	}
	logger.Info("initializing application services")

	steps := []func(context.Context) error{
		a.initGraphStore,
		a.initStateStore,
		a.initFetcher,
		a.initPublisher,
		a.initProgress,
		a.initController,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.RateLimit.RPS > 0 {
		a.limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimit.RPS, DefaultBurst: cfg.RateLimit.Burst})
	}
	fm, err := a.newFrontier(cfg.Crawler.MaxCrawlLimit)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.frontier = fm

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initGraphStore(ctx context.Context) error {
	if a.graph != nil {
		return nil
	}
	switch a.cfg.Graph.Backend {
	case "postgres":
		store, err := postgres.NewGraphStore(ctx, postgres.Config{DSN: a.cfg.Graph.DSN, MaxConns: a.cfg.Graph.MaxConns})
		if err != nil {
			return fmt.Errorf("init graph store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
		a.logger.Info("using postgres graph store")
		a.graph = store
	default:
		a.logger.Info("using in-memory graph store; documents are lost on exit")
		a.graph = storemem.NewGraphStore()
	}
	return nil
}

func (a *App) initStateStore(ctx context.Context) error {
	if a.states != nil {
		return nil
	}
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Object: a.cfg.Storage.GCSObject})
		if err != nil {
			return fmt.Errorf("init gcs state store: %w", err)
		}
		a.logger.Info("using gcs frontier state", zap.String("uri", store.URI()))
		a.states = store
	case "memory":
		a.states = storemem.NewStateStore()
	default:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.Dir})
		if err != nil {
			return fmt.Errorf("init local state store: %w", err)
		}
		a.logger.Info("using local frontier state", zap.String("dir", a.cfg.Storage.Dir))
		a.states = store
	}
	return nil
}

func (a *App) initFetcher(context.Context) error {
	if a.fetcher != nil {
		return nil
	}
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	})
	if !a.cfg.Headless.Enabled {
		a.fetcher = plain
		return nil
	}
	renderer, err := headless.New(headless.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Crawler.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
	}, headless.WithLogger(a.logger.Named("headless")))
	if err != nil {
		return fmt.Errorf("init headless fetcher: %w", err)
	}
	a.closers = append(a.closers, func() error { renderer.Close(); return nil })
	if a.cfg.Headless.Always {
		a.fetcher = renderer
		return nil
	}
	a.fetcher = detector.NewFetcher(plain, renderer,
		detector.NewHeuristic(a.cfg.Headless.MinTextRunes), a.logger.Named("fetcher"))
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.publisher != nil {
		return nil
	}
	switch a.cfg.Publisher.Kind {
	case "pubsub":
		p, err := pubsubpub.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.logger.Info("publishing summaries to pubsub", zap.String("topic", a.cfg.PubSub.TopicName))
		a.publisher = p
	case "nats":
		p, err := natspub.New(natspub.Config{URL: a.cfg.NATS.URL, SubjectPrefix: "graphbuilder"})
		if err != nil {
			return fmt.Errorf("init nats publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.logger.Info("publishing summaries to nats", zap.String("url", a.cfg.NATS.URL))
		a.publisher = p
	case "memory":
		a.publisher = memory.New()
	default:
		a.logger.Info("summary publishing disabled")
	}
	return nil
}

func (a *App) initProgress(context.Context) error {
	prom, err := sinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, sinks.NewLogSink(a.logger), prom)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.hub.Close(ctx)
	})
	return nil
}

func (a *App) initController(context.Context) error {
	if a.extractor == nil && a.cfg.Extraction.Endpoint != "" {
		client, err := httpextract.New(httpextract.Config{
			Endpoint:   a.cfg.Extraction.Endpoint,
			APIKey:     a.cfg.Extraction.APIKey,
			Model:      a.cfg.Extraction.Model,
			Timeout:    a.cfg.ExtractionTimeout(),
			Embeddings: a.cfg.Processing.Embeddings,
		}, &http.Client{Timeout: a.cfg.ExtractionTimeout()})
		if err != nil {
			return fmt.Errorf("init extraction client: %w", err)
		}
		a.extractor = client
	}
	if a.extractor == nil {
		a.logger.Warn("no extraction endpoint configured; document processing is disabled")
		return nil
	}
	splitter, err := chunker.NewSplitter(chunker.Config{
		ChunkSize: a.cfg.Chunking.ChunkSize,
		Overlap:   a.cfg.Chunking.Overlap,
		MaxChunks: a.cfg.Chunking.MaxChunks,
		Unit:      chunker.Unit(a.cfg.Chunking.Unit),
	})
	if err != nil {
		return fmt.Errorf("init splitter: %w", err)
	}
	opts := []processing.Option{
		processing.WithLogger(a.logger.Named("processing")),
		processing.WithEmitter(a.hub),
		processing.WithClock(a.clock),
	}
	if a.publisher != nil {
		opts = append(opts, processing.WithPublisher(a.publisher))
	}
	ctrl, err := processing.New(
		processing.Config{
			BatchSize:  a.cfg.Processing.BatchSize,
			Topic:      a.cfg.Publisher.Topic,
			Embeddings: a.cfg.Processing.Embeddings,
		},
		a.graph, a.extractor, splitter, chunker.NewLinker(sha1.New()), opts...,
	)
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}
	a.controller = ctrl
	return nil
}

func (a *App) newFrontier(limit int) (*frontier.Manager, error) {
	if limit <= 0 {
		limit = a.cfg.Crawler.MaxCrawlLimit
	}
	fm, err := frontier.New(frontier.Config{
		CrawlLimit:     limit,
		AllowedDomains: a.cfg.Crawler.AllowedDomains,
		RequestDelay:   a.cfg.Crawler.RequestDelay,
		MaxWorkers:     a.cfg.Crawler.MaxWorkers,
		SameHostOnly:   a.cfg.Crawler.SameHostOnly,
	}, a.fetcher, a.states,
		frontier.WithLogger(a.logger.Named("frontier")),
		frontier.WithEmitter(a.hub),
		frontier.WithLimiter(a.limiter),
		frontier.WithIDGenerator(uuid.New()),
		frontier.WithClock(a.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("init frontier: %w", err)
	}
	return fm, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// GraphStore returns the document store.
func (a *App) GraphStore() ingest.GraphStore {
	return a.graph
}

// Fetcher returns the page fetcher.
func (a *App) Fetcher() ingest.Fetcher {
	return a.fetcher
}

// Frontier returns the frontier used by the most recent crawl.
func (a *App) Frontier() *frontier.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frontier
}

// Statistics reports the current frontier state.
func (a *App) Statistics() frontier.Statistics {
	return a.Frontier().Statistics()
}

// Ready checks that the graph store answers.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.graph.ListDocuments(ctx); err != nil {
		return fmt.Errorf("graph store not ready: %w", err)
	}
	return nil
}

// PipelineConfig maps configuration onto pipeline scheduling settings.
func (a *App) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MaxParallelTasks: a.cfg.Pipeline.MaxParallelTasks,
		ContinueOnError:  a.cfg.Pipeline.ContinueOnError,
		AutoRetryFailed:  a.cfg.Pipeline.AutoRetryFailed,
		PollInterval:     a.cfg.Pipeline.PollInterval,
	}
}

// ProcessOptions parses comma-separated type filters. Empty arguments fall
// back to the configured defaults.
func (a *App) ProcessOptions(nodes, relationships string) (processing.Options, error) {
	if nodes == "" {
		nodes = a.cfg.Processing.AllowedNodes
	}
	if relationships == "" {
		relationships = a.cfg.Processing.AllowedRelationships
	}
	allowedNodes, err := ingest.ParseTypeSet(nodes)
	if err != nil {
		return processing.Options{}, fmt.Errorf("allowed nodes: %w", err)
	}
	allowedRels, err := ingest.ParseTypeSet(relationships)
	if err != nil {
		return processing.Options{}, fmt.Errorf("allowed relationships: %w", err)
	}
	return processing.Options{AllowedNodes: allowedNodes, AllowedRelationships: allowedRels}, nil
}

// ProcessDocument runs doc through the document pipeline.
func (a *App) ProcessDocument(ctx context.Context, doc ingest.SourceDocument, pages []ingest.Page, opts processing.Options) (processing.Summary, error) {
	if a.controller == nil {
		return processing.Summary{FileName: doc.FileName, Status: ingest.StatusFailed, ErrorMessage: ErrNoExtractor.Error()}, ErrNoExtractor
	}
	dp, err := pipeline.NewDocumentPipeline(a.controller, doc, pages, opts, a.PipelineConfig(),
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithEmitter(a.hub),
		pipeline.WithIDGenerator(uuid.New()),
		pipeline.WithClock(a.clock),
	)
	if err != nil {
		return processing.Summary{}, err
	}
	return dp.Process(ctx)
}

// CrawlRequest parameterizes one crawl.
type CrawlRequest struct {
	URLs []string
	// MaxURLs overrides crawler.max_crawl_limit when > 0.
	MaxURLs    int
	MaxWorkers int
	Options    processing.Options
}

// CrawlResult is the frontier outcome plus one summary per processed page.
type CrawlResult struct {
	Stats     frontier.Stats       `json:"stats"`
	Documents []processing.Summary `json:"documents"`
}

// Crawl walks the web from req.URLs and processes every fetched page as its
// own document. The frontier state is loaded first so earlier crawls count
// toward deduplication.
func (a *App) Crawl(ctx context.Context, req CrawlRequest) (CrawlResult, error) {
	if len(req.URLs) == 0 {
		return CrawlResult{}, fmt.Errorf("at least one url is required: %w", ingest.ErrValidation)
	}
	fm, err := a.newFrontier(req.MaxURLs)
	if err != nil {
		return CrawlResult{}, err
	}
	if err := fm.Load(ctx); err != nil {
		return CrawlResult{}, err
	}
	a.mu.Lock()
	a.frontier = fm
	a.mu.Unlock()

	var (
		mu      sync.Mutex
		results []processing.Summary
	)
	stats, err := fm.Run(ctx, req.URLs, func(ctx context.Context, page ingest.Page) error {
		if a.controller == nil {
			return nil
		}
		summary, err := a.ProcessDocument(ctx, URLDocument(page), []ingest.Page{page}, req.Options)
		mu.Lock()
		results = append(results, summary)
		mu.Unlock()
		return err
	}, req.MaxWorkers)
	return CrawlResult{Stats: stats, Documents: results}, err
}

// LoadFrontier restores the persisted frontier state.
func (a *App) LoadFrontier(ctx context.Context) error {
	return a.Frontier().Load(ctx)
}

// ResetFrontier clears the persisted frontier state.
func (a *App) ResetFrontier(ctx context.Context) error {
	return a.Frontier().Reset(ctx)
}

// URLDocument builds the document record for a fetched page.
func URLDocument(page ingest.Page) ingest.SourceDocument {
	return ingest.SourceDocument{
		FileName:   page.URL,
		SourceType: ingest.SourceURL,
		URL:        page.URL,
		FileSize:   int64(page.Bytes),
		Status:     ingest.StatusNew,
	}
}

// Close shuts down services in reverse construction order.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}
