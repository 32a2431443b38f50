package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/frontier"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/metrics"
)

// FrontierStats reports the crawl frontier state.
type FrontierStats interface {
	Statistics() frontier.Statistics
}

// CrawlRequest is the body of POST /v1/crawls.
type CrawlRequest struct {
	URLs                 []string `json:"urls"`
	MaxURLs              int      `json:"maxUrls,omitempty"`
	MaxWorkers           int      `json:"maxWorkers,omitempty"`
	AllowedNodes         string   `json:"allowedNodes,omitempty"`
	AllowedRelationships string   `json:"allowedRelationships,omitempty"`
}

// CrawlFunc runs an accepted crawl to completion.
type CrawlFunc func(ctx context.Context, req CrawlRequest) error

// Option configures optional Server collaborators.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFrontier exposes frontier statistics.
func WithFrontier(stats FrontierStats) Option {
	return func(s *Server) {
		s.frontier = stats
	}
}

// WithCrawler enables POST /v1/crawls. Accepted crawls run on baseCtx.
func WithCrawler(baseCtx context.Context, crawl CrawlFunc) Option {
	return func(s *Server) {
		s.baseCtx = baseCtx
		s.crawl = crawl
	}
}

// WithReadiness sets the check behind /readyz.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) {
		s.ready = check
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Server wires HTTP handlers to the graph store and frontier.
type Server struct {
	router   chi.Router
	store    ingest.GraphStore
	frontier FrontierStats
	crawl    CrawlFunc
	baseCtx  context.Context
	ready    func(context.Context) error
	timeout  time.Duration
	logger   *zap.Logger
	crawls   sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store ingest.GraphStore, opts ...Option) *Server {
	s := &Server{
		store:   store,
		baseCtx: context.Background(),
		timeout: 60 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(s.timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.listDocuments)
			r.Route("/{file_name}", func(r chi.Router) {
				r.Get("/", s.getDocument)
				r.Get("/status", s.getDocumentStatus)
				r.Post("/cancel", s.cancelDocument)
			})
		})
		r.Get("/frontier/stats", s.frontierStats)
		r.Post("/crawls", s.submitCrawl)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every accepted crawl has returned.
func (s *Server) Wait() {
	s.crawls.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	name, ok := s.fileName(w, r)
	if !ok {
		return
	}
	doc, err := s.store.GetDocument(r.Context(), name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) getDocumentStatus(w http.ResponseWriter, r *http.Request) {
	name, ok := s.fileName(w, r)
	if !ok {
		return
	}
	doc, err := s.store.GetDocument(r.Context(), name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"fileName":          doc.FileName,
		"status":            doc.Status,
		"isCancelled":       doc.IsCancelled,
		"processedChunk":    doc.ProcessedChunk,
		"totalChunks":       doc.TotalChunks,
		"nodeCount":         doc.NodeCount,
		"relationshipCount": doc.RelationshipCount,
		"processingTime":    doc.ProcessingTime,
		"errorMessage":      doc.ErrorMessage,
	})
}

// cancelDocument sets the cancellation flag the batch controller polls. It
// is refused once the document reached a terminal status.
func (s *Server) cancelDocument(w http.ResponseWriter, r *http.Request) {
	name, ok := s.fileName(w, r)
	if !ok {
		return
	}
	state, err := s.store.GetDocumentStatus(r.Context(), name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if state.Status.Terminal() {
		s.writeError(w, http.StatusConflict, "document already "+string(state.Status))
		return
	}
	if err := s.store.SetCancelled(r.Context(), name, true); err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info("document cancellation requested", zap.String("file_name", name))
	s.writeJSON(w, http.StatusAccepted, map[string]any{"fileName": name, "isCancelled": true})
}

func (s *Server) frontierStats(w http.ResponseWriter, _ *http.Request) {
	if s.frontier == nil {
		s.writeError(w, http.StatusNotFound, "frontier not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.frontier.Statistics())
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	if s.crawl == nil {
		s.writeError(w, http.StatusNotFound, "crawling not enabled")
		return
	}
	var req CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	for _, raw := range []string{req.AllowedNodes, req.AllowedRelationships} {
		if _, err := ingest.ParseTypeSet(raw); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	crawlID := uuid.NewString()
	s.crawls.Add(1)
	go func() {
		defer s.crawls.Done()
		if err := s.crawl(s.baseCtx, req); err != nil {
			s.logger.Error("crawl failed", zap.String("crawl_id", crawlID), zap.Error(err))
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]any{"crawlId": crawlID, "urls": len(req.URLs)})
}

func (s *Server) fileName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "file_name"))
	if err != nil || name == "" {
		s.writeError(w, http.StatusBadRequest, "invalid file name")
		return "", false
	}
	return name, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ingest.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	s.logger.Error("graph store request failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "graph store error")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
