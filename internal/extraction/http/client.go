// Package httpextract calls the external entity extraction service over JSON/HTTP.
package httpextract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "azure_ai_gpt_4o"

// Config points the client at the extraction endpoint.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
	// Embeddings asks the service for a vector per chunk.
	Embeddings bool
}

// Client implements ingest.Extractor.
type Client struct {
	cfg  Config
	http *http.Client
}

type extractRequest struct {
	Model                string                   `json:"model"`
	AllowedNodes         []string                 `json:"allowedNodes"`
	AllowedRelationships []string                 `json:"allowedRelationships"`
	Chunks               []ingest.ExtractionInput `json:"chunks"`
	Embeddings           bool                     `json:"embeddings,omitempty"`
}

type extractResponse struct {
	Results []ingest.ExtractionResult `json:"results"`
}

// New validates cfg and builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("extraction endpoint is required: %w", ingest.ErrValidation)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Extract sends one batch of chunks and returns a result per chunk. Any
// transport, status or decoding problem is an ingest.ErrProcessing.
func (c *Client) Extract(
	ctx context.Context,
	batch []ingest.ExtractionInput,
	nodes, relationships ingest.TypeSet,
) ([]ingest.ExtractionResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(extractRequest{
		Model:                c.cfg.Model,
		AllowedNodes:         nodes.Labels(),
		AllowedRelationships: relationships.Labels(),
		Chunks:               batch,
		Embeddings:           c.cfg.Embeddings,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extraction service: %w: %w", ingest.ErrProcessing, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("extraction service returned %d: %s: %w",
			resp.StatusCode, bytes.TrimSpace(body), ingest.ErrProcessing)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w: %w", ingest.ErrProcessing, err)
	}
	return out.Results, nil
}
