// Package gcs provides a frontier StateStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Object is the key of the JSON snapshot, e.g. "frontier/state.json".
	Object string
}

// StateStore keeps the frontier snapshot in a single GCS object.
type StateStore struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed state store.
func New(client *storage.Client, cfg Config) (*StateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Object == "" {
		cfg.Object = "frontier/state.json"
	}
	return &StateStore{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// Load downloads and decodes the snapshot. A missing object yields an empty snapshot.
func (s *StateStore) Load(ctx context.Context) (ingest.FrontierSnapshot, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ingest.FrontierSnapshot{VisitedURLs: []string{}, ProcessedURLs: []string{}}, nil
	}
	if err != nil {
		return ingest.FrontierSnapshot{}, fmt.Errorf("open object: %w: %w", ingest.ErrStore, err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(reader)
	if err != nil {
		return ingest.FrontierSnapshot{}, fmt.Errorf("read object: %w: %w", ingest.ErrStore, err)
	}
	return decodeSnapshot(data)
}

// Save uploads the full snapshot, replacing the previous object.
func (s *StateStore) Save(ctx context.Context, snapshot ingest.FrontierSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w: %w (close writer: %v)", ingest.ErrStore, err, closeErr)
		}
		return fmt.Errorf("write object: %w: %w", ingest.ErrStore, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w: %w", ingest.ErrStore, err)
	}
	return nil
}

// URI returns the gs:// location of the snapshot.
func (s *StateStore) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

func encodeSnapshot(snapshot ingest.FrontierSnapshot) ([]byte, error) {
	if snapshot.VisitedURLs == nil {
		snapshot.VisitedURLs = []string{}
	}
	if snapshot.ProcessedURLs == nil {
		snapshot.ProcessedURLs = []string{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (ingest.FrontierSnapshot, error) {
	var snapshot ingest.FrontierSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return ingest.FrontierSnapshot{}, fmt.Errorf("decode snapshot: %w: %w", ingest.ErrStore, err)
	}
	if snapshot.VisitedURLs == nil {
		snapshot.VisitedURLs = []string{}
	}
	if snapshot.ProcessedURLs == nil {
		snapshot.ProcessedURLs = []string{}
	}
	return snapshot, nil
}
