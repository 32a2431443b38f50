// Package local implements a local filesystem store for crawl frontier state.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// File names written under BaseDir.
const (
	VisitedFile   = "visited_urls.json"
	ProcessedFile = "processed_urls.json"
)

// Config captures the parameters for the local filesystem state store.
type Config struct {
	// BaseDir is the directory holding the two URL list files.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// StateStore persists the visited and processed URL lists as two JSON arrays.
// Each Save rewrites both files in place.
type StateStore struct {
	mu      sync.Mutex
	baseDir string
}

// New creates a filesystem-backed state store, creating BaseDir if needed.
func New(cfg Config) (*StateStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &StateStore{baseDir: cfg.BaseDir}, nil
}

// Load reads both lists. Missing files yield empty lists.
func (s *StateStore) Load(_ context.Context) (ingest.FrontierSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visited, err := s.readList(VisitedFile)
	if err != nil {
		return ingest.FrontierSnapshot{}, err
	}
	processed, err := s.readList(ProcessedFile)
	if err != nil {
		return ingest.FrontierSnapshot{}, err
	}
	return ingest.FrontierSnapshot{VisitedURLs: visited, ProcessedURLs: processed}, nil
}

// Save rewrites both lists.
func (s *StateStore) Save(_ context.Context, snapshot ingest.FrontierSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeList(VisitedFile, snapshot.VisitedURLs); err != nil {
		return err
	}
	return s.writeList(ProcessedFile, snapshot.ProcessedURLs)
}

func (s *StateStore) readList(name string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", name, ingest.ErrStore, err)
	}
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", name, ingest.ErrStore, err)
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

func (s *StateStore) writeList(name string, urls []string) error {
	if urls == nil {
		urls = []string{}
	}
	data, err := json.MarshalIndent(urls, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(s.baseDir, name), data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w: %w", name, ingest.ErrStore, err)
	}
	return nil
}
