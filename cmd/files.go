package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/parser"
	"github.com/JakeFAU/graphbuilder/internal/processing"
)

// pageBreak separates pages in extracted text, as pdftotext writes them.
const pageBreak = "\f"

// newFilesCmd creates the 'files' subcommand, which processes local text,
// markdown and HTML files matched by doublestar globs.
func newFilesCmd(root *rootOptions) *cobra.Command {
	flags := &intakeFlags{}
	cmd := &cobra.Command{
		Use:     "files <glob>...",
		Short:   "Processes local files matched by the globs",
		Example: `  graphbuilder files 'docs/**/*.md' 'export/*.txt'`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandGlobs(args)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := appInstance.ProcessOptions(flags.nodes, flags.relationships)
			if err != nil {
				return err
			}

			var firstErr error
			summaries := make([]processing.Summary, 0, len(paths))
			for _, path := range paths {
				doc, pages, err := loadFile(path)
				if err != nil {
					appInstance.Logger().Warn("file skipped", zap.String("path", path), zap.Error(err))
					summaries = append(summaries, processing.Summary{FileName: path, Status: ingest.StatusFailed, ErrorMessage: err.Error()})
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				summary, err := appInstance.ProcessDocument(cmd.Context(), doc, pages, opts)
				summaries = append(summaries, summary)
				if err != nil && firstErr == nil {
					firstErr = fmt.Errorf("process %s: %w", path, err)
				}
			}
			if werr := writeResult(cmd, root, map[string]any{"documents": summaries}); werr != nil {
				return werr
			}
			return firstErr
		},
	}
	addTypeFlags(cmd, &flags.nodes, &flags.relationships, &flags.model)
	return cmd
}

// expandGlobs returns the sorted, deduplicated regular files matched by patterns.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w: %w", pattern, ingest.ErrValidation, err)
		}
		for _, m := range matches {
			seen[m] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("no files matched %s: %w", strings.Join(patterns, " "), ingest.ErrValidation)
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// loadFile reads path into a file document. HTML is reduced to its main text;
// form feeds split the text into pages.
func loadFile(path string) (ingest.SourceDocument, []ingest.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ingest.SourceDocument{}, nil, fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)
	title := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		abs, err := filepath.Abs(path)
		if err != nil {
			return ingest.SourceDocument{}, nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		res, err := parser.New().Parse("file://"+filepath.ToSlash(abs), data)
		if err != nil {
			return ingest.SourceDocument{}, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		text = res.Text
		if res.Title != "" {
			title = res.Title
		}
	}

	var pages []ingest.Page
	for _, part := range strings.Split(text, pageBreak) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		pages = append(pages, ingest.Page{Title: title, Text: part, Bytes: len(part)})
	}
	doc := ingest.SourceDocument{
		FileName:   filepath.ToSlash(path),
		SourceType: ingest.SourceFile,
		FileSize:   int64(len(data)),
		Status:     ingest.StatusNew,
	}
	return doc, pages, nil
}
