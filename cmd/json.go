package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/app"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// jobFile is the input of the 'json' subcommand. Labels may be given as a
// comma-separated string or a list.
type jobFile struct {
	URL                  string    `json:"url"`
	URLs                 []string  `json:"urls"`
	AllowedNodes         labelList `json:"allowed_nodes"`
	AllowedRelationships labelList `json:"allowed_relationships"`
	Model                string    `json:"model"`
	MaxURLs              int       `json:"max_urls"`
}

type labelList string

func (l *labelList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = labelList(strings.Join(list, ","))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("labels must be a string or a list of strings: %w", ingest.ErrValidation)
	}
	*l = labelList(s)
	return nil
}

func (j jobFile) urls() []string {
	if len(j.URLs) > 0 {
		return j.URLs
	}
	if j.URL != "" {
		return []string{j.URL}
	}
	return nil
}

func readJobFile(path string) (jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return jobFile{}, fmt.Errorf("read job file: %w", err)
	}
	var job jobFile
	if err := json.Unmarshal(data, &job); err != nil {
		return jobFile{}, fmt.Errorf("decode job file %s: %w: %w", path, ingest.ErrValidation, err)
	}
	if len(job.urls()) == 0 {
		return jobFile{}, fmt.Errorf("no urls found in %s: %w", path, ingest.ErrValidation)
	}
	return job, nil
}

// newJSONCmd creates the 'json' subcommand. A job with one URL is processed
// like 'url'; several URLs start a crawl.
func newJSONCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "json <file>",
		Short: "Processes the URLs listed in a JSON job file",
		Example: `  graphbuilder json job.json
  # job.json: {"urls": ["https://example.com"], "allowed_nodes": "Person,Place"}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readJobFile(args[0])
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if job.Model != "" {
				if cfg, cerr := resolveConfig(cmd.Context()); cerr == nil && cfg.Extraction.Model != job.Model {
					appInstance.Logger().Warn("job file model ignored; use --model or extraction.model",
						zap.String("job_model", job.Model),
						zap.String("model", cfg.Extraction.Model))
				}
			}
			opts, err := appInstance.ProcessOptions(string(job.AllowedNodes), string(job.AllowedRelationships))
			if err != nil {
				return err
			}

			urls := job.urls()
			if len(urls) == 1 {
				summaries, err := processURLs(cmd, appInstance, urls, opts)
				if werr := writeResult(cmd, root, map[string]any{"documents": summaries}); werr != nil {
					return werr
				}
				return err
			}
			res, err := appInstance.Crawl(cmd.Context(), app.CrawlRequest{URLs: urls, MaxURLs: job.MaxURLs, Options: opts})
			if werr := writeResult(cmd, root, res); werr != nil {
				return werr
			}
			if err != nil {
				return fmt.Errorf("run crawl: %w", err)
			}
			return nil
		},
	}
}
