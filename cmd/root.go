// Package cmd defines and implements the CLI commands for the graphbuilder executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/app"
	"github.com/JakeFAU/graphbuilder/internal/config"
	"github.com/JakeFAU/graphbuilder/internal/frontier"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/logging"
	"github.com/JakeFAU/graphbuilder/internal/processing"
)

// contextKey is the key type for values stored on the command context.
type contextKey string

const (
	appKey    contextKey = "app"
	configKey contextKey = "config"
)

// skipAppAnnotation marks commands that only need configuration.
const skipAppAnnotation = "graphbuilder/skip-app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	GraphStore() ingest.GraphStore
	Fetcher() ingest.Fetcher
	Statistics() frontier.Statistics
	Ready(ctx context.Context) error
	ProcessOptions(nodes, relationships string) (processing.Options, error)
	ProcessDocument(ctx context.Context, doc ingest.SourceDocument, pages []ingest.Page, opts processing.Options) (processing.Summary, error)
	Crawl(ctx context.Context, req app.CrawlRequest) (app.CrawlResult, error)
	LoadFrontier(ctx context.Context) error
	ResetFrontier(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile  string
	envFile  string
	logLevel string
	output   string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "graphbuilder",
		Short: "Builds a knowledge graph from web pages and documents.",
		Long: `graphbuilder crawls web pages or reads local documents, splits them into
linked chunks, extracts entities and relationships through an LLM service and
stores the resulting graph with per-batch progress checkpoints.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFiles(opts.envFile)...); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			if f := cmd.Flags().Lookup("model"); f != nil && f.Changed {
				cfg.Extraction.Model = f.Value.String()
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)

			if cmd.Annotations[skipAppAnnotation] != "true" {
				logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
				if err != nil {
					return err
				}
				zap.ReplaceGlobals(logger)
				appInstance, err := newApp(ctx, cfg, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before the config (default .env)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&opts.output, "output", "", "also write the JSON result to this file")

	cmd.AddCommand(
		newURLCmd(opts),
		newCrawlCmd(opts),
		newJSONCmd(opts),
		newFilesCmd(opts),
		newStatusCmd(opts),
		newCancelCmd(),
		newResetCrawlerCmd(),
		newConfigCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func envFiles(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// addTypeFlags registers the extraction filter flags shared by the intake commands.
func addTypeFlags(cmd *cobra.Command, nodes, relationships, model *string) {
	cmd.Flags().StringVar(nodes, "allowed-nodes", "", "comma-separated node labels to keep")
	cmd.Flags().StringVar(relationships, "allowed-relationships", "", "comma-separated relationship types to keep")
	cmd.Flags().StringVar(model, "model", "", "extraction model name")
}

// writeResult prints result as indented JSON and, when --output is set,
// writes it with a timestamp to that file.
func writeResult(cmd *cobra.Command, opts *rootOptions, result any) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(data)); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if opts == nil || opts.output == "" {
		return nil
	}
	stamped, err := json.MarshalIndent(struct {
		Timestamp time.Time `json:"timestamp"`
		Result    any       `json:"result"`
	}{Timestamp: time.Now().UTC(), Result: result}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(opts.output, stamped, 0o600); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
