package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/api"
	"github.com/JakeFAU/graphbuilder/internal/app"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API until
// SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if port <= 0 {
				port = cfg.Server.Port
			}
			ctx := cmd.Context()
			logger := appInstance.Logger()

			apiServer := newAPIServer(ctx, appInstance)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.Int("port", port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Info("shutdown initiated")
			case serveErr = <-errCh:
				logger.Error("http server error", zap.Error(serveErr))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			apiServer.Wait()
			logger.Info("shutdown complete")
			return serveErr
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}

// newAPIServer wires the HTTP API to the app. Crawls submitted over HTTP run
// on ctx, so they stop when the server shuts down.
func newAPIServer(ctx context.Context, appInstance App) *api.Server {
	return api.NewServer(appInstance.GraphStore(),
		api.WithLogger(appInstance.Logger().Named("api")),
		api.WithFrontier(appInstance),
		api.WithReadiness(appInstance.Ready),
		api.WithCrawler(ctx, func(ctx context.Context, req api.CrawlRequest) error {
			opts, err := appInstance.ProcessOptions(req.AllowedNodes, req.AllowedRelationships)
			if err != nil {
				return err
			}
			res, err := appInstance.Crawl(ctx, app.CrawlRequest{
				URLs:       req.URLs,
				MaxURLs:    req.MaxURLs,
				MaxWorkers: req.MaxWorkers,
				Options:    opts,
			})
			appInstance.Logger().Info("api crawl finished",
				zap.Int("processed", res.Stats.Processed),
				zap.Int("failed", res.Stats.Failed),
				zap.Int("documents", len(res.Documents)))
			return err
		}),
	)
}
