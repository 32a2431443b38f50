package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// newStatusCmd creates the 'status' subcommand. Without --file-name it lists
// every document alongside the frontier statistics.
func newStatusCmd(root *rootOptions) *cobra.Command {
	var fileName string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Shows document progress and frontier statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store := appInstance.GraphStore()
			if fileName != "" {
				doc, err := store.GetDocument(cmd.Context(), fileName)
				if err != nil {
					return fmt.Errorf("get document %s: %w", fileName, err)
				}
				return writeResult(cmd, root, doc)
			}

			docs, err := store.ListDocuments(cmd.Context())
			if err != nil {
				return fmt.Errorf("list documents: %w", err)
			}
			if err := appInstance.LoadFrontier(cmd.Context()); err != nil {
				appInstance.Logger().Warn("frontier state unavailable", zap.Error(err))
			}
			return writeResult(cmd, root, map[string]any{
				"documents": docs,
				"frontier":  appInstance.Statistics(),
			})
		},
	}
	cmd.Flags().StringVar(&fileName, "file-name", "", "show a single document")
	return cmd
}

// newCancelCmd creates the 'cancel' subcommand. A running document job stops
// at its next batch boundary.
func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <file-name>",
		Short: "Requests cancellation of a document job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store := appInstance.GraphStore()
			state, err := store.GetDocumentStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get document status: %w", err)
			}
			if state.Status.Terminal() {
				return fmt.Errorf("document %s is already %s: %w", args[0], state.Status, ingest.ErrValidation)
			}
			if err := store.SetCancelled(cmd.Context(), args[0], true); err != nil {
				return fmt.Errorf("cancel document: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

// newResetCrawlerCmd creates the 'reset-crawler' subcommand.
func newResetCrawlerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-crawler",
		Short: "Clears the visited and processed URL sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.ResetFrontier(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "crawler state reset")
			return nil
		},
	}
}
