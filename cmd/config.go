package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// newConfigCmd creates the 'config' subcommand, which prints the effective
// configuration as YAML with secrets redacted.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "config",
		Short:       "Prints the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Extraction.APIKey != "" {
				cfg.Extraction.APIKey = redacted
			}
			if cfg.Graph.DSN != "" {
				cfg.Graph.DSN = redacted
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
