// Package cli implements the fleetql command line: the HTTP/MCP server and
// one-shot question and schema commands against the same pipeline.
package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/config"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
)

// options are the persistent flags shared by every command.
type options struct {
	version    string
	configPath string
	envFile    string
	noColor    bool
}

// Execute runs the root command.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{version: version}

	root := &cobra.Command{
		Use:           "fleetql",
		Short:         "Ask questions about the fleet database in plain English",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "optional YAML configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newAskCommand(opts))
	root.AddCommand(newSchemaCommand(opts))
	return root
}

// load reads the dotenv file (when present) and then the configuration.
// Variables already set in the environment win over the dotenv file.
func (o *options) load() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}
	return config.LoadFile(o.configPath, o.version)
}

// loadWithLogger is load plus a logger. An empty level uses the configured
// one.
func (o *options) loadWithLogger(level string) (*config.Config, *zap.Logger, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	if level == "" {
		level = cfg.LogLevel
	}
	logger, err := logging.NewLogger(cfg.Env, level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}
