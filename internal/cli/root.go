package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	Verbose  bool
	LogLevel string
	Format   string // "text" | "json"
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the playground command
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "playground",
		Short: "Live JavaScript and TypeScript playground",
		Long: `Compile and run a directory of JSX and TypeScript modules the way the
live playground does: every file is transformed by a worker pool, then the
entry module is evaluated in a sandbox with CommonJS require semantics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// config loads the environment configuration with flag overrides applied
func (o *RootOptions) config() *config.Config {
	cfg := config.LoadOrDefault()
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	return cfg
}

// logger writes to stderr so command output stays parseable. Without
// --verbose or --log-level the CLI stays quiet.
func (o *RootOptions) logger(cfg *config.Config) (*logging.Logger, error) {
	if !o.Verbose && o.LogLevel == "" {
		return logging.NewNop(), nil
	}
	logCfg := logging.DevelopmentConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	return logging.New(logCfg)
}
