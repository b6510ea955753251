package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/playground/internal/pipeline"
	"github.com/GriffinCanCode/playground/internal/session"
	"github.com/GriffinCanCode/playground/internal/workspace"
)

var (
	ErrRunFailed     = errors.New("run failed")
	ErrCompileFailed = errors.New("compilation failed")
	ErrRunTimeout    = errors.New("timed out waiting for the run")
)

// RunOptions holds flags for the run command
type RunOptions struct {
	*RootOptions
	Timeout time.Duration
}

// NewRunCommand creates the run command
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [dir]",
		Short: "Compile and run a workspace once",
		Long: `Compile every file of the workspace, run the entry module once and print
its console output. Exits non-zero on a compiler or runtime error.

Example:
  playground run ./examples/counter
  playground run --format json .`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts, dirArg(args))
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for compilation and the run")
	return cmd
}

func runOnce(cmd *cobra.Command, opts *RunOptions, dir string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	cfg := opts.config()
	logger, err := opts.logger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	w, err := workspace.Load(ctx, dir)
	if err != nil {
		return err
	}
	spec, err := w.Spec()
	if err != nil {
		return err
	}

	manager := session.NewManager(cfg, session.WithLogger(logger.Logger))
	defer manager.CloseAll()

	_, events, unsubscribe, err := manager.Start(spec, 0)
	if err != nil {
		return err
	}
	defer unsubscribe()

	out := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.Format)
	for {
		select {
		case <-ctx.Done():
			return ErrRunTimeout
		case event, ok := <-events:
			if !ok {
				return ErrRunTimeout
			}
			out.event(event)

			switch {
			case event.Type == pipeline.EventComplete:
				return nil
			case event.Type == pipeline.EventError:
				return fmt.Errorf("%w: %s", ErrRunFailed, event.Error.Description)
			case event.Type == pipeline.EventCompilerError && event.Error != nil:
				return fmt.Errorf("%w: %s", ErrCompileFailed, event.Filename)
			}
		}
	}
}

func dirArg(args []string) string {
	if len(args) == 0 {
		return "."
	}
	return args[0]
}
