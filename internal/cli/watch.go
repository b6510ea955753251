package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/session"
	"github.com/GriffinCanCode/playground/internal/workspace"
)

// WatchOptions holds flags for the watch command
type WatchOptions struct {
	*RootOptions
	Debounce time.Duration
}

// NewWatchCommand creates the watch command
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Re-run a workspace whenever its files change",
		Long: `Load the workspace into a live session and forward every file change as
an edit. Each edit recompiles the changed file and re-runs the entry once
every file has compiled.

Example:
  playground watch ./examples/counter`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cmd, opts, dirArg(args))
		},
	}

	cmd.Flags().DurationVar(&opts.Debounce, "debounce", workspace.DefaultDebounce, "quiet period before changes are applied")
	return cmd
}

func watch(ctx context.Context, cmd *cobra.Command, opts *WatchOptions, dir string) error {
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

	watcher, err := workspace.NewWatcher(w, opts.Debounce, logger.Logger)
	if err != nil {
		return err
	}

	manager := session.NewManager(cfg, session.WithLogger(logger.Logger))
	defer manager.CloseAll()

	out := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.Format)
	s, err := startPrinting(manager, spec, out)
	if err != nil {
		return err
	}

	return watcher.Watch(ctx, func(changes workspace.Changes) {
		if len(changes.Support) > 0 {
			// prelude and vendor modules are fixed when a session is built
			next, err := restart(manager, w, s, out)
			if err != nil {
				logger.Error("Failed to restart session", zap.Strings("files", changes.Support), zap.Error(err))
				return
			}
			logger.Info("Session restarted", zap.Strings("files", changes.Support))
			s = next
			return
		}

		for _, name := range changes.Removed {
			logger.Warn("Removed file is still part of the session", zap.String("file", name))
		}
		if len(changes.Edited) > 0 {
			s.EditAll(changes.Edited)
		}
	})
}

// startPrinting starts a session and prints its events until it closes
func startPrinting(manager *session.Manager, spec session.Spec, out *printer) (*session.Session, error) {
	s, events, _, err := manager.Start(spec, 0)
	if err != nil {
		return nil, err
	}
	go func() {
		for event := range events {
			out.event(event)
		}
	}()
	return s, nil
}

// restart replaces old with a session built from the current workspace
// contents
func restart(manager *session.Manager, w *workspace.Workspace, old *session.Session, out *printer) (*session.Session, error) {
	files, err := workspace.LoadFiles(context.Background(), w.Dir, w.Manifest)
	if err != nil {
		return nil, err
	}
	for name := range files {
		if w.Manifest.IsSupport(name) {
			delete(files, name)
		}
	}
	w.Files = files

	spec, err := w.Spec()
	if err != nil {
		return nil, err
	}
	manager.Close(old.ID)
	return startPrinting(manager, spec, out)
}
