package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/playground/internal/infrastructure/server"
	"github.com/GriffinCanCode/playground/internal/workspace"
)

// ServeOptions holds flags for the serve command
type ServeOptions struct {
	*RootOptions
	Host      string
	Port      string
	AssetsDir string
	Workspace string
}

// NewServeCommand creates the serve command
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the playground API server",
		Long: `Start the HTTP and WebSocket server hosting live playground sessions.
With --workspace a session is created from that directory at startup.

Example:
  playground serve --port 8000
  playground serve --workspace ./examples/counter`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "override listen host")
	cmd.Flags().StringVarP(&opts.Port, "port", "p", "", "override listen port")
	cmd.Flags().StringVar(&opts.AssetsDir, "assets", "", "directory served under /assets")
	cmd.Flags().StringVarP(&opts.Workspace, "workspace", "w", "", "workspace to open at startup")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, opts *ServeOptions) error {
	cfg := opts.config()
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != "" {
		cfg.Server.Port = opts.Port
	}
	if opts.AssetsDir != "" {
		cfg.Server.AssetsDir = opts.AssetsDir
	}

	var w *workspace.Workspace
	if opts.Workspace != "" {
		var err error
		if w, err = workspace.Load(ctx, opts.Workspace); err != nil {
			return err
		}
		if cfg.Server.AssetsDir == "" {
			cfg.Server.AssetsDir = w.AssetsDir()
		}
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}

	if w != nil {
		spec, err := w.Spec()
		if err != nil {
			return err
		}
		s, err := srv.Sessions().Create(spec)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s: /sessions/%s/stream\n", s.ID, s.ID)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Close(shutdown)
}
