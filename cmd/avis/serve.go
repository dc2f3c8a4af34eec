package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/avis/notices"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		addr     string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run on a schedule and expose the status routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if interval > 0 {
				cfg.Scheduler.Interval = interval
			}

			svc, err := notices.New(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := signalContext()
			defer cancel()

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           svc.Handler(ctx),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("serve: status routes listening", "addr", cfg.HTTP.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			done := make(chan struct{})
			go func() {
				svc.Schedule(ctx)
				close(done)
			}()

			select {
			case <-ctx.Done():
			case err = <-errCh:
				cancel()
			}
			shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
			defer stop()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("serve: shutdown", "error", serr)
			}
			<-done
			logger.Info("serve: stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "status listen address (default :8086)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between runs (default 30m)")
	return cmd
}

func serveMCP(ctx context.Context, svc *notices.Service) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "avis", Version: version}, nil)
	svc.RegisterMCP(srv)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !isShutdown(ctx, err) {
		return err
	}
	return nil
}
