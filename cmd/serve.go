package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the submission workers until interrupted",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, rt, flagString(cmd, "metrics-addr"))
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("metrics-addr", "", "listen address for /metrics (default is metrics.addr)")
}

// serve runs the workers and, when configured, the metrics endpoint.
func serve(ctx context.Context, rt *runtime, addr string) error {
	if addr == "" {
		addr = rt.config.Metrics.Addr
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.orchestrator.Run(ctx)
	})

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			rt.logger.Info("serving metrics", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	rt.logger.Info("serving", zap.Int("pending_tickets", len(rt.orchestrator.ListPending())), zap.Int("active", rt.orchestrator.ActiveCount()))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	rt.logger.Info("stopped")
	return nil
}
