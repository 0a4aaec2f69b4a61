package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultServeAddr = ":8080"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves metrics and the run API",
		Long: `Starts the operator HTTP server: health probes, Prometheus metrics and
read-only run progress from the journal. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runServeCommand,
	}
	cmd.Flags().String("addr", defaultServeAddr, "listen address")
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	addr := appInstance.Config().Server.Addr
	if addr == "" {
		addr = defaultServeAddr
	}
	handler, err := appInstance.Handler()
	if err != nil {
		return err
	}
	return <-startServer(cmd.Context(), addr, handler, appInstance.Logger())
}

// startServer listens on addr until ctx is done, then shuts down gracefully.
// The returned channel yields the terminal error, or nil, exactly once.
func startServer(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) <-chan error {
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make(chan error, 1)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		done <- fmt.Errorf("listen on %s: %w", addr, err)
		return done
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		serveErr <- srv.Serve(ln)
	}()

	go func() {
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			done <- err
			return
		case <-ctx.Done():
		}
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) && err == nil {
			err = serr
		}
		if err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		done <- err
	}()
	return done
}
