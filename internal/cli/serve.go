package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	apphttp "budgetbuddy/internal/http"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/middleware/ratelimit"
)

const shutdownTimeout = 30 * time.Second

func (r *runner) serveCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := r.app
			logger := app.Logger.WithComponent(log.ComponentApp)
			if port == "" {
				port = app.Config.Port
			}

			srv, err := apphttp.NewServer(apphttp.Config{
				Addr:           ":" + port,
				Logger:         app.Logger,
				RateLimit:      ratelimit.DefaultConfig(),
				Ready:          app.Ready,
				TrustedProxies: app.Config.TrustedProxies,
			}, app.Budget, app.Guard)
			if err != nil {
				return err
			}

			ctx, done := GracefulShutdown(cmd.Context(), logger, shutdownTimeout, func(ctx context.Context) {
				if err := srv.Shutdown(ctx); err != nil {
					logger.Error("Server shutdown error", log.FieldError, err)
				}
			})

			if l := app.Listener(); l != nil {
				go func() {
					if err := l.Run(ctx); err != nil {
						logger.Error("Invalidation listener stopped", log.FieldError, err)
					}
				}()
			}

			logger.Info("Starting budgetbuddy server", "addr", srv.Addr, "api", app.Config.APIBaseURL,
				"storage", app.Config.StorageBackend)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				_ = srv.Shutdown(context.Background())
				return err
			}

			<-done
			logger.Info("Server stopped gracefully")
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default $PORT)")
	return cmd
}
