package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/proctor/internal/app"
	"github.com/felixgeelhaar/proctor/internal/daemon"
	"github.com/felixgeelhaar/proctor/internal/session"
)

// cmdServe runs the HTTP delivery API until interrupted
func cmdServe() error {
	return withApp("serve", func(ctx context.Context, a *app.App) error {
		go a.RunLocalCleanup(ctx)

		srv := daemon.NewServer(daemon.ServerConfig{
			Addr:    a.Config.Server.Addr(),
			Service: a.Service,
			Catalog: a.Maps,
			Offline: session.TableOptions{
				Depth:         a.Config.Offline.Depth,
				IncludeReview: a.Config.Offline.IncludeReview,
			},
			Version: Version,
			Logger:  slog.Default(),
		})

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		slog.Info("received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		slog.Info("server stopped gracefully")
		return nil
	})
}
