package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/proctor/internal/app"
	"github.com/felixgeelhaar/proctor/internal/queue"
)

// cmdWorker consumes backup cleanup tasks until interrupted
func cmdWorker() error {
	return withApp("worker", func(ctx context.Context, a *app.App) error {
		if a.Conn == nil {
			return fmt.Errorf("worker needs the rabbitmq queue driver (local cleanup runs inside proctor mcp)")
		}

		consumer := queue.NewConsumer(a.Conn, a.Cleanup, a.Config.Queue.Consumer)
		if err := consumer.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		slog.Info("received signal, shutting down")
		consumer.Stop()
		return nil
	})
}
