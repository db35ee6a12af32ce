package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/proctor/internal/app"
	"github.com/felixgeelhaar/proctor/internal/domain"
)

// cmdRestore rebuilds the state of the given executions from their backups.
// With --all every known execution is restored.
func cmdRestore(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: proctor restore <execution-id>... | --all")
	}

	return withApp("restore", func(ctx context.Context, a *app.App) error {
		ids := args
		if len(args) == 1 && args[0] == "--all" {
			all, err := a.Executions.List(ctx)
			if err != nil {
				return fmt.Errorf("list executions: %w", err)
			}
			ids = all
		}

		failed := 0
		for _, id := range ids {
			report, err := a.Service.Restore(ctx, id)
			switch {
			case errors.Is(err, domain.ErrRestorationImpossible):
				fmt.Printf("%s: cannot be restored (no core backup)\n", id)
				failed++
				continue
			case err != nil:
				fmt.Printf("%s: %v\n", id, err)
				failed++
				continue
			case report.AlreadyRestored:
				fmt.Printf("%s: already restored\n", id)
				continue
			}

			fmt.Printf("%s: restored %d state(s)\n", id, len(report.Restored))
			if len(report.Missing) > 0 {
				fmt.Printf("  missing: %s\n", strings.Join(report.Missing, ", "))
			}
			if len(report.Failed) > 0 {
				fmt.Printf("  failed:  %s\n", strings.Join(report.Failed, ", "))
				failed++
			}
		}

		// Let queued cleanup tasks run before the process exits
		a.DrainLocalCleanup(ctx)

		if failed > 0 {
			return fmt.Errorf("%d of %d restorations failed", failed, len(ids))
		}
		return nil
	})
}
