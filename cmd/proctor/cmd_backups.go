package main

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/app"
)

// cmdBackups lists the state backups a restore would read for a user
func cmdBackups(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: proctor backups <user-id>")
	}
	userID := args[0]

	return withApp("backups", func(ctx context.Context, a *app.App) error {
		keys, err := a.Backups.Keys(ctx, userID)
		if err != nil {
			return fmt.Errorf("list backups: %w", err)
		}
		if len(keys) == 0 {
			fmt.Printf("No backups for %s\n", userID)
			return nil
		}
		fmt.Printf("Backups for %s:\n", userID)
		for _, k := range keys {
			fmt.Printf("  %s\n", k)
		}
		return nil
	})
}
