package main

import (
	"context"

	"github.com/felixgeelhaar/proctor/internal/app"
	mcpserver "github.com/felixgeelhaar/proctor/internal/mcp"
)

// cmdMCP starts the MCP server on stdio
func cmdMCP() error {
	return withApp("mcp", func(ctx context.Context, a *app.App) error {
		// Cleanup tasks run in-process unless a broker carries them
		go a.RunLocalCleanup(ctx)

		srv := mcpserver.NewServer(mcpserver.Config{
			Service: a.Service,
			Catalog: a.Maps,
			Offline: mcpserver.OfflineDefaults{
				Depth:         a.Config.Offline.Depth,
				IncludeReview: a.Config.Offline.IncludeReview,
			},
			Version: Version,
		})
		return srv.ServeStdio(ctx)
	})
}
