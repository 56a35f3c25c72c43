// File: internal/service/components.go
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/mcp"
	"github.com/xkilldash9x/qlik-mcp/internal/observability"
	"github.com/xkilldash9x/qlik-mcp/internal/qlik"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
)

const shutdownTimeout = 30 * time.Second

// Components holds every initialized service and owns their shutdown.
type Components struct {
	Config   config.Interface
	Metrics  *observability.Metrics // nil when metrics are disabled
	Manager  *session.Manager
	Executor *session.Executor
	Qlik     *qlik.Service
	Monitor  *session.Monitor
	Server   *mcp.Server

	logger       *zap.Logger
	shutdownOnce sync.Once
}

// Run serves the command endpoint and runs the health monitor until ctx is
// cancelled or either of them fails. The session is stopped on return.
func (c *Components) Run(ctx context.Context) error {
	defer c.Shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Server.Start(gctx) })
	g.Go(func() error { return c.Monitor.Run(gctx) })
	return g.Wait()
}

// Shutdown stops the browser session. It is safe to call from several exit
// paths; only the first call does any work.
func (c *Components) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger := c.logger
		if logger == nil {
			logger = observability.GetLogger()
		}
		logger.Debug("Beginning components shutdown sequence.")

		if c.Manager != nil {
			// Separate context so shutdown completes even after the caller's
			// context was cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			c.Manager.Stop(ctx)
			logger.Debug("Session manager stopped.")
		}
		logger.Info("All components shut down.")
	})
}
