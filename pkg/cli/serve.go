package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/handlers"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/mcp"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/middleware"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadWithLogger("")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := Build(ctx, cfg, logger)
			if err != nil {
				logger.Error("Startup failed", zap.Error(err))
				return err
			}
			defer app.Close()

			return serve(ctx, app, logger)
		},
	}
}

// NewMux registers every HTTP and MCP route for app.
func NewMux(app *App, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(app.Config, app.Pool, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(app.Chat, app.Sessions, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(app.Catalog, app.Rules, logger).RegisterRoutes(mux)
	handlers.NewStatsHandler(handlers.StatsSources{
		Pool:     app.Pool,
		Monitor:  app.Executor.Monitor(),
		Oracle:   app.Oracle,
		Sessions: app.Sessions,
	}, logger).RegisterRoutes(mux)

	mcpServer := mcp.NewServer("fleetql", app.Config.Version, mcp.NewAuditLogger(logger), logger)
	tools.RegisterHealthTool(mcpServer.MCP(), app.Config.Version, app.Catalog)
	tools.RegisterChatTools(mcpServer.MCP(), &tools.ChatToolDeps{
		Chat:     app.Chat,
		Sessions: app.Sessions,
		Logger:   logger,
	})
	tools.RegisterSchemaTools(mcpServer.MCP(), &tools.SchemaToolDeps{
		Catalog: app.Catalog,
		Rules:   app.Rules,
		Logger:  logger,
	})
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)

	return mux
}

func serve(ctx context.Context, app *App, logger *zap.Logger) error {
	cfg := app.Config
	var handler http.Handler = NewMux(app, logger)
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.Recover(logger)(handler)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting fleetql",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version),
			zap.String("env", cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
