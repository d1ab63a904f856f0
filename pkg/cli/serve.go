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

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/server"
	"github.com/m-mizutani/prism/pkg/service/mcp"
	"github.com/m-mizutani/prism/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	var (
		cfg  config
		rc   runConfig
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address of the HTTP API",
			Value:       ":8003",
			Sources:     cli.EnvVars("PRISM_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, runFlags(&rc)...)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the pipeline HTTP API and the MCP endpoint at /mcp",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			logger := logging.From(ctx)

			a, err := cfg.newApp(ctx, &rc)
			if err != nil {
				return err
			}
			defer a.Close()

			gin.SetMode(gin.ReleaseMode)
			router := server.New(a.uc, server.WithVersion(Version)).SetupRouter()
			router.Any("/mcp", gin.WrapH(mcp.New(a.uc, a.allocator, Version).HTTPHandler()))

			baseCtx := ctx
			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(_ net.Listener) context.Context { return baseCtx },
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				logger.Info("starting server", "addr", addr, "max_concurrency", a.registry.MaxConcurrency())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "http server failed", goerr.V("addr", addr))
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down server")

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("failed to shutdown http server", "error", err)
				}
				if err := a.registry.Shutdown(shutdownCtx); err != nil {
					logger.Warn("pipeline jobs still running at shutdown", "error", err)
				}
				return nil
			})

			return eg.Wait()
		},
	}
}
