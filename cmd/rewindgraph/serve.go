package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/rewindgraph/config"
	"github.com/dshills/rewindgraph/driver"
	"github.com/dshills/rewindgraph/graph/emit"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket driver and Prometheus metrics",
	Long: `Starts an HTTP server with:

  /ws       control messages (execute, get_history, rewind,
            update_and_continue, get_state) and streamed events
  /metrics  Prometheus metrics
  /healthz  liveness`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var (
		extra []emit.Sink
		tp    *sdktrace.TracerProvider
	)
	if cfg.Tracing {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return err
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		extra = append(extra, emit.NewOTelSink(tp.Tracer("rewindgraph")))
	}

	a, err := newApp(cfg, extra...)
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(context.Background())
		}
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error("failed to close store", "error", err)
		}
	}()

	var mw []gin.HandlerFunc
	if tp != nil {
		mw = append(mw, otelgin.Middleware("rewindgraph", otelgin.WithTracerProvider(tp)))
	}

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.router(mw...),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.catalog.Watch(gctx, a.logger.With("component", "catalog"))
	})
	g.Go(func() error {
		a.logger.Info("listening", "addr", a.cfg.Addr, "workflows", a.catalog.Names())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if tp != nil {
			err = errors.Join(err, tp.Shutdown(shutdownCtx))
		}
		return err
	})
	return g.Wait()
}

// router serves the websocket driver, Prometheus metrics and a liveness
// probe. mw runs after recovery and access logging.
func (a *app) router(mw ...gin.HandlerFunc) *gin.Engine {
	server := driver.NewServer(a.engine, a.hub, a.catalog,
		driver.WithLogger(a.logger.With("component", "driver")),
		driver.WithEventBuffer(a.cfg.EventBuffer),
	)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(a.logger.With("component", "http")))
	r.Use(mw...)
	r.GET("/ws", gin.WrapH(driver.NewHandler(server)))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

// accessLog logs one line per request. The websocket route logs when the
// connection closes.
func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
