// Package api is the HTTP transport: JSON batch submission and operation
// polling over echo.
//
// Routes:
//
//	POST /operations          submit a batch (202, or 200 for a replay)
//	GET  /operations          list operations, newest first
//	GET  /operations/stats    counts by status
//	GET  /operations/:id      one operation
//	GET  /model/snapshot      last refreshed graph snapshot
//	GET  /healthz             liveness plus store reachability
//	GET  /metrics             Prometheus exposition
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/graphwriter/internal/config"
	"github.com/roach88/graphwriter/internal/graph"
	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/queue"
	"github.com/roach88/graphwriter/internal/service"
)

// SnapshotReader serves cached graph snapshots.
type SnapshotReader interface {
	Snapshot(ref model.ModelRef) (graph.CachedSnapshot, bool)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server exposes. Snapshots, Health and
// Gatherer are optional; their routes answer 503 or are omitted when nil.
type Deps struct {
	Service   *service.Service
	Queue     *queue.Queue
	Snapshots SnapshotReader
	Health    Pinger
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// Server wraps the echo instance.
type Server struct {
	echo     *echo.Echo
	deps     Deps
	modelRef model.ModelRef
	logger   *slog.Logger
}

// New builds the router. Nothing listens until Start.
func New(cfg config.ServerConfig, ref model.ModelRef, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{echo: echo.New(), deps: deps, modelRef: ref, logger: logger}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	limit := middleware.BodyLimit(strconv.FormatInt(cfg.BodyLimit, 10))
	e.POST("/operations", s.submit, limit)
	e.GET("/operations", s.list)
	e.GET("/operations/stats", s.stats)
	e.GET("/operations/:id", s.status)
	e.GET("/model/snapshot", s.snapshot)
	e.GET("/healthz", s.healthz)
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the router for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type requestValidator struct {
	v *validator.Validate
}

// newRequestValidator reports fields by their JSON names.
func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (r *requestValidator) Validate(i any) error {
	return r.v.Struct(i)
}
