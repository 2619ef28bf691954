// Package api exposes the controller over REST. Execution endpoints wrap
// the dispatcher, pipeline engine, and convergence helper; control-plane
// endpoints proxy node and container operations.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/openconduit/openconduit/pkg/config"
	"github.com/openconduit/openconduit/pkg/converge"
	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/pipeline"
	"github.com/openconduit/openconduit/pkg/telemetry"
	"github.com/openconduit/openconduit/pkg/transports/virt"
)

// Config holds the HTTP server settings.
type Config struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig listens on all interfaces, port 8080.
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}
}

// Server is the REST front end of the controller.
type Server struct {
	echo       *echo.Echo
	cfg        Config
	defaults   *config.Defaults
	dispatcher *dispatch.Dispatcher
	pipelines  *pipeline.Engine
	converger  *converge.Converger
	tel        *telemetry.Telemetry
	validate   *validator.Validate
	logger     *telemetry.Logger

	// virtClient is created lazily; the control plane may not be configured.
	virtClient func() (*virt.Client, error)
}

// New creates the API server.
func New(cfg Config, defaults *config.Defaults, dispatcher *dispatch.Dispatcher, tel *telemetry.Telemetry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler

	s := &Server{
		echo:       e,
		cfg:        cfg,
		defaults:   defaults,
		dispatcher: dispatcher,
		pipelines:  pipeline.NewEngine(dispatcher, tel),
		converger:  converge.New(tel),
		tel:        tel,
		validate:   validator.New(),
		logger:     tel.Logger.NewComponentLogger("api"),
	}
	s.virtClient = func() (*virt.Client, error) {
		return virt.NewClient(defaults.Virt)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Zerolog().Info().
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(s.tel.Metrics.Handler()))

	v1 := s.echo.Group("/v1")

	v1.GET("/nodes", s.listNodes)
	v1.GET("/containers", s.listContainers)
	v1.POST("/containers", s.createContainer)
	v1.POST("/containers/:vmid/start", s.startContainer)
	v1.POST("/containers/:vmid/stop", s.stopContainer)

	v1.POST("/exec", s.execContainer)
	v1.POST("/ssh/run", s.sshRun)
	v1.POST("/bridge/run", s.bridgeRun)
	v1.POST("/deploy", s.deploy)
	v1.POST("/converge", s.convergeModels)
	v1.POST("/gpus/select", s.selectGPU)
	v1.POST("/files/upload", s.uploadFile)
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Infof("listening on %s", addr)

	s.echo.Server.ReadTimeout = s.cfg.ReadTimeout
	s.echo.Server.WriteTimeout = s.cfg.WriteTimeout

	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": s.tel.Config.ServiceName,
		"version": s.tel.Config.ServiceVersion,
	})
}

// bind decodes and validates a JSON payload.
func (s *Server) bind(c echo.Context, payload interface{}) error {
	if err := c.Bind(payload); err != nil {
		return BadRequestError("malformed request body", err.Error())
	}
	if err := s.validate.Struct(payload); err != nil {
		return BadRequestError("request failed validation", err.Error())
	}
	return nil
}
