package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lawchat-gateway/internal/config"
	"lawchat-gateway/internal/metrics"
	"lawchat-gateway/internal/relay"
	"lawchat-gateway/internal/router"
	"lawchat-gateway/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg      config.Config
	router   *router.Router
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware. gatherer
// backs GET /metrics and may be nil to disable the endpoint.
func New(cfg config.Config, rt *router.Router, m *metrics.Metrics, gatherer prometheus.Gatherer) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = envelopeErrorHandler
	e.Validator = v

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:      cfg,
		router:   rt,
		metrics:  m,
		gatherer: gatherer,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the configured echo instance.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	// No WriteTimeout: answer streams stay open for as long as the upstream keeps sending.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/api/chat", s.handleChat)
	s.app.POST("/api/chat/stream", s.handleChatStream)
	if s.gatherer != nil {
		s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(c echo.Context) error {
	req, err := bindChatRequest(c)
	if err != nil {
		return err
	}

	ans, err := s.router.Answer(c.Request().Context(), req.TrimmedQuestion(), req.ToOptions())
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, translator.FromReconciled(ans))
}

func (s *Server) handleChatStream(c echo.Context) error {
	req, err := bindChatRequest(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	stream, err := s.router.OpenStream(ctx, req.TrimmedQuestion(), req.ToOptions())
	if err != nil {
		return toHTTPError(err)
	}

	w, err := relay.NewSSEWriter(c.Response(), s.metrics)
	if err != nil {
		_ = stream.Close()
		slog.Error("http writer does not support flushing", "err", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
		}
	}

	done := s.metrics.StreamStarted()
	defer done()

	kaCtx, stopKeepAlive := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.KeepAlive(kaCtx, s.cfg.Server.KeepAliveInterval)
	}()

	runErr := stream.Run(ctx, w)
	stopKeepAlive()
	wg.Wait()

	if runErr != nil {
		slog.Warn("answer stream ended with error",
			"stream_id", w.ID(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"err", runErr,
		)
	}
	if err := w.Close(); err != nil {
		slog.Debug("close answer stream", "stream_id", w.ID(), "err", err)
	}
	return nil
}

func bindChatRequest(c echo.Context) (translator.ChatRequest, error) {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return req, err
	}
	if err := c.Validate(&req); err != nil {
		return req, requestError{
			Status:  http.StatusBadRequest,
			Message: "question is required",
			Details: err.Error(),
		}
	}
	return req, nil
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "invalid JSON payload",
			Details: err.Error(),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

type bodyValidator struct {
	validate *validator.Validate
}

func (v *bodyValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

func newValidator() (*bodyValidator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, fmt.Errorf("register notblank validation: %w", err)
	}
	return &bodyValidator{validate: v}, nil
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("lawchat-gateway ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Println("  POST /api/chat")
	fmt.Println("  POST /api/chat/stream")
	fmt.Printf("Example:\n  curl http://%s:%d/api/chat -H 'Content-Type: application/json' -d '{\"question\":\"房東可以提前終止租約嗎？\",\"enableSearch\":true}'\n\n", host, port)
}
