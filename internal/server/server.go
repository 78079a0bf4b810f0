package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hf-gateway/internal/apierr"
	"hf-gateway/internal/config"
	"hf-gateway/internal/gateway"
	"hf-gateway/internal/metrics"
	"hf-gateway/internal/models"
	"hf-gateway/internal/provider"
	"hf-gateway/internal/stream"
)

const (
	serviceName         = "hf-gateway"
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	writeTimeoutSlack   = 15 * time.Second
	unmatchedRoute      = "unmatched"
)

type Server struct {
	cfg     config.Config
	gateway *gateway.Gateway
	errors  *apierr.Mapper
	app     *echo.Echo
	version string
	routes  map[string]bool
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, gw *gateway.Gateway, mapper *apierr.Mapper, version string) (*Server, error) {
	if gw == nil {
		return nil, errors.New("gateway must not be nil")
	}
	if mapper == nil {
		return nil, errors.New("error mapper must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		cfg:     cfg,
		gateway: gw,
		errors:  mapper,
		app:     e,
		version: version,
		routes:  make(map[string]bool),
	}
	e.HTTPErrorHandler = srv.handleError

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			path := srv.routeLabel(c)
			metrics.RequestsTotal.WithLabelValues(path, strconv.Itoa(v.Status)).Inc()
			metrics.RequestDuration.WithLabelValues(path).Observe(v.Latency.Seconds())

			slog.Info("request",
				"request_id", v.RequestID,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
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
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	address := s.cfg.Server.Address()
	printStartupBanner(address, s.cfg.Server.APIPrefix)
	slog.Info("starting server", "addr", address, "upstream", s.cfg.Upstream.BaseURL)

	// Streams may legitimately run for the whole request budget.
	httpServer := &http.Server{
		Addr:         address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: s.cfg.Upstream.Timeout + writeTimeoutSlack,
		IdleTimeout:  idleTimeout,
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
	s.app.GET("/", s.handleRoot)
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.app.Group(s.cfg.Server.APIPrefix)
	api.POST("/chat/completions", s.handleChatCompletions)
	api.GET("/models", s.handleModels)

	for _, r := range s.app.Routes() {
		s.routes[r.Path] = true
	}
}

// routeLabel keeps metric cardinality bounded to registered routes.
func (s *Server) routeLabel(c echo.Context) string {
	if p := c.Path(); s.routes[p] {
		return p
	}
	return unmatchedRoute
}

func (s *Server) handleRoot(c echo.Context) error {
	prefix := s.cfg.Server.APIPrefix
	return c.JSON(http.StatusOK, map[string]any{
		"name":    serviceName,
		"version": s.version,
		"endpoints": map[string]string{
			"chat_completions": prefix + "/chat/completions",
			"models":           prefix + "/models",
			"health":           "/health",
			"metrics":          "/metrics",
		},
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleModels(c echo.Context) error {
	list := s.gateway.ListModels(c.Request().Context(), bearerCredential(c.Request()))
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req models.ClientRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	cred := bearerCredential(c.Request())
	if req.Stream {
		return s.streamChatCompletions(c, req, cred)
	}

	resp, err := s.gateway.Chat(c.Request().Context(), req, cred)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// streamChatCompletions relays a re-framed stream. Failures before the
// upstream accepted the call are rendered as a normal error response;
// after that the stream itself carries the failure and always ends with
// the terminator.
func (s *Server) streamChatCompletions(c echo.Context, req models.ClientRequest, cred provider.Credential) error {
	reqID := requestID(c)

	st, err := s.gateway.ChatStream(c.Request().Context(), req, cred, s.errors.StreamReporter(reqID))
	if err != nil {
		return err
	}
	defer st.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	frames, err := stream.Copy(c.Response(), st)
	if err != nil {
		slog.Debug("stream relay ended early",
			"request_id", reqID,
			"stream_id", st.ID(),
			"frames", frames,
			"error", err,
		)
	}
	return nil
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, models.ErrInvalidRequest):
			return err
		case errors.As(err, &tooLarge):
			return &apierr.RequestError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				Code:    "request_too_large",
			}
		case errors.Is(err, io.EOF):
			return &apierr.RequestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
			}
		default:
			return &apierr.RequestError{
				Status:  http.StatusBadRequest,
				Message: fmt.Sprintf("invalid JSON payload: %v", err),
			}
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return &apierr.RequestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

// bearerCredential returns the caller's own upstream token, if any.
func bearerCredential(r *http.Request) provider.Credential {
	auth := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return provider.Credential(strings.TrimSpace(token))
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		err = &apierr.RequestError{
			Status:  he.Code,
			Message: fmt.Sprint(he.Message),
			Code:    httpErrorCode(he.Code),
		}
	}

	status, envelope := s.errors.Map(requestID(c), err)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, envelope)
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	default:
		return ""
	}
}

func printStartupBanner(address, prefix string) {
	fmt.Println()
	fmt.Println("hf-gateway ready")
	fmt.Printf("Listening on http://%s\n", address)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Printf("  GET  %s/models\n", prefix)
	fmt.Printf("  POST %s/chat/completions\n", prefix)
	fmt.Printf("OpenAI-style example:\n  curl http://%s%s/chat/completions -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", address, prefix)
}
