// Package api wires the agent's HTTP surface: routing, auth, rate/concurrency
// enforcement, and the response envelope, on top of Echo v5.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/nebula-assistant/agent-core/pkg/agent"
	"github.com/nebula-assistant/agent-core/pkg/auth"
	"github.com/nebula-assistant/agent-core/pkg/config"
	"github.com/nebula-assistant/agent-core/pkg/database"
	"github.com/nebula-assistant/agent-core/pkg/export"
	"github.com/nebula-assistant/agent-core/pkg/ratelimit"
)

// Limits bundles every keyed limiter the gateway enforces, per spec §4.1.
type Limits struct {
	Chat     *ratelimit.Limiter
	Tool     *ratelimit.Limiter
	Export   *ratelimit.Limiter
	Artifact *ratelimit.Limiter
	GlobalIP *ratelimit.Limiter

	Concurrency *ratelimit.ConcurrencyLimiter
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg        *config.Config
	authn      *auth.Authenticator
	dbClient   *database.Client // nil when persistence is disabled
	router     *agent.Router
	exporter   *export.Exporter
	limits     Limits
	backendURL string // /health reports whether this is non-empty; the backend itself is not probed
}

// NewServer builds a Server with every dependency the routes need. Routes
// are registered immediately so ValidateWiring can be called right after.
func NewServer(
	cfg *config.Config,
	authn *auth.Authenticator,
	dbClient *database.Client,
	router *agent.Router,
	exporter *export.Exporter,
	limits Limits,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	s := &Server{
		echo:       e,
		cfg:        cfg,
		authn:      authn,
		dbClient:   dbClient,
		router:     router,
		exporter:   exporter,
		limits:     limits,
		backendURL: cfg.BackendURL,
	}

	s.setupRoutes()
	return s
}

// ValidateWiring checks that every dependency the handlers assume is
// non-nil, so a missing wiring mistake fails fast at startup instead of
// surfacing as a panic or 500 on the first request.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.authn == nil {
		errs = append(errs, fmt.Errorf("authenticator not set"))
	}
	if s.router == nil {
		errs = append(errs, fmt.Errorf("agent router not set"))
	}
	if s.exporter == nil {
		errs = append(errs, fmt.Errorf("exporter not set"))
	}
	if s.limits.Chat == nil || s.limits.Tool == nil || s.limits.Export == nil || s.limits.Artifact == nil || s.limits.GlobalIP == nil {
		errs = append(errs, fmt.Errorf("one or more rate limit buckets not set"))
	}
	if s.limits.Concurrency == nil {
		errs = append(errs, fmt.Errorf("concurrency limiter not set"))
	}
	if len(errs) == 0 {
		return nil
	}
	msg := "server wiring incomplete:"
	for _, e := range errs {
		msg += " " + e.Error() + ";"
	}
	return fmt.Errorf("%s", msg)
}

// setupRoutes registers every route from the routing table and the
// middleware chain each one runs behind.
func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(requestIDMiddleware())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/agent/status", s.statusHandler)

	s.echo.POST("/agent/chat", s.chatHandler,
		middleware.BodyLimit(64*1024),
		s.authMiddleware("agent:chat"),
		s.rateLimitMiddleware(s.limits.Chat),
		s.concurrencyMiddleware(),
	)

	s.echo.POST("/agent/tool", s.toolHandler,
		middleware.BodyLimit(16*1024),
		s.authMiddleware("agent:tool"),
		s.requireToolsAllowed(),
		s.rateLimitMiddleware(s.limits.Tool),
		s.concurrencyMiddleware(),
	)

	s.echo.POST("/agent/export", s.exportHandler,
		middleware.BodyLimit(64*1024),
		s.authMiddleware("agent:export"),
		s.requireExportAllowed(),
		s.rateLimitMiddleware(s.limits.Export),
	)

	// The artifact key itself contains "/" separators and is percent-encoded
	// in the retrieval URL (see export.Exporter.Export); net/http decodes
	// %2F back to a literal slash in URL.Path before routing, so a single
	// :key segment would never match a multi-segment key. A trailing
	// wildcard captures the whole already-decoded key in one param instead.
	s.echo.GET("/agent/artifacts/*", s.artifactHandler, s.rateLimitMiddleware(s.limits.Artifact))
}

// Handler returns the server's http.Handler, for use with httptest.NewServer
// in tests that need a real listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

const healthTimeout = 5 * time.Second
