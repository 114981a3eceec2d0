package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/nebula-assistant/agent-core/pkg/agent"
	"github.com/nebula-assistant/agent-core/pkg/apierr"
	"github.com/nebula-assistant/agent-core/pkg/export"
)

// requestMeta builds the agent.RequestMeta the actor needs from the
// request-scoped values the auth and request-id middleware established,
// and stamps the synthetic downstream headers spec §4.8 specifies.
func requestMeta(c *echo.Context) agent.RequestMeta {
	ac := authFromContext(c)
	reqID := requestIDFromContext(c)

	h := c.Request().Header
	h.Set("X-Request-Id", reqID)
	h.Set("X-Origin", c.Request().Header.Get("Origin"))
	if ac != nil {
		h.Set("X-User-Id", ac.UserID)
		h.Set("X-Memory-Allowed", boolHeader(ac.MemoryAllowed))
		h.Set("X-Tools-Allowed", boolHeader(ac.ToolsAllowed))
		h.Set("X-Export-Allowed", boolHeader(ac.ExportAllowed))
	}

	meta := agent.RequestMeta{RequestID: reqID}
	if ac != nil {
		meta.UserID = ac.UserID
		meta.MemoryAllowedByToken = ac.MemoryAllowed
		meta.ToolsAllowed = ac.ToolsAllowed
	}
	return meta
}

func boolHeader(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// chatHandler handles POST /agent/chat.
func (s *Server) chatHandler(c *echo.Context) error {
	var req agent.ChatRequest
	if err := c.Bind(&req); err != nil {
		return mapAPIError(apierr.Wrap(apierr.KindBadRequest, "invalid request body", err))
	}

	meta := requestMeta(c)
	actor := s.router.Get(meta.UserID)

	result, err := actor.HandleChat(c.Request().Context(), meta, req)
	if err != nil {
		return mapAPIError(err)
	}
	return c.JSON(200, result)
}

// toolHandler handles POST /agent/tool.
func (s *Server) toolHandler(c *echo.Context) error {
	var req agent.ToolRequest
	if err := c.Bind(&req); err != nil {
		return mapAPIError(apierr.Wrap(apierr.KindBadRequest, "invalid request body", err))
	}

	meta := requestMeta(c)
	actor := s.router.Get(meta.UserID)

	result, err := actor.HandleTool(c.Request().Context(), meta, req)
	if err != nil {
		return mapAPIError(err)
	}
	return c.JSON(200, result)
}

// exportHandler handles POST /agent/export.
func (s *Server) exportHandler(c *echo.Context) error {
	var req export.Request
	if err := c.Bind(&req); err != nil {
		return mapAPIError(apierr.Wrap(apierr.KindBadRequest, "invalid request body", err))
	}

	ac := authFromContext(c)
	result, err := s.exporter.Export(c.Request().Context(), ac.UserID, req)
	if err != nil {
		return mapAPIError(err)
	}
	return c.JSON(200, result)
}

// artifactHandler handles GET /agent/artifacts/<key>. The key and the
// exp/sig query parameters are the sole authorization mechanism — no
// bearer token is required or checked here, per spec §4.7/§8.
func (s *Server) artifactHandler(c *echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return mapAPIError(apierr.New(apierr.KindBadRequest, "invalid artifact key"))
	}

	expStr := c.QueryParam("exp")
	sig := c.QueryParam("sig")
	exp, parseErr := parseExp(expStr)
	if parseErr != nil {
		return mapAPIError(apierr.New(apierr.KindBadRequest, "invalid or missing exp parameter"))
	}

	data, contentType, err := s.exporter.Retrieve(c.Request().Context(), key, exp, sig)
	if err != nil {
		return mapAPIError(err)
	}
	return c.Blob(200, contentType, data)
}

// statusHandler handles GET /agent/status, an unauthenticated liveness
// probe distinct from /health: it reports process-level facts only, never
// touching the database or any backend.
func (s *Server) statusHandler(c *echo.Context) error {
	return c.JSON(200, map[string]any{
		"status":      "ok",
		"activeUsers": s.router.Count(),
	})
}
