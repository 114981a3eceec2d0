package api

import (
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
)

// errorEnvelope is the JSON body of every non-2xx response.
type errorEnvelope struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId"`
}

// mapAPIError converts any error returned by a handler into the *apierr.Error
// taxonomy (defaulting unrecognized errors to KindInternal) and renders it,
// in one place, as an echo.HTTPError carrying the full envelope as its
// Message — errorHandler below does the final JSON write.
func mapAPIError(err error) error {
	apiErr, ok := apierr.As(err)
	if !ok {
		slog.Error("unmapped handler error", "error", err)
		apiErr = apierr.New(apierr.KindInternal, "internal error")
	}
	return echo.NewHTTPError(apiErr.Status(), apiErr)
}

// errorHandler is installed as the Echo instance's HTTPErrorHandler so that
// every error, whether it started as an *apierr.Error or came from Echo
// itself (404, body-too-large, bind failure), is rendered through the same
// envelope and carries the request id and, for rate limiting, retry-after.
func errorHandler(err error, c *echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	var apiErr *apierr.Error

	var httpErr *echo.HTTPError
	if asHTTPErr(err, &httpErr) {
		status = httpErr.Code
		if inner, ok := httpErr.Message.(*apierr.Error); ok {
			apiErr = inner
		}
	}
	if apiErr == nil {
		if e, ok := apierr.As(err); ok {
			apiErr = e
			status = e.Status()
		} else {
			apiErr = apierr.New(kindForStatus(status), genericMessage(status))
		}
	}

	if apiErr.Kind == apierr.KindRateLimited && apiErr.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(apiErr.RetryAfter.Seconds())))
	}

	body := errorEnvelope{
		Error:     apiErr.Message,
		Code:      string(apiErr.Kind),
		RequestID: requestIDFromContext(c),
	}

	if writeErr := c.JSON(status, body); writeErr != nil {
		slog.Error("failed to write error response", "error", writeErr)
	}
}

func asHTTPErr(err error, target **echo.HTTPError) bool {
	if he, ok := err.(*echo.HTTPError); ok {
		*target = he
		return true
	}
	return false
}

// kindForStatus maps a bare HTTP status (one Echo produced on its own, with
// no *apierr.Error attached — 404 route-not-found, 405 method-not-allowed,
// 413 body-too-large) back to the wire code spec §4.9 requires for it, so
// the JSON body's code always agrees with the response status.
func kindForStatus(status int) apierr.Kind {
	switch status {
	case http.StatusNotFound:
		return apierr.KindNotFound
	case http.StatusMethodNotAllowed:
		return apierr.KindMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		return apierr.KindPayloadTooLarge
	default:
		return apierr.KindInternal
	}
}

func genericMessage(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not found"
	case http.StatusMethodNotAllowed:
		return "method not allowed"
	case http.StatusRequestEntityTooLarge:
		return "request body too large"
	default:
		return "internal error"
	}
}
