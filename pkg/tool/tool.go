// Package tool implements the single sandboxed tool the actor is allowed to
// call: natal_export_full. Invocation is schema-checked, forwarded to an
// external ephemeris backend over HTTP with a hard timeout, and the
// response is deep-redacted before it ever reaches a client or a memory
// row.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
)

// Name is the one tool name the allow-list recognizes.
const Name = "natal_export_full"

// CallTimeout bounds the HTTP call to the ephemeris backend, per spec §4.6/§5.
const CallTimeout = 8 * time.Second

// Result is the sanitized outcome of a tool invocation.
type Result struct {
	SafeJSON any
}

// Executor validates, forwards, and redacts natal_export_full calls.
type Executor struct {
	backendURL string
	httpClient *http.Client
	argsSchema *jsonschema.Schema
}

// NewExecutor builds an Executor targeting backendURL (the natal/ephemeris
// service's base URL, e.g. "https://backend.internal").
func NewExecutor(backendURL string) (*Executor, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("natal_export_full_args.json", map[string]any{"type": "object"}); err != nil {
		return nil, fmt.Errorf("add args schema resource: %w", err)
	}
	schema, err := c.Compile("natal_export_full_args.json")
	if err != nil {
		return nil, fmt.Errorf("compile args schema: %w", err)
	}

	return &Executor{
		backendURL: backendURL,
		httpClient: &http.Client{Timeout: CallTimeout},
		argsSchema: schema,
	}, nil
}

// Invoke validates args, calls the backend, and returns the redacted result.
// A nil args collapses to an empty object; anything that is not a JSON
// object (after that collapse) is a bad_request.
func (e *Executor) Invoke(ctx context.Context, requestID, userID string, args any) (*Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := e.argsSchema.Validate(args); err != nil {
		return nil, apierr.Wrap(apierr.KindBadRequest, "tool arguments must be a JSON object", err)
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "marshal tool arguments", err)
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.backendURL+"/tools/natal/export_full", bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "build tool backend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("X-User-Id", userID)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Wrap(apierr.KindUpstreamTimeout, "tool backend call timed out", err)
		}
		return nil, apierr.Wrap(apierr.KindUpstreamError, "tool backend call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, apierr.New(apierr.KindUpstreamError, fmt.Sprintf("tool backend returned HTTP %d", resp.StatusCode))
	}

	var parsed any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apierr.Wrap(apierr.KindUpstreamError, "decode tool backend response", err)
	}

	return &Result{SafeJSON: RedactDeep(parsed)}, nil
}
