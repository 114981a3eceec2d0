package tool_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
	"github.com/nebula-assistant/agent-core/pkg/tool"
)

func TestExecutor_Invoke_RedactsBackendResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools/natal/export_full", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get("X-Request-Id"))
		assert.Equal(t, "user-1", r.Header.Get("X-User-Id"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"public": "ok",
			"token":  "abc",
			"nested": map[string]any{"api_key": "x", "value": 1},
		})
	}))
	defer srv.Close()

	exec, err := tool.NewExecutor(srv.URL)
	require.NoError(t, err)

	result, err := exec.Invoke(context.Background(), "req-1", "user-1", map[string]any{})
	require.NoError(t, err)

	encoded, err := json.Marshal(result.SafeJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"public":"ok","nested":{"value":1}}`, string(encoded))
}

func TestExecutor_Invoke_NilArgsCollapseToObject(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	exec, err := tool.NewExecutor(srv.URL)
	require.NoError(t, err)

	_, err = exec.Invoke(context.Background(), "req-1", "user-1", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, gotBody)
}

func TestExecutor_Invoke_ArrayArgsIsBadRequest(t *testing.T) {
	exec, err := tool.NewExecutor("http://example.invalid")
	require.NoError(t, err)

	_, err = exec.Invoke(context.Background(), "req-1", "user-1", []any{1, 2, 3})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindBadRequest, apiErr.Kind)
}

func TestExecutor_Invoke_NonOKStatusIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec, err := tool.NewExecutor(srv.URL)
	require.NoError(t, err)

	_, err = exec.Invoke(context.Background(), "req-1", "user-1", map[string]any{})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindUpstreamError, apiErr.Kind)
}
