package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-assistant/agent-core/pkg/agent"
	"github.com/nebula-assistant/agent-core/pkg/api"
	"github.com/nebula-assistant/agent-core/pkg/auth"
	"github.com/nebula-assistant/agent-core/pkg/config"
	"github.com/nebula-assistant/agent-core/pkg/database"
	"github.com/nebula-assistant/agent-core/pkg/export"
	"github.com/nebula-assistant/agent-core/pkg/llm"
	"github.com/nebula-assistant/agent-core/pkg/memory"
	"github.com/nebula-assistant/agent-core/pkg/ratelimit"
	"github.com/nebula-assistant/agent-core/pkg/tool"
)

const testSecret = "api-test-shared-secret"

type stubMessagesClient struct{ reply string }

func (s *stubMessagesClient) New(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	return &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: s.reply}}}, nil
}

type noopStore struct{}

func (noopStore) ListPinnedMemories(ctx context.Context, userID string, types []string, limit int) ([]database.Memory, error) {
	return nil, nil
}
func (noopStore) GetMemoriesByIDs(ctx context.Context, userID string, ids []string) ([]database.Memory, error) {
	return nil, nil
}
func (noopStore) AppendMemoryEvent(ctx context.Context, e database.MemoryEvent) error { return nil }
func (noopStore) ListRecentTurns(ctx context.Context, userID, threadID string, limit int) ([]database.Turn, error) {
	return nil, nil
}
func (noopStore) InsertTurn(ctx context.Context, t database.Turn) error { return nil }
func (noopStore) PruneTurns(ctx context.Context, userID, threadID string, maxTurns int) error {
	return nil
}
func (noopStore) InsertMemory(ctx context.Context, m database.Memory) error { return nil }
func (noopStore) PruneMemories(ctx context.Context, userID string, maxMemories int) error {
	return nil
}
func (noopStore) InsertToolAudit(ctx context.Context, a database.ToolAudit) error { return nil }
func (noopStore) SaveActorState(ctx context.Context, userID string, turnCount int64, workingMemoryJSON string) error {
	return nil
}
func (noopStore) LoadActorState(ctx context.Context, userID string) (*database.ActorStateRow, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *config.Config) {
	t.Helper()

	cfg := &config.Config{
		Env:              "development",
		OriginURL:        "https://agent.example.com",
		HMACSigningKey:   []byte("artifact-secret"),
		ConcurrencyLimit: 4,
		RateLimits: config.RateLimits{
			ChatPerMinute: 2, ToolPerMinute: 20, ExportPerMinute: 20,
			ArtifactPerMinute: 60, GlobalIPPerMinute: 1000,
		},
	}

	authn, err := auth.New(auth.Config{SharedSecret: []byte(testSecret)})
	require.NoError(t, err)

	store := noopStore{}
	recaller := memory.NewRecaller(store, nil, nil)
	chatClient := llm.NewChatClient(&stubMessagesClient{reply: "hi there"}, "claude-test", 128)
	toolExec, err := tool.NewExecutor("http://example.invalid")
	require.NoError(t, err)

	router := agent.NewRouter(func(userID string) *agent.Actor {
		return agent.NewActor(userID, store, recaller, chatClient, nil, nil, toolExec)
	})

	exporter := export.NewExporter(export.NewMemoryObjectStore(), cfg.HMACSigningKey, cfg.OriginURL)

	limits := api.Limits{
		Chat:        ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.ChatPerMinute)),
		Tool:        ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.ToolPerMinute)),
		Export:      ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.ExportPerMinute)),
		Artifact:    ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.ArtifactPerMinute)),
		GlobalIP:    ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.GlobalIPPerMinute)),
		Concurrency: ratelimit.NewConcurrencyLimiter(),
	}

	server := api.NewServer(cfg, authn, nil, router, exporter, limits)
	require.NoError(t, server.ValidateWiring())

	return httptest.NewServer(server.Handler()), cfg
}

func signToken(t *testing.T, sub string, scopes []string, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"aud": "agent-worker",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = scopes
	}
	for k, v := range extra {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, method, url, bearer, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/agent/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChat_MissingTokenIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/agent/chat", "", `{"message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestChat_MissingScopeIsForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	tok := signToken(t, "user-1", []string{"agent:tool"}, nil)
	resp := doJSON(t, http.MethodPost, srv.URL+"/agent/chat", tok, `{"message":"hi"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChat_ValidTokenSucceeds(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	tok := signToken(t, "user-1", []string{"agent:chat"}, nil)
	resp := doJSON(t, http.MethodPost, srv.URL+"/agent/chat", tok, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTool_ForbiddenWhenTokenDisallowsTools(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	tok := signToken(t, "user-1", []string{"agent:tool"}, jwt.MapClaims{"tools": false})
	resp := doJSON(t, http.MethodPost, srv.URL+"/agent/tool", tok, `{"name":"natal_export_full"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExportThenRetrieveArtifact_NoAuthOnRetrieval(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	tok := signToken(t, "user-1", []string{"agent:export"}, nil)
	resp := doJSON(t, http.MethodPost, srv.URL+"/agent/export", tok, `{"title":"t","safe_json":{"a":1}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		URL string `json:"url"`
	}
	require.NoError(t, decodeJSON(resp, &body))

	relative := body.URL[len("https://agent.example.com"):]
	artResp, err := http.Get(srv.URL + relative)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, artResp.StatusCode)
}

func TestChat_RateLimitReturns429WithRetryAfter(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	tok := signToken(t, "user-rl", []string{"agent:chat"}, nil)
	var last *http.Response
	for i := 0; i < 5; i++ {
		last = doJSON(t, http.MethodPost, srv.URL+"/agent/chat", tok, `{"message":"hi"}`)
		if last.StatusCode == http.StatusTooManyRequests {
			break
		}
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))
}
