package export_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
	"github.com/nebula-assistant/agent-core/pkg/export"
)

func TestExporter_ExportAndRetrieveRoundTrip(t *testing.T) {
	store := export.NewMemoryObjectStore()
	exp := export.NewExporter(store, []byte("server-secret"), "https://agent.example.com")

	result, err := exp.Export(context.Background(), "user-1", export.Request{
		Title:    "t",
		SafeJSON: map[string]any{"a": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", result.ContentType)
	assert.False(t, result.Truncated)
	assert.Contains(t, result.Key, "artifacts/")
	assert.Contains(t, result.URL, "/agent/artifacts/")
	assert.Contains(t, result.URL, "exp=")
	assert.Contains(t, result.URL, "sig=")

	exp2Sig, exp2, ok := extractExpAndSig(t, result.URL)
	require.True(t, ok)

	data, contentType, err := exp.Retrieve(context.Background(), result.Key, exp2, exp2Sig)
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", contentType)
	assert.Contains(t, string(data), "<svg")
	assert.Contains(t, string(data), "a")
}

func TestExporter_Retrieve_FlippedSignatureIsForbidden(t *testing.T) {
	store := export.NewMemoryObjectStore()
	exp := export.NewExporter(store, []byte("server-secret"), "https://agent.example.com")

	result, err := exp.Export(context.Background(), "user-1", export.Request{SafeJSON: map[string]any{"a": 1}})
	require.NoError(t, err)

	sig, expSeconds, ok := extractExpAndSig(t, result.URL)
	require.True(t, ok)

	flipped := flipLastHexChar(sig)
	_, _, err = exp.Retrieve(context.Background(), result.Key, expSeconds, flipped)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindForbidden, apiErr.Kind)
}

func TestExporter_Retrieve_ExpiredSignatureIsForbidden(t *testing.T) {
	store := export.NewMemoryObjectStore()
	exp := export.NewExporter(store, []byte("server-secret"), "https://agent.example.com")

	key := "artifacts/deadbeef/abc123.svg"
	require.NoError(t, store.Put(context.Background(), key, []byte("<svg/>"), "image/svg+xml"))

	past := time.Now().Add(-time.Hour)
	sig, expSeconds := export.SignArtifactKey([]byte("server-secret"), key, past, export.DefaultTTL)

	_, _, err := exp.Retrieve(context.Background(), key, expSeconds, sig)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindForbidden, apiErr.Kind)
}

func TestExporter_Export_TruncatesOversizedTitle(t *testing.T) {
	store := export.NewMemoryObjectStore()
	exp := export.NewExporter(store, []byte("secret"), "https://agent.example.com")

	longTitle := strings.Repeat("x", export.MaxTitleChars+50)
	result, err := exp.Export(context.Background(), "user-1", export.Request{
		Title: longTitle, SafeJSON: map[string]any{"a": 1},
	})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
}

func TestVerifyArtifactSignature_SingleBitChangesFlipResult(t *testing.T) {
	secret := []byte("server-secret")
	key := "artifacts/abc/def.svg"
	now := time.Now()
	sig, expSeconds := export.SignArtifactKey(secret, key, now, export.DefaultTTL)

	assert.True(t, export.VerifyArtifactSignature(secret, key, expSeconds, sig, now))
	assert.False(t, export.VerifyArtifactSignature(secret, key+"x", expSeconds, sig, now))
	assert.False(t, export.VerifyArtifactSignature(secret, key, expSeconds+1, sig, now))
	assert.False(t, export.VerifyArtifactSignature(secret, key, expSeconds, flipLastHexChar(sig), now))
	assert.False(t, export.VerifyArtifactSignature([]byte("other-secret"), key, expSeconds, sig, now))
}

func extractExpAndSig(t *testing.T, url string) (sig string, exp int64, ok bool) {
	t.Helper()
	parts := strings.SplitN(url, "?", 2)
	require.Len(t, parts, 2)
	var expStr string
	for _, kv := range strings.Split(parts[1], "&") {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "exp":
			expStr = pair[1]
		case "sig":
			sig = pair[1]
		}
	}
	parsedExp, err := strconv.ParseInt(expStr, 10, 64)
	require.NoError(t, err)
	return sig, parsedExp, sig != "" && expStr != ""
}

func flipLastHexChar(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	last := b[len(b)-1]
	if last == '0' {
		b[len(b)-1] = '1'
	} else {
		b[len(b)-1] = '0'
	}
	return string(b)
}
