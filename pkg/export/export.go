package export

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
	"github.com/nebula-assistant/agent-core/pkg/ids"
)

// Request is the decoded body of POST /agent/export.
type Request struct {
	Title    string `json:"title"`
	SafeJSON any    `json:"safe_json"`
}

// Result is the response to a successful export.
type Result struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ExpiresAt   string `json:"expires_at"`
	ContentType string `json:"content_type"`
	Truncated   bool   `json:"truncated"`
}

const contentTypeSVG = "image/svg+xml"

// Exporter renders sanitized payloads to SVG, writes them to an object
// store, and signs/verifies retrieval URLs.
type Exporter struct {
	store     ObjectStore
	secret    []byte
	originURL string
}

// NewExporter builds an Exporter. originURL is the externally-visible
// base URL used to build retrieval links (e.g. "https://agent.example.com").
func NewExporter(store ObjectStore, secret []byte, originURL string) *Exporter {
	return &Exporter{store: store, secret: secret, originURL: originURL}
}

// Export sanitizes req, renders it to SVG, stores it under a fresh
// per-user artifact key, and returns a signed, time-limited retrieval URL.
func (e *Exporter) Export(ctx context.Context, userID string, req Request) (*Result, error) {
	s, err := sanitize(req.Title, req.SafeJSON)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBadRequest, "invalid export payload", err)
	}
	svg := renderSVG(s)

	suffix, err := ids.RandomKeySuffix(16)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "generate artifact key", err)
	}
	key := fmt.Sprintf("artifacts/%s/%s.svg", ids.HashUserID(userID), suffix)

	if err := e.store.Put(ctx, key, svg, contentTypeSVG); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sig, exp := SignArtifactKey(e.secret, key, now, DefaultTTL)
	retrievalURL := fmt.Sprintf("%s/agent/artifacts/%s?exp=%d&sig=%s", e.originURL, url.QueryEscape(key), exp, sig)

	return &Result{
		Key:         key,
		URL:         retrievalURL,
		ExpiresAt:   time.Unix(exp, 0).UTC().Format(time.RFC3339),
		ContentType: contentTypeSVG,
		Truncated:   s.Truncated,
	}, nil
}

// Retrieve verifies the signature on (key, exp, sig) and, if valid, returns
// the stored object's bytes and content type. The signature check is the
// sole authorization mechanism; no per-user lookup is performed.
func (e *Exporter) Retrieve(ctx context.Context, key string, exp int64, sig string) ([]byte, string, error) {
	if !VerifyArtifactSignature(e.secret, key, exp, sig, time.Now().UTC()) {
		return nil, "", apierr.New(apierr.KindForbidden, "invalid or expired artifact signature")
	}
	return e.store.Get(ctx, key)
}
