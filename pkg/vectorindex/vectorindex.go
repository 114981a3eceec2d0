// Package vectorindex talks to the external vector index used for semantic
// memory recall: query-by-vector and upsert, per spec §6. The index itself
// is an out-of-process collaborator; this package only defines the contract
// and an HTTP-based implementation of it.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
)

// Match is one result row from Query.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpsertItem is one row to write via Upsert.
type UpsertItem struct {
	ID       string         `json:"id"`
	Values   []float64      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryFilter narrows a Query call; Filter is a logical-AND map of exact
// metadata equality checks (e.g. {"user_id": userID}).
type QueryFilter struct {
	TopK   int
	Filter map[string]any
}

// Index is the contract the memory-recall component depends on.
type Index interface {
	Query(ctx context.Context, vector []float64, opts QueryFilter) ([]Match, error)
	Upsert(ctx context.Context, items []UpsertItem) error
}

// HTTPIndex implements Index against an HTTP vector-index service exposing
// POST <baseURL>/query and POST <baseURL>/upsert.
type HTTPIndex struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPIndex builds an HTTPIndex. apiKey may be empty if the backend does
// not require one.
func NewHTTPIndex(baseURL, apiKey string) *HTTPIndex {
	return &HTTPIndex{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
}

type queryRequest struct {
	Vector []float64      `json:"vector"`
	TopK   int            `json:"top_k"`
	Filter map[string]any `json:"filter,omitempty"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Query searches the index for the nearest opts.TopK vectors to vector
// among rows matching opts.Filter.
func (h *HTTPIndex) Query(ctx context.Context, vector []float64, opts QueryFilter) ([]Match, error) {
	body, err := json.Marshal(queryRequest{Vector: vector, TopK: opts.TopK, Filter: opts.Filter})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "marshal vector query", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "build vector query request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	h.setAuthHeader(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstreamError, "vector index query failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierr.New(apierr.KindUpstreamError, fmt.Sprintf("vector index returned HTTP %d", resp.StatusCode))
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apierr.Wrap(apierr.KindUpstreamError, "decode vector index response", err)
	}
	return out.Matches, nil
}

type upsertRequest struct {
	Items []UpsertItem `json:"items"`
}

// Upsert writes or replaces rows in the index. Callers treat failures as
// best-effort per spec §7 and log rather than fail the enclosing request.
func (h *HTTPIndex) Upsert(ctx context.Context, items []UpsertItem) error {
	if len(items) == 0 {
		return nil
	}
	body, err := json.Marshal(upsertRequest{Items: items})
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshal vector upsert", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/upsert", bytes.NewReader(body))
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "build vector upsert request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	h.setAuthHeader(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindUpstreamError, "vector index upsert failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return apierr.New(apierr.KindUpstreamError, fmt.Sprintf("vector index returned HTTP %d", resp.StatusCode))
	}
	return nil
}

func (h *HTTPIndex) setAuthHeader(req *http.Request) {
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
}
