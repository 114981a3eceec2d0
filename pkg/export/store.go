package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
)

// ObjectStore is the contract export depends on: put bytes under a key,
// retrieve them back with their content type.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (data []byte, contentType string, err error)
}

// httpStoreTimeout bounds object-store calls; the host's default deadline
// per spec §5 is not "no timeout", so a generous fixed bound is used here.
const httpStoreTimeout = 10 * time.Second

// HTTPObjectStore implements ObjectStore against an HTTP blob service
// exposing PUT/GET <baseURL>/<key>, the same plain-HTTP-client shape used
// for the vector index and tool backend.
type HTTPObjectStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPObjectStore builds an HTTPObjectStore. apiKey may be empty.
func NewHTTPObjectStore(baseURL, apiKey string) *HTTPObjectStore {
	return &HTTPObjectStore{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: httpStoreTimeout},
	}
}

func (s *HTTPObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, httpStoreTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/"+key, bytes.NewReader(data))
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "build object store put request", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindUpstreamError, "object store put failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return apierr.New(apierr.KindUpstreamError, fmt.Sprintf("object store put returned HTTP %d", resp.StatusCode))
	}
	return nil
}

func (s *HTTPObjectStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, httpStoreTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+key, nil)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.KindInternal, "build object store get request", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.KindUpstreamError, "object store get failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", apierr.New(apierr.KindNotFound, "artifact not found")
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", apierr.New(apierr.KindUpstreamError, fmt.Sprintf("object store get returned HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.KindUpstreamError, "read object store response", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// MemoryObjectStore is an in-memory ObjectStore used in tests and as the
// non-production fallback when no external object-store endpoint is
// configured.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
}

// NewMemoryObjectStore builds an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]memObject)}
}

func (s *MemoryObjectStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = memObject{data: cp, contentType: contentType}
	return nil
}

func (s *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", apierr.New(apierr.KindNotFound, "artifact not found")
	}
	return obj.data, obj.contentType, nil
}
