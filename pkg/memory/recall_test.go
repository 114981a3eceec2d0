package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-assistant/agent-core/pkg/database"
	"github.com/nebula-assistant/agent-core/pkg/memory"
	"github.com/nebula-assistant/agent-core/pkg/vectorindex"
)

type fakeStore struct {
	pinned       []database.Memory
	byID         map[string]database.Memory
	events       []database.MemoryEvent
	listErr      error
	getByIDsErr  error
	appendEvtErr error
}

func (f *fakeStore) ListPinnedMemories(ctx context.Context, userID string, types []string, limit int) ([]database.Memory, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pinned, nil
}

func (f *fakeStore) GetMemoriesByIDs(ctx context.Context, userID string, ids []string) ([]database.Memory, error) {
	if f.getByIDsErr != nil {
		return nil, f.getByIDsErr
	}
	var out []database.Memory
	for _, id := range ids {
		if m, ok := f.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendMemoryEvent(ctx context.Context, e database.MemoryEvent) error {
	if f.appendEvtErr != nil {
		return f.appendEvtErr
	}
	f.events = append(f.events, e)
	return nil
}

type fakeEmbedder struct {
	vec []float64
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return f.vec, f.err
}

type fakeIndex struct {
	matches []vectorindex.Match
	err     error
}

func (f *fakeIndex) Query(ctx context.Context, vector []float64, opts vectorindex.QueryFilter) ([]vectorindex.Match, error) {
	return f.matches, f.err
}

func (f *fakeIndex) Upsert(ctx context.Context, items []vectorindex.UpsertItem) error {
	return nil
}

func TestRecall_PinnedOnly_NoIndexConfigured(t *testing.T) {
	store := &fakeStore{
		pinned: []database.Memory{
			{ID: "m1", Type: "fact", ContentJSON: `{"a":1}`},
			{ID: "m2", Type: "preference", ContentJSON: `{"b":2}`},
		},
	}
	r := memory.NewRecaller(store, nil, nil)

	snippets, err := r.Recall(context.Background(), "user-1", "what do you know about me?")
	require.NoError(t, err)
	assert.Equal(t, []string{`[fact] {"a":1}`, `[preference] {"b":2}`}, snippets)
	require.Len(t, store.events, 1)
	assert.Equal(t, "recall", store.events[0].EventType)
}

func TestRecall_SemanticAugmentsButDeduplicates(t *testing.T) {
	store := &fakeStore{
		pinned: []database.Memory{
			{ID: "m1", Type: "fact", ContentJSON: `{"a":1}`},
		},
		byID: map[string]database.Memory{
			"m2": {ID: "m2", Type: "episode", ContentJSON: `{"summary":"..."}`},
			"m1": {ID: "m1", Type: "fact", ContentJSON: `{"a":1}`}, // duplicate of pinned
		},
	}
	idx := &fakeIndex{matches: []vectorindex.Match{{ID: "m2", Score: 0.9}, {ID: "m1", Score: 0.5}}}
	emb := &fakeEmbedder{vec: []float64{0.1, 0.2}}
	r := memory.NewRecaller(store, idx, emb)

	snippets, err := r.Recall(context.Background(), "user-1", "tell me about myself")
	require.NoError(t, err)
	assert.Equal(t, []string{`[fact] {"a":1}`, `[episode] {"summary":"..."}`}, snippets)
}

func TestRecall_EmbeddingFailureDegradesGracefully(t *testing.T) {
	store := &fakeStore{pinned: []database.Memory{{ID: "m1", Type: "fact", ContentJSON: `{}`}}}
	emb := &fakeEmbedder{err: errors.New("upstream down")}
	idx := &fakeIndex{}
	r := memory.NewRecaller(store, idx, emb)

	snippets, err := r.Recall(context.Background(), "user-1", "query")
	require.NoError(t, err)
	assert.Len(t, snippets, 1)
}

func TestRecall_VectorQueryFailureDegradesGracefully(t *testing.T) {
	store := &fakeStore{pinned: []database.Memory{{ID: "m1", Type: "fact", ContentJSON: `{}`}}}
	emb := &fakeEmbedder{vec: []float64{0.1}}
	idx := &fakeIndex{err: errors.New("index unreachable")}
	r := memory.NewRecaller(store, idx, emb)

	snippets, err := r.Recall(context.Background(), "user-1", "query")
	require.NoError(t, err)
	assert.Len(t, snippets, 1)
}

func TestRecall_TruncatesToSnippetCap(t *testing.T) {
	var pinned []database.Memory
	for i := 0; i < memory.SnippetCap+5; i++ {
		pinned = append(pinned, database.Memory{
			ID:          fmt.Sprintf("mem-%d", i),
			Type:        "fact",
			ContentJSON: fmt.Sprintf(`{"i":%d}`, i),
		})
	}
	store := &fakeStore{pinned: pinned}
	r := memory.NewRecaller(store, nil, nil)

	snippets, err := r.Recall(context.Background(), "user-1", "query")
	require.NoError(t, err)
	assert.Len(t, snippets, memory.SnippetCap)
}

func TestRecall_ListPinnedErrorPropagates(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db down")}
	r := memory.NewRecaller(store, nil, nil)

	_, err := r.Recall(context.Background(), "user-1", "query")
	assert.Error(t, err)
}
