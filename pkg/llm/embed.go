package llm

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
)

// EmbedTimeout bounds a single embedding call. Recall (§4.4) and episode
// summarization (§4.5 step 12) both tolerate this failing and degrade
// gracefully rather than propagating the error to the client.
const EmbedTimeout = 10 * time.Second

// EmbeddingsClient captures the subset of the OpenAI SDK used here.
type EmbeddingsClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// EmbedClient produces text embeddings for semantic recall and episodes.
type EmbedClient struct {
	embed EmbeddingsClient
	model string
}

// NewEmbedClient builds an EmbedClient around an already-constructed
// EmbeddingsClient (or a stub, in tests).
func NewEmbedClient(embed EmbeddingsClient, model string) *EmbedClient {
	return &EmbedClient{embed: embed, model: model}
}

// NewEmbedClientFromAPIKey builds an EmbedClient using the SDK's default
// HTTP transport.
func NewEmbedClientFromAPIKey(apiKey, model string) *EmbedClient {
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return NewEmbedClient(&c.Embeddings, model)
}

// Embed returns the embedding vector for text. Callers in the recall and
// episode-summarization paths are expected to treat a non-nil error as
// "no vector available" and proceed without it.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	resp, err := c.embed.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Wrap(apierr.KindUpstreamTimeout, "embedding call timed out", err)
		}
		return nil, apierr.Wrap(apierr.KindUpstreamError, "embedding call failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, apierr.New(apierr.KindUpstreamError, "embedding response contained no vectors")
	}
	return resp.Data[0].Embedding, nil
}
