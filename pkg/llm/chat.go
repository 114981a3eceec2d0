// Package llm wraps the two external model RPCs the actor depends on: chat
// completion (Anthropic Messages) and text embedding (OpenAI Embeddings).
// Both are treated as untrusted, suspendable upstreams with a hard
// per-call timeout, never as local computation.
package llm

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
)

// ChatTimeout is the hard cap on a single chat completion call, per spec §4.5
// step 9 and §5.
const ChatTimeout = 15 * time.Second

// ChatMessage is one turn in a conversation passed to Complete.
type ChatMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// ChatRequest is a single chat-completion call.
type ChatRequest struct {
	System   string
	Messages []ChatMessage
	Model    string // overrides the client's configured default when set
}

// ChatResponse is the model's reply plus usage accounting.
type ChatResponse struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a stub instead of a live HTTP client.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// ChatClient issues chat completions against MessagesClient.
type ChatClient struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// NewChatClient builds a ChatClient around an already-constructed
// MessagesClient (or a stub, in tests).
func NewChatClient(msg MessagesClient, model string, maxTokens int) *ChatClient {
	return &ChatClient{msg: msg, model: model, maxTokens: maxTokens}
}

// NewChatClientFromAPIKey builds a ChatClient using the SDK's default HTTP
// transport, reading ANTHROPIC_API_KEY-style configuration from apiKey.
func NewChatClientFromAPIKey(apiKey, model string, maxTokens int) *ChatClient {
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewChatClient(&ac.Messages, model, maxTokens)
}

// Complete issues one chat completion, enforcing ChatTimeout regardless of
// the caller's own context deadline.
func (c *ChatClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, apierr.New(apierr.KindBadRequest, "at least one message is required")
	}

	ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(c.maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Wrap(apierr.KindUpstreamTimeout, "language model call timed out", err)
		}
		return nil, apierr.Wrap(apierr.KindUpstreamError, "language model call failed", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &ChatResponse{
		Text:         text.String(),
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
