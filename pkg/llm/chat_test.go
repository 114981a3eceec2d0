package llm

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestChatClient_Complete_TextResponse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
			StopReason: "end_turn",
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 4},
		},
	}
	client := NewChatClient(stub, "claude-sonnet", 256)

	resp, err := client.Complete(context.Background(), ChatRequest{
		System:   "be concise",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 10, resp.InputTokens)
	assert.Equal(t, 4, resp.OutputTokens)
	assert.Equal(t, sdk.Model("claude-sonnet"), stub.lastParams.Model)
}

func TestChatClient_Complete_NoMessagesIsBadRequest(t *testing.T) {
	client := NewChatClient(&stubMessagesClient{}, "claude-sonnet", 256)

	_, err := client.Complete(context.Background(), ChatRequest{})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindBadRequest, apiErr.Kind)
}

func TestChatClient_Complete_UpstreamErrorWraps(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("connection reset")}
	client := NewChatClient(stub, "claude-sonnet", 256)

	_, err := client.Complete(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindUpstreamError, apiErr.Kind)
}

func TestChatClient_Complete_ModelOverride(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	client := NewChatClient(stub, "claude-default", 256)

	_, err := client.Complete(context.Background(), ChatRequest{
		Model:    "claude-override",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.Model("claude-override"), stub.lastParams.Model)
}
