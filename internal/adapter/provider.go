// Package adapter provides chat model implementations over external LLM APIs.
// It uses the Adapter pattern to put provider-specific APIs behind a common interface.
package adapter

import (
	"context"

	"github.com/hpn/hpn-ernie-router/internal/domain"
)

// ChatModel defines the interface for chat model adapters.
type ChatModel interface {
	// Chat sends the conversation and waits for the whole reply.
	Chat(ctx context.Context, messages []domain.Message, opts ...ChatOption) (*domain.AIMessage, error)

	// ChatStream sends the conversation and returns the reply as a stream of chunks.
	ChatStream(ctx context.Context, messages []domain.Message, opts ...ChatOption) (*ChunkStream, error)

	// Model returns the model name served by this adapter.
	Model() string
}

// ModelFactory builds a ChatModel bound to one model name and access token.
// The gateway calls it once per attempt so failover can swap tokens.
type ModelFactory func(model, accessToken string) (ChatModel, error)
