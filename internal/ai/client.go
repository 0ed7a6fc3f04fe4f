package ai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Config configuration for Client
type Config struct {
	APIKey         string
	BaseURL        string // empty for api.openai.com
	EmbeddingModel string
	ChatModel      string
	Temperature    float32
	MaxTokens      int
}

// Client calls an OpenAI compatible service for embeddings and completions
type Client struct {
	api *openai.Client
	gov *Governor
	cfg Config
}

// NewClient creates a new AI client; every call goes through gov
func NewClient(cfg Config, gov *Governor) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		api: openai.NewClientWithConfig(oc),
		gov: gov,
		cfg: cfg,
	}
}

// Embed returns the embedding vector of text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := c.gov.Do(ctx, "embed", func(ctx context.Context) error {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		})
		if err != nil {
			return classify("embed", err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return &ServiceError{Op: "embed", Err: errors.New("empty embedding in response")}
		}
		vec = resp.Data[0].Embedding
		return nil
	})
	return vec, err
}

// Complete runs a chat completion with a system and a user message
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var out string
	err := c.gov.Do(ctx, "complete", func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.cfg.ChatModel,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return classify("complete", err)
		}
		if len(resp.Choices) == 0 {
			return &ServiceError{Op: "complete", Err: errors.New("no choices in response")}
		}
		out = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	return out, err
}
