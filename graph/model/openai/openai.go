// Package openai adapts OpenAI's chat completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/aura-go/graph/model"
)

// ChatModel wraps the official OpenAI Go SDK. Safe for concurrent use.
type ChatModel struct {
	client *openai.Client
	model  string
}

// NewChatModel creates a GPT-backed ChatModel for the given model name,
// e.g. "gpt-4o" or "gpt-4o-mini".
func NewChatModel(apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if modelName == "" {
		return nil, errors.New("model cannot be empty")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{client: &client, model: modelName}, nil
}

func (c *ChatModel) Name() string { return "openai" }

func (c *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.Options) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: convertMessages(messages),
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.JSONOnly {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, model.ClassifyErr("openai", err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai returned no choices")
	}

	return model.ChatOut{
		Text: completion.Choices[0].Message.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
