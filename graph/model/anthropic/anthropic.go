// Package anthropic adapts Anthropic's Claude API to model.ChatModel.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/aura-go/graph/model"
)

const defaultMaxTokens = 4096

// ChatModel wraps the official anthropic-sdk-go client. Safe for concurrent
// use after creation.
type ChatModel struct {
	client *anthropic.Client
	model  string
}

// NewChatModel creates a Claude-backed ChatModel. The model parameter names
// one of Anthropic's available models, e.g. "claude-3-5-sonnet-20241022".
func NewChatModel(apiKey, modelName string) *ChatModel {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{client: &client, model: modelName}
}

func (c *ChatModel) Name() string { return "anthropic" }

func (c *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.Options) (model.ChatOut, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(messages),
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, model.ClassifyErr("anthropic", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return model.ChatOut{
		Text: text.String(),
		Usage: model.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

// convertMessages maps conversation turns onto Anthropic's message params.
// The Messages API takes no inline system role, so system turns are folded
// into the first user message.
func convertMessages(messages []model.Message) []anthropic.MessageParam {
	var system strings.Builder
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case model.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			content := msg.Content
			if system.Len() > 0 {
				content = system.String() + "\n\n" + content
				system.Reset()
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}

	if system.Len() > 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(system.String())))
	}
	return out
}
