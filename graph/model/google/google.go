// Package google adapts Google's Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/aura-go/graph/model"
)

// ChatModel calls Google's Gemini API. The SDK client is created per call;
// Gemini responses blocked by safety filters surface as SafetyFilterError.
type ChatModel struct {
	apiKey    string
	modelName string
}

// NewChatModel creates a Gemini-backed ChatModel. An empty modelName uses
// gemini-2.5-flash.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName}
}

func (c *ChatModel) Name() string { return "google" }

func (c *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.Options) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(c.modelName)
	if opts.Temperature > 0 {
		genModel.SetTemperature(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		genModel.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	resp, err := genModel.GenerateContent(ctx, convertMessages(messages)...)
	if err != nil {
		return model.ChatOut{}, model.ClassifyErr("google", err)
	}
	return convertResponse(resp)
}

// convertMessages flattens the conversation into text parts. Gemini has no
// inline role markup in this API shape, so roles are dropped and content
// order carries the conversation.
func convertMessages(messages []model.Message) []genai.Part {
	parts := make([]genai.Part, 0, len(messages))
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return out, &SafetyFilterError{reason: resp.PromptFeedback.BlockReason.String()}
		}
		return out, nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return out, &SafetyFilterError{reason: candidate.FinishReason.String()}
	}
	if candidate.Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out, nil
}

// SafetyFilterError reports a Gemini safety filter block. Check with
// errors.As; blocked prompts are not retryable.
type SafetyFilterError struct {
	reason string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.reason
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string { return e.reason }
