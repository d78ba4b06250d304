package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/vocalis-ai/vocalis/pkg/engine"
)

// OpenAIEngine drives any OpenAI-compatible chat-completions endpoint.
type OpenAIEngine struct {
	client openai.Client
	model  string
}

func New(baseURL, apiKey, model string) *OpenAIEngine {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEngine{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OpenAIEngine) Call(ctx context.Context, p engine.Prompt) (*engine.Response, error) {
	completion, err := o.client.Chat.Completions.New(ctx, o.buildParams(p))
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty choices")
	}
	choice := completion.Choices[0]
	resp := &engine.Response{
		Content: choice.Message.Content,
		Usage: &engine.Usage{
			PromptTokens: int(completion.Usage.PromptTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, engine.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			CreatedAt: time.Now(),
		})
	}
	return resp, nil
}

func (o *OpenAIEngine) Stream(ctx context.Context, p engine.Prompt) (<-chan engine.Delta, error) {
	params := o.buildParams(p)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan engine.Delta, 32)
	go func() {
		defer close(out)
		for stream.Next() {
			chunk := stream.Current()
			var delta engine.Delta
			if chunk.Usage.TotalTokens > 0 {
				delta.Usage = &engine.Usage{
					PromptTokens: int(chunk.Usage.PromptTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) > 0 {
				cd := chunk.Choices[0].Delta
				delta.Content = cd.Content
				for _, tc := range cd.ToolCalls {
					delta.ToolCalls = append(delta.ToolCalls, engine.ToolCall{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						CreatedAt: time.Now(),
					})
				}
			}
			if delta.Content != "" || len(delta.ToolCalls) > 0 || delta.Usage != nil {
				out <- delta
			}
		}
		if err := stream.Err(); err != nil {
			out <- engine.Delta{Err: fmt.Errorf("openai stream: %w", err)}
		}
	}()
	return out, nil
}

// ProbeToolSupport sends a minimal completion carrying a dummy tool
// definition; endpoints that reject tools fail the request.
func (o *OpenAIEngine) ProbeToolSupport(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("ping"),
		},
		Tools: []openai.ChatCompletionToolParam{{
			Function: openai.FunctionDefinitionParam{
				Name:        "noop",
				Description: openai.String("connectivity probe"),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		}},
	})
	return err == nil
}

func (o *OpenAIEngine) buildParams(p engine.Prompt) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(p.Msgs))
	for _, m := range p.Msgs {
		msgs = append(msgs, convertMsg(m))
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    o.model,
	}
	for _, t := range p.Tools {
		props := make(map[string]any, len(t.Parameters))
		for name, schema := range t.Parameters {
			props[name] = schema
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": props,
					"required":   t.Required,
				},
			},
		})
	}
	return params
}

func convertMsg(m engine.Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case engine.ASSISTANT:
		return openai.AssistantMessage(m.Content)
	case engine.SYSTEM:
		return openai.SystemMessage(m.Content)
	case engine.TOOL:
		return openai.UserMessage(m.Content)
	}
	return openai.UserMessage(m.Content)
}
