package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/presbrey/ollamafarm"
	"github.com/vocalis-ai/vocalis/pkg/engine"
)

// OllamaEngine drives a farm of ollama servers; each request picks the first
// online client.
type OllamaEngine struct {
	farm  *ollamafarm.Farm
	model string
}

func New(urls []string, model string) (*OllamaEngine, error) {
	farm := ollamafarm.New()
	for _, u := range urls {
		if err := farm.RegisterURL(u, nil); err != nil {
			return nil, fmt.Errorf("register ollama %s: %w", u, err)
		}
	}
	return &OllamaEngine{farm: farm, model: model}, nil
}

func (o *OllamaEngine) Call(ctx context.Context, p engine.Prompt) (*engine.Response, error) {
	stream := false
	req := api.ChatRequest{
		Model:    o.model,
		Messages: convertMsgs(p.Msgs),
		Tools:    convertTools(p.Tools),
		Stream:   &stream,
	}

	var resp engine.Response
	err := o.chat(ctx, req, func(cr api.ChatResponse) error {
		resp.Content += cr.Message.Content
		resp.ToolCalls = append(resp.ToolCalls, convertToolCalls(cr.Message.ToolCalls)...)
		if cr.Done {
			resp.Usage = &engine.Usage{
				PromptTokens: cr.PromptEvalCount,
				TotalTokens:  cr.PromptEvalCount + cr.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (o *OllamaEngine) Stream(ctx context.Context, p engine.Prompt) (<-chan engine.Delta, error) {
	req := api.ChatRequest{
		Model:    o.model,
		Messages: convertMsgs(p.Msgs),
		Tools:    convertTools(p.Tools),
	}

	out := make(chan engine.Delta, 32)
	go func() {
		defer close(out)
		err := o.chat(ctx, req, func(cr api.ChatResponse) error {
			var delta engine.Delta
			delta.Content = cr.Message.Content
			delta.ToolCalls = convertToolCalls(cr.Message.ToolCalls)
			if cr.Done {
				delta.Usage = &engine.Usage{
					PromptTokens: cr.PromptEvalCount,
					TotalTokens:  cr.PromptEvalCount + cr.EvalCount,
				}
			}
			if delta.Content != "" || len(delta.ToolCalls) > 0 || delta.Usage != nil {
				out <- delta
			}
			return nil
		})
		if err != nil {
			out <- engine.Delta{Err: fmt.Errorf("ollama stream: %w", err)}
		}
	}()
	return out, nil
}

func (o *OllamaEngine) chat(ctx context.Context, req api.ChatRequest, fn api.ChatResponseFunc) error {
	client := o.farm.First(&ollamafarm.Where{Offline: false})
	if client == nil {
		return fmt.Errorf("no online ollama server for model %s", req.Model)
	}
	return client.Client().Chat(ctx, &req, fn)
}

func convertMsgs(msgs []engine.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func convertTools(tools []engine.ToolSpec) api.Tools {
	var out api.Tools
	for _, t := range tools {
		var tool api.Tool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters.Type = "object"
		tool.Function.Parameters.Required = t.Required
		tool.Function.Parameters.Properties = map[string]struct {
			Type        string   `json:"type"`
			Description string   `json:"description"`
			Enum        []string `json:"enum,omitempty"`
		}{}
		for name, schema := range t.Parameters {
			prop := struct {
				Type        string   `json:"type"`
				Description string   `json:"description"`
				Enum        []string `json:"enum,omitempty"`
			}{}
			if v, ok := schema["type"].(string); ok {
				prop.Type = v
			}
			if v, ok := schema["description"].(string); ok {
				prop.Description = v
			}
			tool.Function.Parameters.Properties[name] = prop
		}
		out = append(out, tool)
	}
	return out
}

func convertToolCalls(calls []api.ToolCall) []engine.ToolCall {
	var out []engine.ToolCall
	for _, tc := range calls {
		args := make(map[string]any, len(tc.Function.Arguments))
		for k, v := range tc.Function.Arguments {
			args[k] = v
		}
		out = append(out, engine.ToolCall{
			Name:      strings.TrimSpace(tc.Function.Name),
			Arguments: args,
			CreatedAt: time.Now(),
		})
	}
	return out
}
