package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiEngine drives the Gemini API through the official client.
type GeminiEngine struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiEngine{client: client, model: model}, nil
}

func (g *GeminiEngine) Call(ctx context.Context, p engine.Prompt) (*engine.Response, error) {
	model, last, history := g.prepare(p)
	cs := model.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("gemini completion: %w", err)
	}
	out := &engine.Response{}
	collect(resp, func(d engine.Delta) {
		out.Content += d.Content
		out.ToolCalls = append(out.ToolCalls, d.ToolCalls...)
		if d.Usage != nil {
			out.Usage = d.Usage
		}
	})
	return out, nil
}

func (g *GeminiEngine) Stream(ctx context.Context, p engine.Prompt) (<-chan engine.Delta, error) {
	model, last, history := g.prepare(p)
	cs := model.StartChat()
	cs.History = history
	iter := cs.SendMessageStream(ctx, genai.Text(last))

	out := make(chan engine.Delta, 32)
	go func() {
		defer close(out)
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				out <- engine.Delta{Err: fmt.Errorf("gemini stream: %w", err)}
				return
			}
			collect(resp, func(d engine.Delta) { out <- d })
		}
	}()
	return out, nil
}

// prepare splits the prompt into chat history plus the trailing user message
// the way the genai chat session expects it.
func (g *GeminiEngine) prepare(p engine.Prompt) (*genai.GenerativeModel, string, []*genai.Content) {
	model := g.client.GenerativeModel(g.model)
	for _, t := range p.Tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.Parameters) > 0 {
			schema := &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{},
				Required:   t.Required,
			}
			for name, prop := range t.Parameters {
				ps := &genai.Schema{Type: genai.TypeString}
				if v, ok := prop["description"].(string); ok {
					ps.Description = v
				}
				schema.Properties[name] = ps
			}
			decl.Parameters = schema
		}
		model.Tools = append(model.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{decl},
		})
	}

	var history []*genai.Content
	var last string
	for i, m := range p.Msgs {
		if i == len(p.Msgs)-1 && m.Role == engine.USER {
			last = m.Content
			break
		}
		role := "user"
		if m.Role == engine.ASSISTANT {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return model, last, history
}

func collect(resp *genai.GenerateContentResponse, emit func(engine.Delta)) {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				if v != "" {
					emit(engine.Delta{Content: string(v)})
				}
			case genai.FunctionCall:
				emit(engine.Delta{ToolCalls: []engine.ToolCall{{
					Name:      v.Name,
					Arguments: v.Args,
					CreatedAt: time.Now(),
				}}})
			}
		}
	}
	if resp.UsageMetadata != nil {
		emit(engine.Delta{Usage: &engine.Usage{
			PromptTokens: int(resp.UsageMetadata.PromptTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}})
	}
}
