package app

import (
	"context"

	"github.com/vocalis-ai/vocalis/internal/config"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"github.com/vocalis-ai/vocalis/pkg/engine/gemini"
	"github.com/vocalis-ai/vocalis/pkg/engine/ollama"
	"github.com/vocalis-ai/vocalis/pkg/engine/openai"
)

// registerEngineBuilders installs one Builder per provider kind. Provider
// rows in the database override the static config; blank row fields fall
// back to the configured defaults so a role can name just a model.
func registerEngineBuilders(f *engine.Factory, cfg config.ProvidersConfig) {
	f.RegisterBuilder("openai", func(_ context.Context, spec engine.ProviderSpec) (engine.Engine, error) {
		baseURL := orDefault(spec.APIURL, cfg.OpenAI.APIURL)
		apiKey := orDefault(spec.APIKey, cfg.OpenAI.APIKey)
		model := orDefault(spec.ModelName, cfg.OpenAI.Model)
		return openai.New(baseURL, apiKey, model), nil
	})

	f.RegisterBuilder("ollama", func(_ context.Context, spec engine.ProviderSpec) (engine.Engine, error) {
		urls := cfg.Ollama.URLs
		if spec.APIURL != "" {
			urls = []string{spec.APIURL}
		}
		model := orDefault(spec.ModelName, cfg.Ollama.Model)
		return ollama.New(urls, model)
	})

	f.RegisterBuilder("gemini", func(ctx context.Context, spec engine.ProviderSpec) (engine.Engine, error) {
		apiKey := orDefault(spec.APIKey, cfg.Gemini.APIKey)
		model := orDefault(spec.ModelName, cfg.Gemini.Model)
		return gemini.New(ctx, apiKey, model)
	})
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
