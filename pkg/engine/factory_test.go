package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopEngine struct{ id uint }

func (nopEngine) Call(context.Context, Prompt) (*Response, error) { return &Response{}, nil }

func (nopEngine) Stream(context.Context, Prompt) (<-chan Delta, error) {
	ch := make(chan Delta)
	close(ch)
	return ch, nil
}

func TestFactoryCachesPerConfigID(t *testing.T) {
	f := NewFactory()
	builds := 0
	f.RegisterBuilder("Ollama", func(_ context.Context, spec ProviderSpec) (Engine, error) {
		builds++
		return nopEngine{id: spec.ConfigID}, nil
	})

	spec := ProviderSpec{ConfigID: 7, Provider: "ollama"}
	first, err := f.Take(context.Background(), spec)
	require.NoError(t, err)
	second, err := f.Take(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, 1, builds, "same config id must reuse the cached engine")
	assert.Equal(t, first, second)

	// a different config id builds again
	_, err = f.Take(context.Background(), ProviderSpec{ConfigID: 8, Provider: "OLLAMA"})
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
}

func TestFactoryUnknownProvider(t *testing.T) {
	f := NewFactory()
	_, err := f.Take(context.Background(), ProviderSpec{ConfigID: 1, Provider: "mystery"})
	assert.Error(t, err)
}

func TestFactoryBuilderFailureNotCached(t *testing.T) {
	f := NewFactory()
	attempts := 0
	f.RegisterBuilder("openai", func(context.Context, ProviderSpec) (Engine, error) {
		attempts++
		if attempts == 1 {
			return nil, fmt.Errorf("transient")
		}
		return nopEngine{}, nil
	})

	spec := ProviderSpec{ConfigID: 1, Provider: "openai"}
	_, err := f.Take(context.Background(), spec)
	require.Error(t, err)

	_, err = f.Take(context.Background(), spec)
	assert.NoError(t, err, "a failed build must not poison the cache")

	assert.NoError(t, f.WarmUp(context.Background(), spec))
	assert.Equal(t, 2, attempts)
}
