package llm

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/okral/codechat/internal/models"
)

type EmbedderConfig struct {
	Model   string
	BaseURL string // embedding server URL
	Dim     int    // expected vector width
}

// Provider is the process-wide embedding handle. The underlying client is
// dialed lazily on first use and cached; concurrent first callers wait on one
// shared load instead of racing duplicate loads. A failed load is not sticky:
// the next call dials again.
type Provider struct {
	config EmbedderConfig
	log    *zap.Logger
	dial   func() (embeddings.Embedder, error)

	mu     sync.Mutex
	client embeddings.Embedder
}

func NewProvider(config EmbedderConfig, log *zap.Logger) *Provider {
	p := newProvider(config, log)
	p.dial = func() (embeddings.Embedder, error) {
		client, err := ollama.New(
			ollama.WithModel(p.config.Model),
			ollama.WithServerURL(p.config.BaseURL),
		)
		if err != nil {
			return nil, err
		}
		return embeddings.NewEmbedder(client)
	}
	return p
}

// NewProviderWithDialer swaps the model factory, used by tests and by callers
// with an OpenAI-compatible embedding endpoint.
func NewProviderWithDialer(config EmbedderConfig, log *zap.Logger, dial func() (embeddings.Embedder, error)) *Provider {
	p := newProvider(config, log)
	p.dial = dial
	return p
}

func newProvider(config EmbedderConfig, log *zap.Logger) *Provider {
	if config.Model == "" {
		config.Model = "gte-small"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Dim == 0 {
		config.Dim = 384
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{config: config, log: log}
}

func (p *Provider) Dimension() int {
	return p.config.Dim
}

// Embed returns the L2-normalized embedding of text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := p.ensure()
	if err != nil {
		return nil, err
	}

	vec, err := client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", models.ErrModelUnavailable, err)
	}
	if len(vec) != p.config.Dim {
		return nil, fmt.Errorf("embedding model returned %d dimensions, configured for %d", len(vec), p.config.Dim)
	}

	return normalize(vec), nil
}

// EmbedBatch embeds texts one at a time, preserving order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *Provider) ensure() (embeddings.Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	p.log.Info("loading embedding model", zap.String("model", p.config.Model))
	start := time.Now()

	client, err := p.dial()
	if err != nil {
		p.log.Error("embedding model load failed", zap.Error(err))
		return nil, fmt.Errorf("%w: load embedding model: %v", models.ErrModelUnavailable, err)
	}

	p.client = client
	p.log.Info("embedding model loaded", zap.Duration("elapsed", time.Since(start)))
	return client, nil
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}

	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out
}
