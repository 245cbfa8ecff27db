package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/okral/codechat/internal/models"
	"github.com/okral/codechat/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model       string
	BaseURL     string
	APIKey      string // set for OpenAI-compatible endpoints; empty means Ollama
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retries     uint
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	log    *zap.Logger
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig, log *zap.Logger) (*ChatEngine, error) {
	applyChatDefaults(&config)
	if config.Temperature < 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if log == nil {
		log = zap.NewNop()
	}

	var model llms.Model
	var err error
	if config.APIKey != "" {
		model, err = openai.New(
			openai.WithBaseURL(config.BaseURL),
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
		)
	} else {
		model, err = ollama.New(
			ollama.WithServerURL(config.BaseURL),
			ollama.WithModel(config.Model),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{config: config, llm: model, log: log}, nil
}

// NewWithModel wires an already-constructed model, used by tests.
func NewWithModel(config ChatConfig, model llms.Model, log *zap.Logger) *ChatEngine {
	applyChatDefaults(&config)
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatEngine{config: config, llm: model, log: log}
}

func applyChatDefaults(config *ChatConfig) {
	if config.Model == "" {
		config.Model = "meta-llama/Llama-3.3-70B-Instruct"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 800
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 3
	}
}

// Complete generates the full response for the conversation in one call.
// Transient failures are retried up to the configured attempt count.
func (ce *ChatEngine) Complete(ctx context.Context, turns []models.Turn) (string, error) {
	content := toContent(turns)

	answer, err := retry.DoWithData(func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
		defer cancel()

		resp, err := ce.llm.GenerateContent(callCtx, content,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
		)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
			return "", fmt.Errorf("empty completion")
		}
		return resp.Choices[0].Content, nil
	},
		retry.Attempts(ce.config.Retries),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ce.log.Warn("completion retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	return answer, nil
}

// Stream generates the response incrementally. The returned channel is closed
// after the final fragment; a failed call delivers a single Token carrying
// the error.
func (ce *ChatEngine) Stream(ctx context.Context, turns []models.Turn) <-chan types.Token {
	out := make(chan types.Token)
	content := toContent(turns)

	go func() {
		defer close(out)

		callCtx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
		defer cancel()

		_, err := ce.llm.GenerateContent(callCtx, content,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithStreamingFunc(func(fnCtx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				select {
				case out <- types.Token{Content: string(chunk)}:
					return nil
				case <-fnCtx.Done():
					return fnCtx.Err()
				}
			}),
		)
		if err != nil {
			select {
			case out <- types.Token{Err: fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)}:
			case <-ctx.Done():
			}
		}
	}()

	return out
}

func toContent(turns []models.Turn) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(turns))
	for _, turn := range turns {
		role := llms.ChatMessageTypeHuman
		switch turn.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, turn.Content))
	}
	return content
}
