package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CompletionRequest is one prompt sent to the completion oracle
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
	Model     string
}

// Oracle is an unreliable text completion service. Its output is not
// guaranteed to be valid JSON.
type Oracle interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// OracleFunc adapts a function to the Oracle interface
type OracleFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete calls f
func (f OracleFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// OpenAIConfig configures the OpenAI oracle
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIClient is the Oracle backed by the OpenAI chat completion API
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}, nil
}

// Complete sends one chat completion and returns the first choice
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	startTime := time.Now()

	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	model := req.Model
	if model == "" {
		model = o.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: o.temperature,
		MaxTokens:   maxTokens,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices from OpenAI")
	}

	o.logger.Debug("Oracle completion finished",
		zap.String("model", model),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Float64("estimated_cost", o.calculateCost(resp.Usage.TotalTokens)),
		zap.Duration("elapsed", time.Since(startTime)),
	)

	return resp.Choices[0].Message.Content, nil
}

// calculateCost estimates the cost based on tokens used
func (o *OpenAIClient) calculateCost(tokensUsed int) float64 {
	// blended gpt-4o-mini rate per 1K tokens
	return float64(tokensUsed) * 0.0003 / 1000.0
}

// GetModel returns the default model
func (o *OpenAIClient) GetModel() string {
	return o.model
}

// GetMaxTokens returns the default max tokens setting
func (o *OpenAIClient) GetMaxTokens() int {
	return o.maxTokens
}

// RateLimitedOracle paces calls to an oracle. The oracle is rate sensitive and
// must not receive bursts.
type RateLimitedOracle struct {
	next    Oracle
	limiter *rate.Limiter
}

// NewRateLimitedOracle wraps next with a token bucket of rps and burst
func NewRateLimitedOracle(next Oracle, rps float64, burst int) *RateLimitedOracle {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RateLimitedOracle{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Complete waits for a token, then calls the wrapped oracle
func (r *RateLimitedOracle) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle rate limit wait: %w", err)
	}
	return r.next.Complete(ctx, req)
}
