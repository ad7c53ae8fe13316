package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiClient is the cloud backend when protocol is "gemini".
type GeminiClient struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	maxTokens   int32
	temperature float32
	limiter     *Limiter
}

var _ Backend = (*GeminiClient)(nil)

// NewGeminiClient 未配置 api_key 时返回未启用的客户端
func NewGeminiClient(ctx context.Context, cfg CloudConfig) (*GeminiClient, error) {
	g := &GeminiClient{
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
		limiter:     NewLimiter(cfg.RateLimit),
	}
	if cfg.APIKey == "" {
		return g, nil
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *GeminiClient) Name() string {
	return BackendCloud
}

func (g *GeminiClient) Enabled() bool {
	return g != nil && g.client != nil
}

func (g *GeminiClient) Timeout() time.Duration {
	return g.timeout
}

func (g *GeminiClient) Limiter() *Limiter {
	return g.limiter
}

func (g *GeminiClient) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if !g.Enabled() {
		return "", fmt.Errorf("%s: %w", g.Name(), ErrUnavailable)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", &CallError{Backend: g.Name(), Detail: err.Error(), Err: ErrRateLimited}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: g.maxTokens,
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		if isTimeout(err) {
			return "", &CallError{Backend: g.Name(), Detail: fmt.Sprintf("no response within %s", g.timeout), Err: ErrTimeout}
		}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &CallError{Backend: g.Name(), Status: apiErr.Code, Detail: apiErr.Message}
		}
		return "", &CallError{Backend: g.Name(), Detail: err.Error()}
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", &CallError{Backend: g.Name(), Detail: "empty response"}
	}
	return text, nil
}

func (g *GeminiClient) HealthCheck(ctx context.Context) error {
	_, err := g.Complete(ctx, "Hello", "Reply with 'OK' only.")
	return err
}
