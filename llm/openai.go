package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ChatClient talks to an OpenAI-compatible /v1/chat/completions endpoint.
// DeepSeek (cloud) and llama.cpp server (local) both speak it.
type ChatClient struct {
	name        string
	enabled     bool
	apiKey      string
	model       string
	baseURL     string
	client      *http.Client
	timeout     time.Duration
	maxTokens   int
	temperature float64
	limiter     *Limiter
	// healthPath 非空时健康检查走 GET，否则发送一次极短的补全
	healthPath string
}

var _ Backend = (*ChatClient)(nil)

// NewCloudChatClient 云端 OpenAI 兼容接口，配置了 api_key 即启用
func NewCloudChatClient(cfg CloudConfig) *ChatClient {
	return &ChatClient{
		name:        BackendCloud,
		enabled:     cfg.APIKey != "",
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		client:      &http.Client{Timeout: cfg.Timeout},
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     NewLimiter(cfg.RateLimit),
	}
}

// NewLocalChatClient 局域网 llama.cpp server
func NewLocalChatClient(cfg LocalConfig) *ChatClient {
	return &ChatClient{
		name:        BackendLocal,
		enabled:     cfg.Enabled,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.APIURL, "/"),
		client:      &http.Client{Timeout: cfg.Timeout},
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     NewLimiter(cfg.RateLimit),
		healthPath:  "/health",
	}
}

func (c *ChatClient) Name() string {
	return c.name
}

func (c *ChatClient) Enabled() bool {
	return c != nil && c.enabled
}

func (c *ChatClient) Timeout() time.Duration {
	return c.timeout
}

func (c *ChatClient) Limiter() *Limiter {
	return c.limiter
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one non-streaming chat completion and returns the content.
func (c *ChatClient) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("%s: %w", c.name, ErrUnavailable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &CallError{Backend: c.name, Detail: err.Error(), Err: ErrRateLimited}
	}

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &CallError{Backend: c.name, Detail: err.Error(), Err: ErrUnavailable}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(body))
		var apiErr chatErrorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		return "", &CallError{Backend: c.name, Status: resp.StatusCode, Detail: detail}
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", c.transportError(err)
	}
	if len(apiResp.Choices) == 0 {
		return "", &CallError{Backend: c.name, Status: resp.StatusCode, Detail: "empty response"}
	}
	return apiResp.Choices[0].Message.Content, nil
}

func (c *ChatClient) transportError(err error) error {
	if isTimeout(err) {
		return &CallError{Backend: c.name, Detail: fmt.Sprintf("no response within %s", c.timeout), Err: ErrTimeout}
	}
	return &CallError{Backend: c.name, Detail: err.Error()}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// HealthCheck local: GET /health 返回 200；cloud: 一次极短的补全
func (c *ChatClient) HealthCheck(ctx context.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("%s: %w", c.name, ErrUnavailable)
	}

	if c.healthPath == "" {
		_, err := c.Complete(ctx, "Hello", "Reply with 'OK' only.")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &CallError{Backend: c.name, Status: resp.StatusCode, Detail: "health check failed"}
	}
	return nil
}
