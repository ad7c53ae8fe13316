// Package llm 封装云端和局域网两类 LLM 后端。
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend is one LLM endpoint.
type Backend interface {
	Name() string
	Enabled() bool
	Timeout() time.Duration
	Complete(ctx context.Context, prompt, systemPrompt string) (string, error)
	HealthCheck(ctx context.Context) error
}

// Gateway routes completions to the backend selected by Config.Backend.
// There is no failover between backends.
type Gateway struct {
	mu       sync.RWMutex
	selected string
	backends map[string]Backend
	logger   *zap.Logger
}

// NewGateway 根据配置构建两个后端并选中 cfg.Backend
func NewGateway(ctx context.Context, cfg Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{logger: logger}
	if err := g.Reconfigure(ctx, cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGatewayWith wraps prebuilt backends; selected must be one of their names.
func NewGatewayWith(selected string, backends ...Backend) *Gateway {
	g := &Gateway{selected: selected, backends: make(map[string]Backend), logger: zap.NewNop()}
	for _, b := range backends {
		g.backends[b.Name()] = b
	}
	return g
}

// Reconfigure rebuilds the backends and swaps them in atomically.
func (g *Gateway) Reconfigure(ctx context.Context, cfg Config) error {
	cfg.ApplyDefaults()
	if cfg.Backend != BackendCloud && cfg.Backend != BackendLocal {
		return fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}

	var cloud Backend
	switch cfg.Cloud.Protocol {
	case ProtocolOpenAI:
		cloud = NewCloudChatClient(cfg.Cloud)
	case ProtocolGemini:
		gc, err := NewGeminiClient(ctx, cfg.Cloud)
		if err != nil {
			return err
		}
		cloud = gc
	default:
		return fmt.Errorf("unknown cloud llm protocol %q", cfg.Cloud.Protocol)
	}

	backends := map[string]Backend{
		BackendCloud: cloud,
		BackendLocal: NewLocalChatClient(cfg.Local),
	}

	g.mu.Lock()
	g.selected = cfg.Backend
	g.backends = backends
	g.mu.Unlock()

	g.logger.Info("LLM 后端已配置",
		zap.String("backend", cfg.Backend),
		zap.String("cloud_protocol", cfg.Cloud.Protocol),
		zap.Bool("cloud_enabled", cloud.Enabled()),
		zap.Bool("local_enabled", cfg.Local.Enabled))
	return nil
}

func (g *Gateway) current() Backend {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.backends[g.selected]
}

// Name returns the selected backend name.
func (g *Gateway) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selected
}

func (g *Gateway) Enabled() bool {
	b := g.current()
	return b != nil && b.Enabled()
}

func (g *Gateway) Timeout() time.Duration {
	if b := g.current(); b != nil {
		return b.Timeout()
	}
	return 0
}

// Complete 调用当前选中的后端
func (g *Gateway) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	b := g.current()
	if b == nil || !b.Enabled() {
		return "", fmt.Errorf("%s: %w", g.Name(), ErrUnavailable)
	}

	start := time.Now()
	out, err := b.Complete(ctx, prompt, systemPrompt)
	if err != nil {
		g.logger.Warn("LLM 调用失败",
			zap.String("backend", b.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}
	g.logger.Debug("LLM 调用完成",
		zap.String("backend", b.Name()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_len", len(out)))
	return out, nil
}

// BackendStatus 单个后端的状态
type BackendStatus struct {
	Name      string        `json:"name"`
	Selected  bool          `json:"selected"`
	Enabled   bool          `json:"enabled"`
	Healthy   bool          `json:"healthy"`
	Error     string        `json:"error,omitempty"`
	RateLimit *LimiterStats `json:"rate_limit,omitempty"`
}

type limited interface {
	Limiter() *Limiter
}

// Status health-checks every enabled backend.
func (g *Gateway) Status(ctx context.Context) []BackendStatus {
	g.mu.RLock()
	selected := g.selected
	backends := make([]Backend, 0, len(g.backends))
	for _, name := range []string{BackendCloud, BackendLocal} {
		if b, ok := g.backends[name]; ok {
			backends = append(backends, b)
		}
	}
	g.mu.RUnlock()

	out := make([]BackendStatus, 0, len(backends))
	for _, b := range backends {
		s := BackendStatus{Name: b.Name(), Selected: b.Name() == selected, Enabled: b.Enabled()}
		if l, ok := b.(limited); ok {
			stats := l.Limiter().Stats()
			s.RateLimit = &stats
		}
		if s.Enabled {
			if err := b.HealthCheck(ctx); err != nil {
				s.Error = err.Error()
			} else {
				s.Healthy = true
			}
		}
		out = append(out, s)
	}
	return out
}
