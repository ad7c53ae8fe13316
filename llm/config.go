package llm

import "time"

// 后端名称
const (
	BackendCloud = "cloud"
	BackendLocal = "local"
)

// 云端协议
const (
	ProtocolOpenAI = "openai"
	ProtocolGemini = "gemini"
)

// Config is the llm section of the service configuration.
type Config struct {
	Backend string      `yaml:"backend"`
	Cloud   CloudConfig `yaml:"cloud"`
	Local   LocalConfig `yaml:"local"`
}

// CloudConfig 云端 LLM，配置了 api_key 即启用
type CloudConfig struct {
	Protocol    string          `yaml:"protocol"`
	APIKey      string          `yaml:"api_key"`
	BaseURL     string          `yaml:"base_url"`
	Model       string          `yaml:"model"`
	Timeout     time.Duration   `yaml:"timeout"`
	MaxTokens   int             `yaml:"max_tokens"`
	Temperature float64         `yaml:"temperature"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// LocalConfig 局域网 llama.cpp server
type LocalConfig struct {
	Enabled     bool            `yaml:"enabled"`
	APIURL      string          `yaml:"api_url"`
	APIKey      string          `yaml:"api_key"`
	Model       string          `yaml:"model"`
	Timeout     time.Duration   `yaml:"timeout"`
	MaxTokens   int             `yaml:"max_tokens"`
	Temperature float64         `yaml:"temperature"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig 频率限制，默认关闭
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerMinute int  `yaml:"per_minute"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendCloud
	}

	if c.Cloud.Protocol == "" {
		c.Cloud.Protocol = ProtocolOpenAI
	}
	if c.Cloud.BaseURL == "" && c.Cloud.Protocol == ProtocolOpenAI {
		c.Cloud.BaseURL = "https://api.deepseek.com"
	}
	if c.Cloud.Model == "" {
		if c.Cloud.Protocol == ProtocolGemini {
			c.Cloud.Model = "gemini-2.5-flash"
		} else {
			c.Cloud.Model = "deepseek-chat"
		}
	}
	if c.Cloud.Timeout <= 0 {
		c.Cloud.Timeout = 60 * time.Second
	}
	if c.Cloud.MaxTokens <= 0 {
		c.Cloud.MaxTokens = 2000
	}
	if c.Cloud.Temperature == 0 {
		c.Cloud.Temperature = 0.7
	}
	if c.Cloud.RateLimit.PerMinute <= 0 {
		c.Cloud.RateLimit.PerMinute = 60
	}

	if c.Local.APIURL == "" {
		c.Local.APIURL = "http://localhost:8080"
	}
	if c.Local.Timeout <= 0 {
		c.Local.Timeout = 120 * time.Second
	}
	if c.Local.MaxTokens <= 0 {
		c.Local.MaxTokens = 4096
	}
	if c.Local.Temperature == 0 {
		c.Local.Temperature = 0.7
	}
	if c.Local.RateLimit.PerMinute <= 0 {
		c.Local.RateLimit.PerMinute = 120
	}
}
