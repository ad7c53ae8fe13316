// Package config 加载 YAML 配置，.env 与环境变量覆盖密钥，并支持热加载
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	qhttp "github.com/shoswaller/Ghetto-style-Quant-Trading/http"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/llm"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/logging"
)

// 持久层驱动
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config 服务配置
type Config struct {
	Server    qhttp.ServerConfig `yaml:"server"`
	Log       logging.Config     `yaml:"log"`
	Cache     CacheConfig        `yaml:"cache"`
	Data      DataConfig         `yaml:"data"`
	LLM       llm.Config         `yaml:"llm"`
	Analysis  AnalysisConfig     `yaml:"analysis"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
}

// CacheConfig 两级缓存
type CacheConfig struct {
	Driver   string        `yaml:"driver"`
	FastSize int           `yaml:"fast_size"`
	FastTTL  time.Duration `yaml:"fast_ttl"`
	SQLite   struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Expiry ExpiryConfig `yaml:"expiry"`
}

// ExpiryConfig 按交易时段计算的过期规则
type ExpiryConfig struct {
	Cutoff       string        `yaml:"cutoff"` // HH:MM
	WeeklyTarget string        `yaml:"weekly_target"`
	LongTerm     time.Duration `yaml:"long_term"`
	Timezone     string        `yaml:"timezone"`
}

// DataConfig 行情数据源
type DataConfig struct {
	Providers           []string      `yaml:"providers"`
	Primary             string        `yaml:"primary"`
	Timeout             time.Duration `yaml:"timeout"`
	QuoteTTL            time.Duration `yaml:"quote_ttl"`
	QuoteRetryDelay     time.Duration `yaml:"quote_retry_delay"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	IndustryFile        string        `yaml:"industry_file"`
}

// AnalysisConfig 诊断参数
type AnalysisConfig struct {
	DefaultCategory string `yaml:"default_category"`
	HistoryDays     int    `yaml:"history_days"`
}

// SchedulerConfig 收盘后预热
type SchedulerConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Spec       string   `yaml:"spec"`
	Symbols    []string `yaml:"symbols"`
	Categories []string `yaml:"categories"`
}

// Default 返回全部默认值
func Default() *Config {
	cfg := &Config{Server: qhttp.DefaultServerConfig()}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	def := qhttp.DefaultServerConfig()
	if c.Server.Port == 0 {
		c.Server.Port = def.Port
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = def.ReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = def.WriteTimeout
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = def.AllowedOrigins
	}

	c.Log.ApplyDefaults()

	if c.Cache.Driver == "" {
		c.Cache.Driver = DriverSQLite
	}
	if c.Cache.FastSize <= 0 {
		c.Cache.FastSize = 1000
	}
	if c.Cache.FastTTL <= 0 {
		c.Cache.FastTTL = 5 * time.Minute
	}
	if c.Cache.SQLite.Path == "" {
		c.Cache.SQLite.Path = "data/stock_analysis.db"
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Cache.Expiry.Cutoff == "" {
		c.Cache.Expiry.Cutoff = "15:30"
	}
	if c.Cache.Expiry.WeeklyTarget == "" {
		c.Cache.Expiry.WeeklyTarget = "sunday"
	}
	if c.Cache.Expiry.LongTerm <= 0 {
		c.Cache.Expiry.LongTerm = 7 * 24 * time.Hour
	}

	if len(c.Data.Providers) == 0 {
		c.Data.Providers = []string{"eastmoney", "sina", "tencent"}
	}
	if c.Data.Timeout <= 0 {
		c.Data.Timeout = 10 * time.Second
	}

	c.LLM.ApplyDefaults()

	if c.Analysis.DefaultCategory == "" {
		c.Analysis.DefaultCategory = "daily"
	}
	if c.Analysis.HistoryDays <= 0 {
		c.Analysis.HistoryDays = 60
	}

	if c.Scheduler.Spec == "" {
		c.Scheduler.Spec = "0 40 15 * * 1-5"
	}
	if len(c.Scheduler.Categories) == 0 {
		c.Scheduler.Categories = []string{"daily"}
	}
}

// Load 读取 path；文件不存在时使用默认值。.env 中的变量不会覆盖已有环境变量。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量优先于配置文件
func (c *Config) applyEnv() {
	setString(&c.LLM.Backend, "LLM_BACKEND")
	setString(&c.LLM.Cloud.APIKey, "CLOUD_API_KEY")
	setString(&c.LLM.Cloud.BaseURL, "CLOUD_BASE_URL")
	setString(&c.LLM.Cloud.Model, "CLOUD_MODEL")
	setString(&c.LLM.Cloud.Protocol, "CLOUD_PROTOCOL")
	setString(&c.LLM.Local.APIURL, "LOCAL_LLM_URL")
	setString(&c.LLM.Local.APIKey, "LOCAL_LLM_API_KEY")
	setString(&c.Cache.Driver, "CACHE_DRIVER")
	setString(&c.Cache.Redis.Addr, "REDIS_ADDR")
	setString(&c.Cache.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Driver {
	case DriverSQLite, DriverRedis, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver))
	}
	if _, _, err := ParseCutoff(c.Cache.Expiry.Cutoff); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseWeekday(c.Cache.Expiry.WeeklyTarget); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.Expiry.Timezone != "" {
		if _, err := time.LoadLocation(c.Cache.Expiry.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("cache.expiry.timezone: %w", err))
		}
	}
	switch c.LLM.Backend {
	case llm.BackendCloud, llm.BackendLocal:
	default:
		errs = append(errs, fmt.Errorf("llm.backend: unknown backend %q", c.LLM.Backend))
	}
	switch c.Analysis.DefaultCategory {
	case "daily", "weekly", "longterm":
	default:
		errs = append(errs, fmt.Errorf("analysis.default_category: unknown category %q", c.Analysis.DefaultCategory))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// ParseCutoff parses "HH:MM".
func ParseCutoff(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("cache.expiry.cutoff: %q is not HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseWeekday accepts English weekday names, case-insensitive.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("cache.expiry.weekly_target: unknown weekday %q", s)
}

// Location 过期计算使用的时区，未配置时为本地时区
func (e ExpiryConfig) Location() *time.Location {
	if e.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
