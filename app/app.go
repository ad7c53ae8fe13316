// Package app 按配置组装各组件
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/cache"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/config"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/db"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/diagnosis"
	qhttp "github.com/shoswaller/Ghetto-style-Quant-Trading/http"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/llm"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market/providers"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/monitoring"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/scheduler"
)

// App holds the wired components. Close releases the durable store.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Providers *providers.ProviderManager
	Cache     *cache.Cache
	Gateway   *llm.Gateway
	Hub       *qhttp.Hub
	Metrics   *monitoring.DiagnosisMetrics
	Diagnosis *diagnosis.Service
	Scheduler *scheduler.Scheduler

	closers []io.Closer
}

// New 组装全部组件。持久层连接失败时退化为仅内存缓存。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	pm, err := NewProviderManager(cfg.Data, logger)
	if err != nil {
		return nil, err
	}
	a.Providers = pm

	store, closer := a.openStore(ctx)
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	policy, err := ExpiryPolicy(cfg.Cache.Expiry)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = cache.New(store, cache.Options{
		Size:   cfg.Cache.FastSize,
		TTL:    cfg.Cache.FastTTL,
		Policy: &policy,
		Logger: logger.Named("cache"),
	})

	a.Gateway, err = llm.NewGateway(ctx, cfg.LLM, logger.Named("llm"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("llm gateway: %w", err)
	}
	if !a.Gateway.Enabled() {
		logger.Warn("当前 LLM 后端未启用，诊断接口将返回 503", zap.String("backend", a.Gateway.Name()))
	}

	a.Hub = qhttp.NewHub(logger.Named("ws"))
	a.Metrics = monitoring.NewDiagnosisMetrics()
	a.Diagnosis = diagnosis.NewService(pm, a.Cache, a.Gateway, diagnosis.Options{
		HistoryDays:     cfg.Analysis.HistoryDays,
		DefaultCategory: cfg.Analysis.DefaultCategory,
		Observer:        diagnosis.Observers{a.Hub, a.Metrics},
		Logger:          logger.Named("diagnosis"),
	})

	if cfg.Scheduler.Enabled {
		a.Scheduler, err = scheduler.New(a.Diagnosis, scheduler.Options{
			Spec:       cfg.Scheduler.Spec,
			Symbols:    cfg.Scheduler.Symbols,
			Categories: cfg.Scheduler.Categories,
			Logger:     logger.Named("scheduler"),
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// NewProviderManager 按配置顺序注册数据源，靠前的优先级更高
func NewProviderManager(cfg config.DataConfig, logger *zap.Logger) (*providers.ProviderManager, error) {
	var industry *market.IndustryMap
	if cfg.IndustryFile != "" {
		m, err := market.LoadIndustryMap(cfg.IndustryFile)
		if err != nil {
			logger.Warn("行业映射加载失败，跳过行业补齐", zap.String("path", cfg.IndustryFile), zap.Error(err))
		} else {
			industry = m
		}
	}

	pm := providers.NewProviderManager(providers.ManagerOptions{
		QuoteTTL:            cfg.QuoteTTL,
		QuoteRetryDelay:     cfg.QuoteRetryDelay,
		HealthCheckInterval: cfg.HealthCheckInterval,
		Industry:            industry,
		Logger:              logger.Named("providers"),
	})
	for _, name := range cfg.Providers {
		switch name {
		case "eastmoney":
			pm.AddProvider(providers.NewEastmoneyProvider(cfg.Timeout))
		case "sina":
			pm.AddProvider(providers.NewSinaProvider(cfg.Timeout))
		case "tencent":
			pm.AddProvider(providers.NewTencentProvider(cfg.Timeout))
		case "mock":
			pm.AddProvider(providers.NewMockProvider())
		default:
			return nil, fmt.Errorf("data.providers: unknown provider %q", name)
		}
	}
	if cfg.Primary != "" {
		if err := pm.SetPrimaryProvider(cfg.Primary); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

// ExpiryPolicy converts the config section to a cache policy.
func ExpiryPolicy(cfg config.ExpiryConfig) (cache.ExpiryPolicy, error) {
	policy := cache.DefaultExpiryPolicy()
	h, m, err := config.ParseCutoff(cfg.Cutoff)
	if err != nil {
		return policy, err
	}
	weekday, err := config.ParseWeekday(cfg.WeeklyTarget)
	if err != nil {
		return policy, err
	}
	policy.CutoffHour, policy.CutoffMinute = h, m
	policy.WeeklyTarget = weekday
	if cfg.LongTerm > 0 {
		policy.LongTerm = cfg.LongTerm
	}
	policy.Location = cfg.Location()
	return policy, nil
}

func (a *App) openStore(ctx context.Context) (cache.Store, io.Closer) {
	cfg := a.Config.Cache
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := db.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			a.Logger.Warn("SQLite 不可用，仅使用内存缓存", zap.String("path", cfg.SQLite.Path), zap.Error(err))
			return nil, nil
		}
		return s, s
	case config.DriverRedis:
		s, err := db.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Logger.Warn("Redis 不可用，仅使用内存缓存", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			return nil, nil
		}
		return s, s
	}
	return nil, nil
}

// Reload 热加载时只替换 LLM 后端；其余配置需重启生效
func (a *App) Reload(ctx context.Context, cfg *config.Config) error {
	if err := a.Gateway.Reconfigure(ctx, cfg.LLM); err != nil {
		return err
	}
	a.Logger.Info("LLM 配置已更新", zap.String("backend", a.Gateway.Name()), zap.Bool("enabled", a.Gateway.Enabled()))
	return nil
}

// HTTPDeps 供 HTTP 层使用的依赖
func (a *App) HTTPDeps() qhttp.Deps {
	return qhttp.Deps{
		Diagnosis: a.Diagnosis,
		Data:      a.Providers,
		Cache:     a.Cache,
		LLM:       a.Gateway,
		Providers: a.Providers,
		Hub:       a.Hub,
		Metrics:   a.Metrics,
		Logger:    a.Logger.Named("http"),
	}
}

// Close 释放持久层连接
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
