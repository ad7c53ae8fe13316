package providers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/cache"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
)

// DataProvider 数据提供者接口
type DataProvider interface {
	Name() string
	Priority() int
	FetchInfo(ctx context.Context, code string) (*market.StockInfo, error)
	FetchQuote(ctx context.Context, code string) (*market.Quote, error)
	FetchKLines(ctx context.Context, code string, days int) ([]market.PriceBar, error)
	FetchFundFlow(ctx context.Context, code string) (*market.FundFlow, error)
	HealthCheck(ctx context.Context) error
}

// Facade is what the diagnosis pipeline consumes.
type Facade interface {
	GetBasicInfo(ctx context.Context, code string) (*market.StockInfo, error)
	GetRealtimeQuote(ctx context.Context, code string) (*market.Quote, error)
	GetDailyBars(ctx context.Context, code string, days int) ([]market.PriceBar, error)
	GetFundFlow(ctx context.Context, code string) (*market.FundFlow, error)
}

// 默认参数
const (
	DefaultQuoteTTL        = 30 * time.Second
	DefaultQuoteRetryDelay = 500 * time.Millisecond
	defaultHealthInterval  = 30 * time.Second
)

// ManagerOptions configures a ProviderManager.
type ManagerOptions struct {
	QuoteTTL            time.Duration
	QuoteRetryDelay     time.Duration
	HealthCheckInterval time.Duration
	// Industry 补齐数据源未返回的行业字段，可为 nil
	Industry            *market.IndustryMap
	Logger              *zap.Logger
}

// ProviderManager 数据源管理器: 按优先级故障切换，并带实时行情短缓存
type ProviderManager struct {
	providers           []DataProvider
	primary             DataProvider
	health              map[string]bool
	healthMu            sync.RWMutex
	healthCheckInterval time.Duration
	stopChan            chan struct{}
	stopOnce            sync.Once
	mu                  sync.RWMutex

	quotes     *cache.Cache
	retryDelay time.Duration
	industry   *market.IndustryMap
	logger     *zap.Logger
}

var _ Facade = (*ProviderManager)(nil)

// NewProviderManager 创建数据源管理器
func NewProviderManager(opts ManagerOptions) *ProviderManager {
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = DefaultQuoteTTL
	}
	if opts.QuoteRetryDelay <= 0 {
		opts.QuoteRetryDelay = DefaultQuoteRetryDelay
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = defaultHealthInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &ProviderManager{
		providers:           make([]DataProvider, 0),
		health:              make(map[string]bool),
		healthCheckInterval: opts.HealthCheckInterval,
		stopChan:            make(chan struct{}),
		quotes:              cache.New(nil, cache.Options{Size: 512, TTL: opts.QuoteTTL, Logger: opts.Logger}),
		retryDelay:          opts.QuoteRetryDelay,
		industry:            opts.Industry,
		logger:              opts.Logger,
	}
}

// AddProvider 添加数据提供者，优先级最高者成为主数据源
func (pm *ProviderManager) AddProvider(provider DataProvider) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.providers = append(pm.providers, provider)
	sort.SliceStable(pm.providers, func(i, j int) bool {
		return pm.providers[i].Priority() > pm.providers[j].Priority()
	})

	pm.healthMu.Lock()
	pm.health[provider.Name()] = true
	pm.healthMu.Unlock()

	if pm.primary == nil || provider.Priority() > pm.primary.Priority() {
		pm.primary = provider
	}
}

// SetPrimaryProvider 设置主要数据提供者
func (pm *ProviderManager) SetPrimaryProvider(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, provider := range pm.providers {
		if provider.Name() == name {
			pm.primary = provider
			return nil
		}
	}

	return newError(KindProviderNotFound, name, "set_primary", nil)
}

// GetPrimaryProvider 获取当前主数据源
func (pm *ProviderManager) GetPrimaryProvider() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.primary == nil {
		return ""
	}
	return pm.primary.Name()
}

// candidates 主数据源在前，其余按优先级排列并跳过不健康的
func (pm *ProviderManager) candidates() []DataProvider {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]DataProvider, 0, len(pm.providers))
	if pm.primary != nil {
		out = append(out, pm.primary)
	}
	for _, p := range pm.providers {
		if p == pm.primary || !pm.isHealthy(p.Name()) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// failover tries each candidate in turn. When every attempt came back empty
// the result is ErrNoData; otherwise an all_failed ProviderError joining the
// causes.
func failover[T any](ctx context.Context, pm *ProviderManager, op, code string, call func(DataProvider) (T, error)) (T, error) {
	var zero T
	var errs []error
	allEmpty := true

	for i, p := range pm.candidates() {
		if err := ctx.Err(); err != nil {
			return zero, newError(KindTransient, "", op, err)
		}
		v, err := call(p)
		if err == nil {
			if i > 0 {
				pm.logger.Info("使用备用数据源",
					zap.String("provider", p.Name()),
					zap.String("op", op),
					zap.String("code", code))
			}
			return v, nil
		}

		kind := KindOf(err)
		if kind == KindUnsupported {
			continue
		}
		if kind != KindNotFound {
			allEmpty = false
		}
		errs = append(errs, err)
		pm.logger.Warn("数据源请求失败",
			zap.String("provider", p.Name()),
			zap.String("op", op),
			zap.String("code", code),
			zap.Error(err))
	}

	if allEmpty {
		return zero, ErrNoData
	}
	return zero, newError(KindAllFailed, "", op, errors.Join(errs...))
}

// GetBasicInfo 获取股票基本信息
func (pm *ProviderManager) GetBasicInfo(ctx context.Context, code string) (*market.StockInfo, error) {
	code = market.NormalizeCode(code)
	info, err := failover(ctx, pm, "info", code, func(p DataProvider) (*market.StockInfo, error) {
		return p.FetchInfo(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	if info.Market == "" {
		info.Market = market.MarketOf(code)
	}
	if info.Industry == "" {
		if ind, ok := pm.industry.Lookup(code); ok {
			info.Industry = ind.Industry
		}
	}
	return info, nil
}

// GetDailyBars 获取最近 days 根日K线(升序)
func (pm *ProviderManager) GetDailyBars(ctx context.Context, code string, days int) ([]market.PriceBar, error) {
	code = market.NormalizeCode(code)
	bars, err := failover(ctx, pm, "klines", code, func(p DataProvider) ([]market.PriceBar, error) {
		bars, err := p.FetchKLines(ctx, code, days)
		if err == nil && len(bars) == 0 {
			return nil, ErrNoData
		}
		return bars, err
	})
	if err != nil {
		return nil, err
	}
	bars, report := market.CleanBars(bars)
	if report.Rejected > 0 {
		pm.logger.Warn("K线数据存在异常，已剔除",
			zap.String("code", code),
			zap.Int("rejected", report.Rejected),
			zap.Int("corrected", report.Corrected),
			zap.Stringers("issues", report.Issues))
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars, nil
}

// GetFundFlow 获取资金流向
func (pm *ProviderManager) GetFundFlow(ctx context.Context, code string) (*market.FundFlow, error) {
	code = market.NormalizeCode(code)
	return failover(ctx, pm, "fund_flow", code, func(p DataProvider) (*market.FundFlow, error) {
		return p.FetchFundFlow(ctx, code)
	})
}

// GetRealtimeQuote 实时行情: 短缓存 -> 实时拉取(失败重试一次) -> 由最新日线推算
func (pm *ProviderManager) GetRealtimeQuote(ctx context.Context, code string) (*market.Quote, error) {
	code = market.NormalizeCode(code)

	if raw, ok := pm.quotes.Get(ctx, code, cache.CategoryQuote, ""); ok {
		var q market.Quote
		if err := json.Unmarshal(raw, &q); err == nil {
			q.Source = market.QuoteSourceCached
			return &q, nil
		}
	}

	q, err := pm.fetchQuote(ctx, code)
	if err == nil {
		if raw, merr := json.Marshal(q); merr == nil {
			pm.quotes.Set(ctx, code, cache.CategoryQuote, "", raw, "")
		}
		return q, nil
	}

	derived, derr := pm.deriveQuote(ctx, code)
	if derr != nil {
		return nil, err
	}
	pm.logger.Info("实时行情不可用，使用日线推算",
		zap.String("code", code),
		zap.Error(err))
	return derived, nil
}

func (pm *ProviderManager) fetchQuote(ctx context.Context, code string) (*market.Quote, error) {
	call := func(p DataProvider) (*market.Quote, error) {
		return p.FetchQuote(ctx, code)
	}

	q, err := failover(ctx, pm, "quote", code, call)
	if err == nil || errors.Is(err, ErrNoData) {
		return q, err
	}

	select {
	case <-time.After(pm.retryDelay):
	case <-ctx.Done():
		return nil, err
	}
	return failover(ctx, pm, "quote", code, call)
}

func (pm *ProviderManager) deriveQuote(ctx context.Context, code string) (*market.Quote, error) {
	bars, err := pm.GetDailyBars(ctx, code, 2)
	if err != nil {
		return nil, err
	}

	last := bars[len(bars)-1]
	q := &market.Quote{
		Code:      code,
		Price:     last.Close,
		ChangePct: last.ChangePct,
		Volume:    last.Volume,
		Amount:    last.Amount,
		High:      last.High,
		Low:       last.Low,
		Open:      last.Open,
		Turnover:  last.Turnover,
		Source:    market.QuoteSourceDerived,
		Time:      time.Now(),
	}
	if len(bars) > 1 {
		prev := bars[len(bars)-2].Close
		q.PrevClose = prev
		q.ChangeAmount = last.Close - prev
		if prev > 0 {
			q.Amplitude = (last.High - last.Low) / prev * 100
		}
	}
	return q, nil
}

// QuoteStats 实时行情短缓存命中统计
func (pm *ProviderManager) QuoteStats() cache.Stats {
	return pm.quotes.Stats()
}

// isHealthy 检查数据源是否健康
func (pm *ProviderManager) isHealthy(name string) bool {
	pm.healthMu.RLock()
	defer pm.healthMu.RUnlock()
	return pm.health[name]
}

// StartHealthChecks 启动健康检查
func (pm *ProviderManager) StartHealthChecks() {
	pm.mu.RLock()
	providers := make([]DataProvider, len(pm.providers))
	copy(providers, pm.providers)
	pm.mu.RUnlock()

	for _, provider := range providers {
		go pm.monitorProvider(provider)
	}
}

// monitorProvider 监控数据源健康状态
func (pm *ProviderManager) monitorProvider(provider DataProvider) {
	ticker := time.NewTicker(pm.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pm.checkProvider(provider)
		case <-pm.stopChan:
			return
		}
	}
}

func (pm *ProviderManager) checkProvider(provider DataProvider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := provider.HealthCheck(ctx)
	pm.healthMu.Lock()
	defer pm.healthMu.Unlock()
	if err != nil {
		if pm.health[provider.Name()] {
			pm.logger.Warn("数据源健康检查失败", zap.String("provider", provider.Name()), zap.Error(err))
		}
		pm.health[provider.Name()] = false
		return
	}
	pm.health[provider.Name()] = true
}

// StopHealthChecks 停止健康检查
func (pm *ProviderManager) StopHealthChecks() {
	pm.stopOnce.Do(func() { close(pm.stopChan) })
}

// GetProvidersStatus 获取所有数据源状态
func (pm *ProviderManager) GetProvidersStatus() map[string]bool {
	pm.healthMu.RLock()
	defer pm.healthMu.RUnlock()

	status := make(map[string]bool)
	for name, healthy := range pm.health {
		status[name] = healthy
	}
	return status
}
