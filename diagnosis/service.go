// Package diagnosis 个股诊断流水线：取数、指纹、缓存、指标、LLM 分析。
package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/cache"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market/providers"
)

// Input errors are the caller's to fix; ErrServiceUnavailable is retryable later.
var (
	ErrInvalidCode        = errors.New("invalid stock code")
	ErrInvalidCategory    = errors.New("invalid analysis category")
	ErrStockNotFound      = errors.New("stock not found")
	ErrNoHistory          = errors.New("no price history")
	ErrServiceUnavailable = errors.New("analysis service unavailable")
)

// IsInputError reports whether err is caused by the request itself.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrStockNotFound) ||
		errors.Is(err, ErrNoHistory)
}

// DefaultHistoryDays 诊断使用的日K线数量
const DefaultHistoryDays = 60

// LLM is the slice of the gateway the pipeline needs.
type LLM interface {
	Enabled() bool
	Timeout() time.Duration
	Complete(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// Request 诊断请求
type Request struct {
	Code         string `json:"code"`
	Preference   string `json:"strategy_preference"`
	ForceRefresh bool   `json:"force_refresh"`
	Category     string `json:"category"`
	RequestID    string `json:"-"`
}

// Result 诊断结果。GeneratedAt 为 nil 表示结果来自缓存。
type Result struct {
	StockInfo   *market.StockInfo `json:"stock_info"`
	Analysis    Analysis          `json:"analysis"`
	Cached      bool              `json:"cached"`
	GeneratedAt *time.Time        `json:"generated_at"`
}

// Options configures a Service.
type Options struct {
	HistoryDays     int
	DefaultCategory string
	Observer        Observer
	Logger          *zap.Logger
	Now             func() time.Time
}

// Service runs diagnoses. It holds no per-request state.
type Service struct {
	data     providers.Facade
	cache    *cache.Cache
	llm      LLM
	observer Observer
	logger   *zap.Logger

	historyDays     int
	defaultCategory string
	now             func() time.Time
}

func NewService(data providers.Facade, c *cache.Cache, llm LLM, opts Options) *Service {
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = DefaultHistoryDays
	}
	if opts.DefaultCategory == "" {
		opts.DefaultCategory = cache.CategoryDaily
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		data:            data,
		cache:           c,
		llm:             llm,
		observer:        opts.Observer,
		logger:          opts.Logger,
		historyDays:     opts.HistoryDays,
		defaultCategory: opts.DefaultCategory,
		now:             opts.Now,
	}
}

// ValidCategory reports whether category can key a diagnosis.
func ValidCategory(category string) bool {
	switch category {
	case cache.CategoryDaily, cache.CategoryWeekly, cache.CategoryLongTerm:
		return true
	}
	return false
}

type run struct {
	s        *Service
	req      Request
	code     string
	category string
}

func (r *run) emit(state State, err error) {
	if r.s.observer == nil {
		return
	}
	e := Event{
		RequestID: r.req.RequestID,
		Code:      r.code,
		Category:  r.category,
		State:     state,
		At:        r.s.now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.s.observer.Observe(e)
}

func (r *run) fail(err error) (*Result, error) {
	r.emit(StateFailed, err)
	return nil, err
}

// Diagnose 个股诊断
func (s *Service) Diagnose(ctx context.Context, req Request) (*Result, error) {
	r := &run{s: s, req: req, code: market.NormalizeCode(req.Code), category: req.Category}
	if r.category == "" {
		r.category = s.defaultCategory
	}
	log := s.logger.With(zap.String("code", r.code), zap.String("category", r.category))

	if !market.ValidCode(r.code) {
		return r.fail(fmt.Errorf("%w: %q", ErrInvalidCode, req.Code))
	}
	if !ValidCategory(r.category) {
		return r.fail(fmt.Errorf("%w: %q", ErrInvalidCategory, r.category))
	}

	r.emit(StateFetchingBase, nil)
	info, err := s.data.GetBasicInfo(ctx, r.code)
	if err != nil {
		if providers.KindOf(err) == providers.KindNotFound {
			return r.fail(fmt.Errorf("无法获取股票 %s 的信息，请检查股票代码是否正确: %w: %w", r.code, ErrStockNotFound, err))
		}
		return r.fail(fmt.Errorf("数据源暂不可用，请稍后重试: %w: %w", ErrServiceUnavailable, err))
	}
	if quote, err := s.data.GetRealtimeQuote(ctx, r.code); err == nil {
		info.CurrentPrice = market.Float(quote.Price)
		info.ChangePct = market.Float(quote.ChangePct)
	} else {
		log.Info("实时行情获取失败，跳过", zap.Error(err))
	}

	r.emit(StateFetchingHistory, nil)
	bars, err := s.data.GetDailyBars(ctx, r.code, s.historyDays)
	if err != nil || len(bars) == 0 {
		if err == nil {
			err = providers.ErrNoData
		}
		if providers.KindOf(err) == providers.KindNotFound {
			return r.fail(fmt.Errorf("无法获取股票 %s 的历史数据: %w: %w", r.code, ErrNoHistory, err))
		}
		return r.fail(fmt.Errorf("数据源暂不可用，请稍后重试: %w: %w", ErrServiceUnavailable, err))
	}

	r.emit(StateFingerprinting, nil)
	fp := cache.FingerprintBars(bars)

	if !req.ForceRefresh {
		r.emit(StateCacheCheck, nil)
		if raw, ok := s.cache.Get(ctx, r.code, r.category, fp); ok {
			var analysis Analysis
			if err := json.Unmarshal(raw, &analysis); err == nil {
				r.emit(StateCacheHit, nil)
				r.emit(StateDone, nil)
				return &Result{StockInfo: info, Analysis: analysis, Cached: true}, nil
			}
			log.Warn("缓存内容无法解析，重新分析", zap.String("fingerprint", fp))
		}
	}

	r.emit(StateComputingIndicators, nil)
	indicators := market.ComputeIndicators(bars)

	flow, err := s.data.GetFundFlow(ctx, r.code)
	if err != nil {
		flow = nil
		log.Info("资金流向获取失败，跳过", zap.Error(err))
	}

	r.emit(StatePromptingLLM, nil)
	if s.llm == nil || !s.llm.Enabled() {
		return r.fail(fmt.Errorf("未配置可用的LLM后端: %w", ErrServiceUnavailable))
	}
	prompt := BuildPrompt(info, bars, indicators, flow, req.Preference)
	response, err := s.complete(ctx, prompt)
	if err != nil {
		return r.fail(fmt.Errorf("LLM分析失败: %w: %w", ErrServiceUnavailable, err))
	}

	r.emit(StateParsingResponse, nil)
	analysis, degraded := ParseOrDegrade(response)
	if degraded {
		log.Warn("LLM 返回内容无法解析为JSON，使用降级结果", zap.Int("response_len", len(response)))
	}
	analysis["technical_indicators"] = indicators

	r.emit(StateCacheWrite, nil)
	if payload, err := json.Marshal(analysis); err == nil {
		s.cache.Set(context.WithoutCancel(ctx), r.code, r.category, fp, payload, prompt)
	} else {
		log.Error("分析结果序列化失败", zap.Error(err))
	}

	generated := s.now()
	r.emit(StateDone, nil)
	return &Result{StockInfo: info, Analysis: analysis, Cached: false, GeneratedAt: &generated}, nil
}

// complete calls the LLM on a context that ignores caller cancellation and is
// bounded only by the backend timeout.
func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	llmCtx := context.WithoutCancel(ctx)
	if timeout := s.llm.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(llmCtx, timeout)
		defer cancel()
	}
	return s.llm.Complete(llmCtx, prompt, SystemPrompt)
}

// Indicators fetches history and computes the indicator block.
func (s *Service) Indicators(ctx context.Context, code string) (market.TechnicalIndicators, error) {
	code = market.NormalizeCode(code)
	if !market.ValidCode(code) {
		return market.TechnicalIndicators{}, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	bars, err := s.data.GetDailyBars(ctx, code, s.historyDays)
	if err != nil {
		return market.TechnicalIndicators{}, fmt.Errorf("%w: %w", ErrNoHistory, err)
	}
	return market.ComputeIndicators(bars), nil
}

// Invalidate drops cached diagnoses for code; an empty category drops all.
func (s *Service) Invalidate(ctx context.Context, code, category string) error {
	code = market.NormalizeCode(code)
	if !market.ValidCode(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	s.cache.Invalidate(ctx, code, category)
	return nil
}

// CachedEntries lists durable cache rows for code.
func (s *Service) CachedEntries(ctx context.Context, code string) ([]cache.Entry, error) {
	code = market.NormalizeCode(code)
	if !market.ValidCode(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return s.cache.Entries(ctx, code)
}
