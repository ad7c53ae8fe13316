package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/cache"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/diagnosis"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/llm"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market/providers"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/monitoring"
)

const (
	defaultDays = 60
	maxDays     = 250
)

// LLMStatus reports backend health for /api/health.
type LLMStatus interface {
	Name() string
	Status(ctx context.Context) []llm.BackendStatus
}

// ProviderStatus reports data source health and quote-tier counters.
type ProviderStatus interface {
	GetProvidersStatus() map[string]bool
	GetPrimaryProvider() string
	QuoteStats() cache.Stats
}

// Deps 处理器依赖，LLM/Providers/Hub/Metrics 可为 nil
type Deps struct {
	Diagnosis *diagnosis.Service
	Data      providers.Facade
	Cache     *cache.Cache
	LLM       LLMStatus
	Providers ProviderStatus
	Hub       *Hub
	Metrics   *monitoring.DiagnosisMetrics
	Logger    *zap.Logger
}

type handlers struct {
	Deps
}

// RegisterHandlers 注册全部 API 路由
func RegisterHandlers(mux *http.ServeMux, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{Deps: deps}

	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /api/analysis/diagnose", h.handleDiagnose)
	mux.HandleFunc("GET /api/analysis/cache/{code}", h.handleGetCache)
	mux.HandleFunc("DELETE /api/analysis/cache/{code}", h.handleClearCache)
	mux.HandleFunc("GET /api/cache/stats", h.handleCacheStats)
	mux.HandleFunc("GET /api/stock/{code}", h.handleStockInfo)
	mux.HandleFunc("GET /api/stock/{code}/daily", h.handleDaily)
	mux.HandleFunc("GET /api/stock/{code}/technical", h.handleTechnical)
	mux.HandleFunc("GET /api/stock/{code}/fund-flow", h.handleFundFlow)
	if deps.Metrics != nil {
		mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	}
	if deps.Hub != nil {
		mux.Handle("GET /api/ws/diagnosis", deps.Hub)
	}
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	data := map[string]any{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	if h.LLM != nil {
		data["llm_backend"] = h.LLM.Name()
		data["llm"] = h.LLM.Status(ctx)
	}
	if h.Providers != nil {
		data["providers"] = h.Providers.GetProvidersStatus()
		data["primary_provider"] = h.Providers.GetPrimaryProvider()
	}
	respondJSON(w, data)
}

type diagnoseRequest struct {
	Code         string `json:"code"`
	Preference   string `json:"strategy_preference"`
	ForceRefresh bool   `json:"force_refresh"`
	Category     string `json:"category"`
}

func (h *handlers) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req diagnoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "请求体不能为空")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		respondError(w, http.StatusBadRequest, "股票代码不能为空")
		return
	}

	result, err := h.Diagnosis.Diagnose(r.Context(), diagnosis.Request{
		Code:         code,
		Preference:   req.Preference,
		ForceRefresh: req.ForceRefresh,
		Category:     strings.ToLower(strings.TrimSpace(req.Category)),
		RequestID:    GetRequestID(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "诊断失败", err)
		return
	}
	respondJSON(w, result)
}

// cacheView is the wire form of a durable cache row.
type cacheView struct {
	Code        string          `json:"code"`
	Category    string          `json:"analysis_type"`
	Fingerprint string          `json:"data_hash"`
	Result      json.RawMessage `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expire_at"`
	Expired     bool            `json:"expired"`
}

func (h *handlers) handleGetCache(w http.ResponseWriter, r *http.Request) {
	code := market.NormalizeCode(r.PathValue("code"))
	entries, err := h.Diagnosis.CachedEntries(r.Context(), code)
	if err != nil {
		h.fail(w, r, "获取缓存失败", err)
		return
	}
	if len(entries) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("未找到股票 %s 的缓存", code))
		return
	}

	now := time.Now()
	views := make([]cacheView, 0, len(entries))
	for _, e := range entries {
		v := cacheView{
			Code:        e.Code,
			Category:    e.Category,
			Fingerprint: e.Fingerprint,
			CreatedAt:   e.CreatedAt,
			ExpiresAt:   e.ExpiresAt,
			Expired:     !now.Before(e.ExpiresAt),
		}
		if json.Valid(e.Result) {
			v.Result = e.Result
		}
		views = append(views, v)
	}
	respondJSON(w, map[string]any{"code": code, "caches": views})
}

func (h *handlers) handleClearCache(w http.ResponseWriter, r *http.Request) {
	code := market.NormalizeCode(r.PathValue("code"))
	category := r.URL.Query().Get("category")
	if category != "" && !diagnosis.ValidCategory(category) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("无效的分析类型: %s", category))
		return
	}
	if err := h.Diagnosis.Invalidate(r.Context(), code, category); err != nil {
		h.fail(w, r, "清除缓存失败", err)
		return
	}
	respond(w, http.StatusOK, fmt.Sprintf("已清除股票 %s 的缓存", code), nil)
}

func (h *handlers) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"diagnosis": h.Cache.Stats()}
	if h.Providers != nil {
		data["quote"] = h.Providers.QuoteStats()
	}
	if h.Hub != nil {
		data["ws_clients"] = h.Hub.Clients()
		data["ws_dropped_events"] = h.Hub.Dropped()
	}
	respondJSON(w, data)
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.Metrics.Snapshot())
}

func (h *handlers) handleStockInfo(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(w, r)
	if !ok {
		return
	}
	info, err := h.Data.GetBasicInfo(r.Context(), code)
	if err != nil {
		if providers.KindOf(err) == providers.KindNotFound {
			respondError(w, http.StatusNotFound, fmt.Sprintf("未找到股票 %s", code))
			return
		}
		h.fail(w, r, "获取股票信息失败", err)
		return
	}

	data := map[string]any{"info": info}
	if quote, err := h.Data.GetRealtimeQuote(r.Context(), code); err == nil {
		info.CurrentPrice = market.Float(quote.Price)
		info.ChangePct = market.Float(quote.ChangePct)
		data["quote"] = quote
	}
	respondJSON(w, data)
}

func (h *handlers) handleDaily(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(w, r)
	if !ok {
		return
	}
	days := parseDays(r.URL.Query().Get("days"))

	bars, err := h.Data.GetDailyBars(r.Context(), code, days)
	if err != nil || len(bars) == 0 {
		if err == nil || providers.KindOf(err) == providers.KindNotFound {
			respondError(w, http.StatusNotFound, fmt.Sprintf("未找到股票 %s 的日线数据", code))
			return
		}
		h.fail(w, r, "获取日线数据失败", err)
		return
	}
	respondJSON(w, map[string]any{"code": code, "days": len(bars), "daily": bars})
}

func (h *handlers) handleTechnical(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(w, r)
	if !ok {
		return
	}
	indicators, err := h.Diagnosis.Indicators(r.Context(), code)
	if err != nil {
		if providers.KindOf(err) == providers.KindNotFound {
			respondError(w, http.StatusNotFound, fmt.Sprintf("无法计算股票 %s 的技术指标", code))
			return
		}
		h.fail(w, r, "获取技术指标失败", err)
		return
	}
	respondJSON(w, map[string]any{"code": code, "indicators": indicators})
}

func (h *handlers) handleFundFlow(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(w, r)
	if !ok {
		return
	}
	flow, err := h.Data.GetFundFlow(r.Context(), code)
	if err != nil {
		if errors.Is(err, providers.ErrNoData) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("无法获取股票 %s 的资金流向", code))
			return
		}
		h.fail(w, r, "获取资金流向失败", err)
		return
	}
	respondJSON(w, map[string]any{"code": code, "fund_flow": flow})
}

// fail 记录错误并按错误类别返回
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error(action, fields...)
	} else {
		h.Logger.Info(action, fields...)
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = action + ": " + message
	}
	respondError(w, status, message)
}

func pathCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := market.NormalizeCode(r.PathValue("code"))
	if !market.ValidCode(code) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("无效的股票代码: %s", r.PathValue("code")))
		return "", false
	}
	return code, true
}

// parseDays 解析 days 参数并限制在 1-250
func parseDays(s string) int {
	days, err := strconv.Atoi(s)
	if err != nil {
		return defaultDays
	}
	return min(max(days, 1), maxDays)
}
