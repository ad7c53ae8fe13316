package providers

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
)

// MockProvider 离线数据源。同一代码、同一锚定日总是生成相同的数据。
type MockProvider struct {
	mu      sync.RWMutex
	anchor  time.Time
	missing map[string]bool
	down    map[string]bool
	calls   map[string]int
}

func NewMockProvider() *MockProvider {
	now := time.Now()
	return &MockProvider{
		anchor:  time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local),
		missing: make(map[string]bool),
		down:    make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// SetAnchor fixes the date of the latest generated bar.
func (mp *MockProvider) SetAnchor(t time.Time) {
	mp.mu.Lock()
	mp.anchor = t
	mp.mu.Unlock()
}

// MarkMissing makes every fetch for code report ErrNoData.
func (mp *MockProvider) MarkMissing(code string) {
	mp.mu.Lock()
	mp.missing[code] = true
	mp.mu.Unlock()
}

// MarkDown makes every fetch for code fail as a transient outage.
func (mp *MockProvider) MarkDown(code string) {
	mp.mu.Lock()
	mp.down[code] = true
	mp.mu.Unlock()
}

// Calls reports how many times op was invoked.
func (mp *MockProvider) Calls(op string) int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.calls[op]
}

func (mp *MockProvider) Name() string {
	return "mock"
}

func (mp *MockProvider) Priority() int {
	return 0
}

func (mp *MockProvider) begin(code, op string) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.calls[op]++
	if mp.down[code] {
		return newError(KindTransient, mp.Name(), op, errors.New("connection refused"))
	}
	if mp.missing[code] || !market.ValidCode(code) {
		return newError(KindNotFound, mp.Name(), op, ErrNoData)
	}
	return nil
}

func (mp *MockProvider) FetchInfo(ctx context.Context, code string) (*market.StockInfo, error) {
	if err := mp.begin(code, "info"); err != nil {
		return nil, err
	}

	base := basePrice(code)
	shares := 1e9 * (1 + float64(seed(code)%50))
	return &market.StockInfo{
		Code:             code,
		Name:             mockStockName(code),
		Industry:         "模拟行业",
		Market:           market.MarketOf(code),
		TotalValue:       base * shares,
		CirculatingValue: base * shares * 0.8,
		PE:               market.Float(5 + float64(seed(code)%4000)/100),
		PB:               market.Float(0.5 + float64(seed(code)%500)/100),
	}, nil
}

func (mp *MockProvider) FetchQuote(ctx context.Context, code string) (*market.Quote, error) {
	if err := mp.begin(code, "quote"); err != nil {
		return nil, err
	}

	bars := mp.generate(code, 2)
	last, prev := bars[1], bars[0]
	change := last.Close - prev.Close
	return &market.Quote{
		Code:         code,
		Name:         mockStockName(code),
		Price:        last.Close,
		ChangePct:    change / prev.Close * 100,
		ChangeAmount: change,
		Volume:       last.Volume,
		Amount:       last.Amount,
		High:         last.High,
		Low:          last.Low,
		Open:         last.Open,
		PrevClose:    prev.Close,
		Turnover:     last.Turnover,
		Amplitude:    (last.High - last.Low) / prev.Close * 100,
		Source:       market.QuoteSourceLive,
		Time:         time.Now(),
	}, nil
}

func (mp *MockProvider) FetchKLines(ctx context.Context, code string, days int) ([]market.PriceBar, error) {
	if err := mp.begin(code, "klines"); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, newError(KindNotFound, mp.Name(), "klines", ErrNoData)
	}
	return mp.generate(code, days), nil
}

func (mp *MockProvider) FetchFundFlow(ctx context.Context, code string) (*market.FundFlow, error) {
	if err := mp.begin(code, "fund_flow"); err != nil {
		return nil, err
	}

	bars := mp.generate(code, 1)
	r := rand.New(rand.NewSource(int64(seed(code))))
	main := (r.Float64() - 0.5) * bars[0].Amount * 0.2
	return &market.FundFlow{
		Date:             bars[0].Date,
		MainNetInflow:    math.Round(main),
		MainNetInflowPct: math.Round(main/bars[0].Amount*10000) / 100,
		RetailNetInflow:  math.Round(-main * 0.6),
	}, nil
}

func (mp *MockProvider) HealthCheck(ctx context.Context) error {
	return nil
}

// generate 以锚定日为最后一个交易日，向前生成 n 根工作日K线。
// 每根K线只由代码和日期决定，与 n 无关。
func (mp *MockProvider) generate(code string, n int) []market.PriceBar {
	mp.mu.RLock()
	anchor := mp.anchor
	mp.mu.RUnlock()

	dates := make([]time.Time, n+1)
	d := anchor
	for i := n; i >= 0; i-- {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, -1)
		}
		dates[i] = d
		d = d.AddDate(0, 0, -1)
	}

	base := basePrice(code)
	phase := float64(seed(code) % 100)
	prevClose := 0.0
	bars := make([]market.PriceBar, 0, n)
	for i, day := range dates {
		dayNum := day.Unix() / 86400
		r := rand.New(rand.NewSource(int64(seed(code)) ^ dayNum))
		level := base * (1 + 0.15*math.Sin(float64(dayNum)/9+phase))

		open := level * (1 + (r.Float64()-0.5)*0.02)
		closePrice := level * (1 + (r.Float64()-0.5)*0.02)
		high := math.Max(open, closePrice) * (1 + r.Float64()*0.02)
		low := math.Min(open, closePrice) * (1 - r.Float64()*0.02)
		volume := math.Round(1e6 + r.Float64()*9e6)
		turnover := r.Float64() * 5

		if i > 0 {
			bars = append(bars, market.PriceBar{
				Date:      day.Format(market.DateLayout),
				Open:      round2(open),
				Close:     round2(closePrice),
				High:      round2(high),
				Low:       round2(low),
				Volume:    volume,
				Amount:    math.Round(volume * closePrice),
				Turnover:  round2(turnover),
				ChangePct: round2((round2(closePrice) - prevClose) / prevClose * 100),
			})
		}
		prevClose = round2(closePrice)
	}
	return bars
}

func seed(code string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(code))
	return h.Sum32()
}

func basePrice(code string) float64 {
	if p, ok := mockBasePrices[code]; ok {
		return p
	}
	return 10 + float64(seed(code)%9000)/100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var mockBasePrices = map[string]float64{
	"600000": 7.50,
	"601398": 5.20,
	"600519": 1800.00,
	"600036": 32.00,
	"000858": 150.00,
	"601318": 45.00,
	"000001": 12.50,
	"600030": 20.00,
	"000333": 65.00,
	"300750": 180.00,
	"000651": 35.00,
	"002594": 250.00,
	"300059": 15.00,
	"002415": 32.00,
	"600900": 24.00,
}

func mockStockName(code string) string {
	names := map[string]string{
		"600000": "浦发银行",
		"601398": "工商银行",
		"600519": "贵州茅台",
		"600036": "招商银行",
		"000858": "五粮液",
		"601318": "中国平安",
		"000001": "平安银行",
		"600030": "中信证券",
		"000333": "美的集团",
		"300750": "宁德时代",
		"000651": "格力电器",
		"002594": "比亚迪",
		"300059": "东方财富",
		"002415": "海康威视",
		"600900": "长江电力",
	}

	if name, exists := names[code]; exists {
		return name
	}
	return "模拟股票"
}
