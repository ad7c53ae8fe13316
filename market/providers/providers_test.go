package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
)

func TestEastmoneyProvider(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/qt/stock/get", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1.600000", r.URL.Query().Get("secid"))
		fmt.Fprint(w, `{"rc":0,"data":{"f43":7.52,"f44":7.6,"f45":7.4,"f46":7.45,"f47":312345,"f48":234567890.0,
			"f57":"600000","f58":"浦发银行","f60":7.48,"f116":220000000000,"f117":210000000000,"f127":"银行",
			"f162":"-","f167":0.41,"f168":0.11,"f169":0.04,"f170":0.53,"f171":2.67}}`)
	})
	mux.HandleFunc("/api/qt/stock/kline/get", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "60", r.URL.Query().Get("lmt"))
		fmt.Fprint(w, `{"data":{"code":"600000","klines":[
			"2024-03-05,7.40,7.48,7.50,7.38,250000,187000000.00,1.61,0.40,0.03,0.09",
			"2024-03-06,7.45,7.52,7.60,7.40,312345,234567890.00,2.67,0.53,0.04,0.11"]}}`)
	})
	mux.HandleFunc("/api/qt/stock/fflow/daykline/get", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"klines":[
			"2024-03-05,-1000.0,600.0,200.0,-300.0,-700.0,-1.2,0.7,0.2,-0.3,-0.8,7.48,0.40,0.00,0.00",
			"2024-03-06,2500000.0,-1500000.0,-1000000.0,1000000.0,1500000.0,3.25,-1.9,-1.3,1.3,1.9,7.52,0.53,0.00,0.00"]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ep := NewEastmoneyProvider(time.Second).WithEndpoints(srv.URL, srv.URL)
	ctx := context.Background()

	info, err := ep.FetchInfo(ctx, "600000")
	require.NoError(t, err)
	assert.Equal(t, "浦发银行", info.Name)
	assert.Equal(t, "银行", info.Industry)
	assert.Equal(t, "SH", info.Market)
	assert.Nil(t, info.PE, "\"-\" means no value")
	require.NotNil(t, info.PB)
	assert.Equal(t, 0.41, *info.PB)

	q, err := ep.FetchQuote(ctx, "600000")
	require.NoError(t, err)
	assert.Equal(t, 7.52, q.Price)
	assert.Equal(t, 0.53, q.ChangePct)
	assert.Equal(t, 7.48, q.PrevClose)
	assert.Equal(t, market.QuoteSourceLive, q.Source)

	bars, err := ep.FetchKLines(ctx, "600000", 60)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-03-06", bars[1].Date)
	assert.Equal(t, 7.52, bars[1].Close)
	assert.Equal(t, 312345.0, bars[1].Volume)
	assert.Equal(t, 0.53, bars[1].ChangePct)
	assert.Equal(t, 0.11, bars[1].Turnover)

	flow, err := ep.FetchFundFlow(ctx, "600000")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-06", flow.Date)
	assert.Equal(t, 2500000.0, flow.MainNetInflow)
	assert.Equal(t, -1500000.0, flow.RetailNetInflow)
	assert.Equal(t, 3.25, flow.MainNetInflowPct)
}

func TestEastmoneyUnknownCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rc":0,"data":null}`)
	}))
	defer srv.Close()

	ep := NewEastmoneyProvider(time.Second).WithEndpoints(srv.URL, srv.URL)
	_, err := ep.FetchInfo(context.Background(), "699999")
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = ep.FetchKLines(context.Background(), "699999", 60)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestEastmoneyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ep := NewEastmoneyProvider(time.Second).WithEndpoints(srv.URL, srv.URL)
	_, err := ep.FetchQuote(context.Background(), "000001")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindTransient, pe.Kind)
	assert.Equal(t, "eastmoney", pe.Provider)
}

func TestSinaQuoteGBK(t *testing.T) {
	name, err := simplifiedchinese.GBK.NewEncoder().String("平安银行")
	require.NoError(t, err)

	fields := make([]string, 33)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = name
	fields[1], fields[2], fields[3], fields[4], fields[5] = "10.10", "10.00", "10.50", "10.60", "9.90"
	fields[8], fields[9] = "1234500", "12950000.00"
	fields[30], fields[31] = "2024-03-06", "15:00:03"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list=sz000001", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Referer"))
		fmt.Fprintf(w, "var hq_str_sz000001=\"%s\";\n", strings.Join(fields, ","))
	}))
	defer srv.Close()

	sp := NewSinaProvider(time.Second).WithEndpoints(srv.URL, srv.URL)
	q, err := sp.FetchQuote(context.Background(), "000001")
	require.NoError(t, err)
	assert.Equal(t, "平安银行", q.Name)
	assert.Equal(t, 10.5, q.Price)
	assert.InDelta(t, 5.0, q.ChangePct, 1e-9)
	assert.InDelta(t, 7.0, q.Amplitude, 1e-9)
	assert.Equal(t, 2024, q.Time.Year())

	_, err = sp.FetchFundFlow(context.Background(), "000001")
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestSinaKLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"day":"2024-03-05","open":"10.00","high":"10.20","low":"9.90","close":"10.00","volume":"100"},
			{"day":"2024-03-06","open":"10.00","high":"10.60","low":"9.90","close":"10.50","volume":"200"}]`)
	}))
	defer srv.Close()

	sp := NewSinaProvider(time.Second).WithEndpoints(srv.URL, srv.URL)
	bars, err := sp.FetchKLines(context.Background(), "000001", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, 5.0, bars[1].ChangePct, 1e-9)
}

func TestTencentKLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"sh600519":{"qfqday":[
			["2024-03-05","1700.00","1710.00","1720.00","1690.00","25000.000"],
			["2024-03-06","1710.00","1728.55","1730.00","1705.00","30000.000"]]}}}`)
	}))
	defer srv.Close()

	tp := NewTencentProvider(time.Second).WithEndpoints(srv.URL, srv.URL)
	bars, err := tp.FetchKLines(context.Background(), "600519", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1728.55, bars[1].Close)
	assert.Equal(t, 3000000.0, bars[1].Volume)
}

func TestMockProviderDeterministic(t *testing.T) {
	mp := NewMockProvider()
	mp.SetAnchor(time.Date(2024, 3, 9, 0, 0, 0, 0, time.Local)) // Saturday
	ctx := context.Background()

	a, err := mp.FetchKLines(ctx, "600519", 60)
	require.NoError(t, err)
	b, err := mp.FetchKLines(ctx, "600519", 5)
	require.NoError(t, err)

	require.Len(t, a, 60)
	assert.Equal(t, "2024-03-08", a[59].Date, "weekend anchors fall back to Friday")
	assert.Equal(t, a[55:], b)

	q, err := mp.FetchQuote(ctx, "600519")
	require.NoError(t, err)
	assert.Equal(t, a[59].Close, q.Price)

	mp.MarkMissing("600519")
	_, err = mp.FetchInfo(ctx, "600519")
	assert.ErrorIs(t, err, ErrNoData)
}

// stubProvider is a scripted DataProvider.
type stubProvider struct {
	name     string
	priority int

	mu        sync.Mutex
	quoteErrs []error
	quote     *market.Quote
	bars      []market.PriceBar
	barsErr   error
	calls     map[string]int
}

func newStub(name string, priority int) *stubProvider {
	return &stubProvider{name: name, priority: priority, calls: make(map[string]int)}
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Priority() int { return s.priority }

func (s *stubProvider) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *stubProvider) FetchInfo(ctx context.Context, code string) (*market.StockInfo, error) {
	s.mu.Lock()
	s.calls["info"]++
	s.mu.Unlock()
	return &market.StockInfo{Code: code, Name: s.name}, nil
}

func (s *stubProvider) FetchQuote(ctx context.Context, code string) (*market.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["quote"]++
	if len(s.quoteErrs) > 0 {
		err := s.quoteErrs[0]
		s.quoteErrs = s.quoteErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if s.quote == nil {
		return nil, newError(KindNotFound, s.name, "quote", ErrNoData)
	}
	q := *s.quote
	return &q, nil
}

func (s *stubProvider) FetchKLines(ctx context.Context, code string, days int) ([]market.PriceBar, error) {
	s.mu.Lock()
	s.calls["klines"]++
	s.mu.Unlock()
	return s.bars, s.barsErr
}

func (s *stubProvider) FetchFundFlow(ctx context.Context, code string) (*market.FundFlow, error) {
	return nil, unsupported(s.name, "fund_flow")
}

func (s *stubProvider) HealthCheck(ctx context.Context) error { return nil }

var errBoom = errors.New("connection reset")

func testManager() *ProviderManager {
	return NewProviderManager(ManagerOptions{QuoteRetryDelay: time.Millisecond})
}

func TestManagerFailover(t *testing.T) {
	primary := newStub("primary", 2)
	primary.barsErr = newError(KindTransient, "primary", "klines", errBoom)
	backup := newStub("backup", 1)
	backup.bars = []market.PriceBar{{Date: "2024-03-05", Close: 1}, {Date: "2024-03-06", Close: 2}}

	pm := testManager()
	pm.AddProvider(backup)
	pm.AddProvider(primary)
	assert.Equal(t, "primary", pm.GetPrimaryProvider())

	bars, err := pm.GetDailyBars(context.Background(), "sh600000", 1)
	require.NoError(t, err)
	require.Len(t, bars, 1, "trimmed to the requested window")
	assert.Equal(t, "2024-03-06", bars[0].Date)

	require.NoError(t, pm.SetPrimaryProvider("backup"))
	info, err := pm.GetBasicInfo(context.Background(), "600000")
	require.NoError(t, err)
	assert.Equal(t, "backup", info.Name)
	assert.Equal(t, "SH", info.Market)

	assert.Equal(t, KindProviderNotFound, KindOf(pm.SetPrimaryProvider("nope")))
}

func TestManagerErrorsAreTyped(t *testing.T) {
	empty := newStub("empty", 1)
	pm := testManager()
	pm.AddProvider(empty)

	_, err := pm.GetDailyBars(context.Background(), "600000", 60)
	assert.ErrorIs(t, err, ErrNoData)

	broken := newStub("broken", 2)
	broken.barsErr = newError(KindTransient, "broken", "klines", errBoom)
	pm.AddProvider(broken)

	_, err = pm.GetDailyBars(context.Background(), "600000", 60)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindAllFailed, pe.Kind)
	assert.ErrorIs(t, err, errBoom)

	_, err = pm.GetFundFlow(context.Background(), "600000")
	assert.ErrorIs(t, err, ErrNoData, "unsupported everywhere reads as no data")
}

func TestRealtimeQuoteTier(t *testing.T) {
	p := newStub("live", 1)
	p.quote = &market.Quote{Code: "600000", Price: 7.5, Source: market.QuoteSourceLive}
	pm := testManager()
	pm.AddProvider(p)
	ctx := context.Background()

	q, err := pm.GetRealtimeQuote(ctx, "600000")
	require.NoError(t, err)
	assert.Equal(t, market.QuoteSourceLive, q.Source)

	q, err = pm.GetRealtimeQuote(ctx, "600000")
	require.NoError(t, err)
	assert.Equal(t, market.QuoteSourceCached, q.Source)
	assert.Equal(t, 7.5, q.Price)
	assert.Equal(t, 1, p.count("quote"))
	assert.EqualValues(t, 1, pm.QuoteStats().FastHits)
}

func TestRealtimeQuoteRetriesOnce(t *testing.T) {
	p := newStub("flaky", 1)
	p.quoteErrs = []error{newError(KindTransient, "flaky", "quote", errBoom)}
	p.quote = &market.Quote{Code: "600000", Price: 7.5}
	pm := testManager()
	pm.AddProvider(p)

	q, err := pm.GetRealtimeQuote(context.Background(), "600000")
	require.NoError(t, err)
	assert.Equal(t, 7.5, q.Price)
	assert.Equal(t, 2, p.count("quote"))
}

func TestRealtimeQuoteDerivedFromBars(t *testing.T) {
	p := newStub("down", 1)
	transient := newError(KindTransient, "down", "quote", errBoom)
	p.quoteErrs = []error{transient, transient}
	p.bars = []market.PriceBar{
		{Date: "2024-03-05", Close: 10},
		{Date: "2024-03-06", Open: 10, Close: 10.5, High: 10.6, Low: 9.9, ChangePct: 5},
	}
	pm := testManager()
	pm.AddProvider(p)

	q, err := pm.GetRealtimeQuote(context.Background(), "600000")
	require.NoError(t, err)
	assert.Equal(t, market.QuoteSourceDerived, q.Source)
	assert.Equal(t, 10.5, q.Price)
	assert.Equal(t, 10.0, q.PrevClose)
	assert.InDelta(t, 0.5, q.ChangeAmount, 1e-9)
	assert.Equal(t, 2, p.count("quote"))
}

func TestRealtimeQuoteRetryHonoursContext(t *testing.T) {
	p := newStub("down", 1)
	p.quoteErrs = []error{newError(KindTransient, "down", "quote", errBoom)}
	pm := NewProviderManager(ManagerOptions{QuoteRetryDelay: time.Hour})
	pm.AddProvider(p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := pm.GetRealtimeQuote(ctx, "600000")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDailyBarsAreCleaned(t *testing.T) {
	p := newStub("dirty", 1)
	p.bars = []market.PriceBar{
		{Date: "2024-03-06", Open: 10, Close: 10.5, High: 10.6, Low: 9.9},
		{Date: "2024-03-05", Open: 9.8, Close: 10, High: 10.1, Low: 9.7},
		{Date: "2024-03-07", Close: 0},
	}
	pm := testManager()
	pm.AddProvider(p)

	bars, err := pm.GetDailyBars(context.Background(), "600000", 60)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-03-05", bars[0].Date)
	assert.Equal(t, "2024-03-06", bars[1].Date)

	p.bars = []market.PriceBar{{Date: "bad", Close: 1}}
	_, err = pm.GetDailyBars(context.Background(), "600000", 60)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestBasicInfoIndustryFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "industry.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":[{"symbol":"600000","industry":"银行"}]}`), 0o644))
	industry, err := market.LoadIndustryMap(path)
	require.NoError(t, err)

	pm := NewProviderManager(ManagerOptions{Industry: industry})
	pm.AddProvider(newStub("plain", 1))

	info, err := pm.GetBasicInfo(context.Background(), "sh600000")
	require.NoError(t, err)
	assert.Equal(t, "银行", info.Industry)
}
