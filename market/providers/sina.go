package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
)

const (
	sinaQuoteBase = "https://hq.sinajs.cn"
	sinaKLineBase = "https://money.finance.sina.com.cn"
	sinaReferer   = "https://finance.sina.com.cn"
)

type SinaProvider struct {
	client    *http.Client
	quoteBase string
	klineBase string
}

func NewSinaProvider(timeout time.Duration) *SinaProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SinaProvider{
		client: &http.Client{
			Timeout: timeout,
		},
		quoteBase: sinaQuoteBase,
		klineBase: sinaKLineBase,
	}
}

// WithEndpoints overrides the API hosts.
func (sp *SinaProvider) WithEndpoints(quoteBase, klineBase string) *SinaProvider {
	sp.quoteBase = strings.TrimRight(quoteBase, "/")
	sp.klineBase = strings.TrimRight(klineBase, "/")
	return sp
}

func (sp *SinaProvider) Name() string {
	return "sina"
}

func (sp *SinaProvider) Priority() int {
	return 2
}

// FetchQuote 新浪行情接口返回 GBK 编码的 JS 变量
func (sp *SinaProvider) FetchQuote(ctx context.Context, code string) (*market.Quote, error) {
	url := fmt.Sprintf("%s/list=%s", sp.quoteBase, sinaSymbol(code))
	body, err := fetch(ctx, sp.client, sp.Name(), "quote", url, sinaReferer, true)
	if err != nil {
		return nil, err
	}
	return parseSinaQuote(code, string(body))
}

func parseSinaQuote(code, line string) (*market.Quote, error) {
	parts := strings.Split(line, "\"")
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return nil, newError(KindNotFound, "sina", "quote", ErrNoData)
	}

	data := strings.Split(parts[1], ",")
	if len(data) < 32 {
		return nil, newError(KindBadResponse, "sina", "quote", fmt.Errorf("unexpected field count %d", len(data)))
	}

	open := parseFloat(data[1])
	prevClose := parseFloat(data[2])
	price := parseFloat(data[3])
	high := parseFloat(data[4])
	low := parseFloat(data[5])
	volume := parseFloat(data[8])
	amount := parseFloat(data[9])
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", data[30]+" "+data[31], time.Local)
	if err != nil {
		ts = time.Now()
	}

	change := price - prevClose
	changePct, amplitude := 0.0, 0.0
	if prevClose > 0 {
		changePct = change / prevClose * 100
		amplitude = (high - low) / prevClose * 100
	}

	return &market.Quote{
		Code:         code,
		Name:         strings.TrimSpace(data[0]),
		Price:        price,
		ChangePct:    changePct,
		ChangeAmount: change,
		Volume:       volume,
		Amount:       amount,
		High:         high,
		Low:          low,
		Open:         open,
		PrevClose:    prevClose,
		Amplitude:    amplitude,
		Source:       market.QuoteSourceLive,
		Time:         ts,
	}, nil
}

// FetchInfo only knows the name; valuation fields stay empty.
func (sp *SinaProvider) FetchInfo(ctx context.Context, code string) (*market.StockInfo, error) {
	q, err := sp.FetchQuote(ctx, code)
	if err != nil {
		return nil, err
	}
	return &market.StockInfo{
		Code:   code,
		Name:   q.Name,
		Market: market.MarketOf(code),
	}, nil
}

type sinaKLine struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// FetchKLines 日K线 (scale=240)
func (sp *SinaProvider) FetchKLines(ctx context.Context, code string, days int) ([]market.PriceBar, error) {
	url := fmt.Sprintf("%s/quotes_service/api/json_v2.php/CN_MarketData.getKLineData?symbol=%s&scale=240&ma=no&datalen=%d",
		sp.klineBase, sinaSymbol(code), days)
	body, err := fetch(ctx, sp.client, sp.Name(), "klines", url, sinaReferer, false)
	if err != nil {
		return nil, err
	}

	var rows []sinaKLine
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, newError(KindBadResponse, sp.Name(), "klines", err)
	}
	if len(rows) == 0 {
		return nil, newError(KindNotFound, sp.Name(), "klines", ErrNoData)
	}

	bars := make([]market.PriceBar, len(rows))
	for i, d := range rows {
		closePrice, _ := strconv.ParseFloat(d.Close, 64)
		bars[i] = market.PriceBar{
			Date:   d.Day,
			Open:   parseFloat(d.Open),
			High:   parseFloat(d.High),
			Low:    parseFloat(d.Low),
			Close:  closePrice,
			Volume: parseFloat(d.Volume),
		}
		if len(d.Day) > 10 {
			bars[i].Date = d.Day[:10]
		}
		if i > 0 && bars[i-1].Close > 0 {
			bars[i].ChangePct = (closePrice - bars[i-1].Close) / bars[i-1].Close * 100
		}
	}
	return bars, nil
}

func (sp *SinaProvider) FetchFundFlow(ctx context.Context, code string) (*market.FundFlow, error) {
	return nil, unsupported(sp.Name(), "fund_flow")
}

func (sp *SinaProvider) HealthCheck(ctx context.Context) error {
	_, err := sp.FetchQuote(ctx, "600000")
	return err
}

func sinaSymbol(code string) string {
	code = market.NormalizeCode(code)
	return strings.ToLower(market.MarketOf(code)) + code
}
