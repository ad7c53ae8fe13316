package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
)

const (
	eastmoneyQuoteBase   = "https://push2.eastmoney.com"
	eastmoneyHistoryBase = "https://push2his.eastmoney.com"
	eastmoneyReferer     = "https://quote.eastmoney.com/"
)

// 个股快照字段: f43 最新价 f44 最高 f45 最低 f46 今开 f47 成交量 f48 成交额
// f57 代码 f58 名称 f60 昨收 f116 总市值 f117 流通市值 f127 行业
// f162 市盈率(动态) f167 市净率 f168 换手率 f169 涨跌额 f170 涨跌幅 f171 振幅
const eastmoneySnapshotFields = "f43,f44,f45,f46,f47,f48,f57,f58,f60,f116,f117,f127,f162,f167,f168,f169,f170,f171"

type EastmoneyProvider struct {
	client      *http.Client
	quoteBase   string
	historyBase string
}

func NewEastmoneyProvider(timeout time.Duration) *EastmoneyProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EastmoneyProvider{
		client: &http.Client{
			Timeout: timeout,
		},
		quoteBase:   eastmoneyQuoteBase,
		historyBase: eastmoneyHistoryBase,
	}
}

// WithEndpoints overrides the API hosts.
func (ep *EastmoneyProvider) WithEndpoints(quoteBase, historyBase string) *EastmoneyProvider {
	ep.quoteBase = strings.TrimRight(quoteBase, "/")
	ep.historyBase = strings.TrimRight(historyBase, "/")
	return ep
}

func (ep *EastmoneyProvider) Name() string {
	return "eastmoney"
}

func (ep *EastmoneyProvider) Priority() int {
	return 3
}

func (ep *EastmoneyProvider) snapshot(ctx context.Context, code, op string) (gjson.Result, error) {
	url := fmt.Sprintf("%s/api/qt/stock/get?secid=%s&fltt=2&invt=2&fields=%s",
		ep.quoteBase, eastmoneySecID(code), eastmoneySnapshotFields)
	body, err := fetch(ctx, ep.client, ep.Name(), op, url, eastmoneyReferer, false)
	if err != nil {
		return gjson.Result{}, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null || !data.Get("f58").Exists() {
		return gjson.Result{}, newError(KindNotFound, ep.Name(), op, ErrNoData)
	}
	return data, nil
}

func (ep *EastmoneyProvider) FetchInfo(ctx context.Context, code string) (*market.StockInfo, error) {
	data, err := ep.snapshot(ctx, code, "info")
	if err != nil {
		return nil, err
	}

	return &market.StockInfo{
		Code:             code,
		Name:             strings.TrimSpace(data.Get("f58").String()),
		Industry:         strings.TrimSpace(data.Get("f127").String()),
		Market:           market.MarketOf(code),
		TotalValue:       data.Get("f116").Float(),
		CirculatingValue: data.Get("f117").Float(),
		PE:               optionalNumber(data.Get("f162")),
		PB:               optionalNumber(data.Get("f167")),
	}, nil
}

func (ep *EastmoneyProvider) FetchQuote(ctx context.Context, code string) (*market.Quote, error) {
	data, err := ep.snapshot(ctx, code, "quote")
	if err != nil {
		return nil, err
	}

	price := data.Get("f43")
	if price.Type != gjson.Number {
		// 停牌时最新价为 "-"
		return nil, newError(KindNotFound, ep.Name(), "quote", ErrNoData)
	}

	return &market.Quote{
		Code:         code,
		Name:         strings.TrimSpace(data.Get("f58").String()),
		Price:        price.Float(),
		ChangePct:    data.Get("f170").Float(),
		ChangeAmount: data.Get("f169").Float(),
		Volume:       data.Get("f47").Float(),
		Amount:       data.Get("f48").Float(),
		High:         data.Get("f44").Float(),
		Low:          data.Get("f45").Float(),
		Open:         data.Get("f46").Float(),
		PrevClose:    data.Get("f60").Float(),
		Turnover:     data.Get("f168").Float(),
		Amplitude:    data.Get("f171").Float(),
		Source:       market.QuoteSourceLive,
		Time:         time.Now(),
	}, nil
}

// FetchKLines 前复权日K线，按日期升序
func (ep *EastmoneyProvider) FetchKLines(ctx context.Context, code string, days int) ([]market.PriceBar, error) {
	url := fmt.Sprintf("%s/api/qt/stock/kline/get?secid=%s&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61&klt=101&fqt=1&end=20500101&lmt=%d",
		ep.historyBase, eastmoneySecID(code), days)
	body, err := fetch(ctx, ep.client, ep.Name(), "klines", url, eastmoneyReferer, false)
	if err != nil {
		return nil, err
	}
	return parseEastmoneyKLines(body)
}

// parseEastmoneyKLines parses "date,open,close,high,low,volume,amount,amplitude,pct,chg,turnover" rows.
func parseEastmoneyKLines(body []byte) ([]market.PriceBar, error) {
	klines := gjson.GetBytes(body, "data.klines")
	if !klines.Exists() || !klines.IsArray() {
		return nil, newError(KindNotFound, "eastmoney", "klines", ErrNoData)
	}

	arr := klines.Array()
	bars := make([]market.PriceBar, 0, len(arr))
	for _, v := range arr {
		parts := strings.Split(strings.TrimSpace(v.String()), ",")
		if len(parts) < 6 {
			continue
		}
		bar := market.PriceBar{
			Date:   parts[0],
			Open:   parseFloat(parts[1]),
			Close:  parseFloat(parts[2]),
			High:   parseFloat(parts[3]),
			Low:    parseFloat(parts[4]),
			Volume: parseFloat(parts[5]),
		}
		if len(parts) >= 11 {
			bar.Amount = parseFloat(parts[6])
			bar.ChangePct = parseFloat(parts[8])
			bar.Turnover = parseFloat(parts[10])
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, newError(KindNotFound, "eastmoney", "klines", ErrNoData)
	}
	return bars, nil
}

// FetchFundFlow 最近一个交易日的个股资金流向
func (ep *EastmoneyProvider) FetchFundFlow(ctx context.Context, code string) (*market.FundFlow, error) {
	url := fmt.Sprintf("%s/api/qt/stock/fflow/daykline/get?secid=%s&lmt=0&klt=101&fields1=f1,f2,f3,f7&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61,f62,f63,f64,f65",
		ep.historyBase, eastmoneySecID(code))
	body, err := fetch(ctx, ep.client, ep.Name(), "fund_flow", url, eastmoneyReferer, false)
	if err != nil {
		return nil, err
	}
	return parseEastmoneyFundFlow(body)
}

// parseEastmoneyFundFlow reads the last row: f51 日期 f52 主力净额 f53 小单净额 ... f57 主力净占比
func parseEastmoneyFundFlow(body []byte) (*market.FundFlow, error) {
	klines := gjson.GetBytes(body, "data.klines")
	if !klines.IsArray() || len(klines.Array()) == 0 {
		return nil, newError(KindNotFound, "eastmoney", "fund_flow", ErrNoData)
	}
	arr := klines.Array()
	parts := strings.Split(arr[len(arr)-1].String(), ",")
	if len(parts) < 7 {
		return nil, newError(KindBadResponse, "eastmoney", "fund_flow", fmt.Errorf("short row %q", arr[len(arr)-1].String()))
	}
	return &market.FundFlow{
		Date:             parts[0],
		MainNetInflow:    parseFloat(parts[1]),
		RetailNetInflow:  parseFloat(parts[2]),
		MainNetInflowPct: parseFloat(parts[6]),
	}, nil
}

func (ep *EastmoneyProvider) HealthCheck(ctx context.Context) error {
	_, err := ep.FetchQuote(ctx, "600000")
	return err
}

// eastmoneySecID 上海 1.600000，深圳/北京 0.000001
func eastmoneySecID(code string) string {
	code = market.NormalizeCode(code)
	if market.MarketOf(code) == "SH" {
		return "1." + code
	}
	return "0." + code
}

func optionalNumber(v gjson.Result) *float64 {
	if v.Type != gjson.Number {
		return nil
	}
	return market.Float(v.Float())
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
