package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
)

const (
	tencentQuoteBase = "https://qt.gtimg.cn"
	tencentKLineBase = "https://web.ifzq.gtimg.cn"
)

type TencentProvider struct {
	client    *http.Client
	quoteBase string
	klineBase string
}

func NewTencentProvider(timeout time.Duration) *TencentProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TencentProvider{
		client: &http.Client{
			Timeout: timeout,
		},
		quoteBase: tencentQuoteBase,
		klineBase: tencentKLineBase,
	}
}

// WithEndpoints overrides the API hosts.
func (tp *TencentProvider) WithEndpoints(quoteBase, klineBase string) *TencentProvider {
	tp.quoteBase = strings.TrimRight(quoteBase, "/")
	tp.klineBase = strings.TrimRight(klineBase, "/")
	return tp
}

func (tp *TencentProvider) Name() string {
	return "tencent"
}

func (tp *TencentProvider) Priority() int {
	return 1
}

// quoteFields 腾讯行情以 ~ 分隔: 1 名称 3 现价 4 昨收 5 今开 6 成交量(手) 30 时间
// 31 涨跌额 32 涨跌幅 33 最高 34 最低 37 成交额(万) 38 换手率 39 市盈率
// 43 振幅 44 流通市值(亿) 45 总市值(亿) 46 市净率
func (tp *TencentProvider) quoteFields(ctx context.Context, code, op string) ([]string, error) {
	url := fmt.Sprintf("%s/q=%s", tp.quoteBase, sinaSymbol(code))
	body, err := fetch(ctx, tp.client, tp.Name(), op, url, "", true)
	if err != nil {
		return nil, err
	}

	line := string(body)
	start := strings.Index(line, "\"")
	end := strings.LastIndex(line, "\"")
	if start < 0 || end <= start+1 {
		return nil, newError(KindNotFound, tp.Name(), op, ErrNoData)
	}
	parts := strings.Split(line[start+1:end], "~")
	if len(parts) < 47 {
		return nil, newError(KindBadResponse, tp.Name(), op, fmt.Errorf("unexpected field count %d", len(parts)))
	}
	return parts, nil
}

func (tp *TencentProvider) FetchQuote(ctx context.Context, code string) (*market.Quote, error) {
	parts, err := tp.quoteFields(ctx, code, "quote")
	if err != nil {
		return nil, err
	}

	ts, err := time.ParseInLocation("20060102150405", parts[30], time.Local)
	if err != nil {
		ts = time.Now()
	}

	return &market.Quote{
		Code:         code,
		Name:         strings.TrimSpace(parts[1]),
		Price:        parseFloat(parts[3]),
		PrevClose:    parseFloat(parts[4]),
		Open:         parseFloat(parts[5]),
		Volume:       parseFloat(parts[6]) * 100,
		ChangeAmount: parseFloat(parts[31]),
		ChangePct:    parseFloat(parts[32]),
		High:         parseFloat(parts[33]),
		Low:          parseFloat(parts[34]),
		Amount:       parseFloat(parts[37]) * 1e4,
		Turnover:     parseFloat(parts[38]),
		Amplitude:    parseFloat(parts[43]),
		Source:       market.QuoteSourceLive,
		Time:         ts,
	}, nil
}

func (tp *TencentProvider) FetchInfo(ctx context.Context, code string) (*market.StockInfo, error) {
	parts, err := tp.quoteFields(ctx, code, "info")
	if err != nil {
		return nil, err
	}

	info := &market.StockInfo{
		Code:             code,
		Name:             strings.TrimSpace(parts[1]),
		Market:           market.MarketOf(code),
		CirculatingValue: parseFloat(parts[44]) * 1e8,
		TotalValue:       parseFloat(parts[45]) * 1e8,
	}
	if s := strings.TrimSpace(parts[39]); s != "" {
		info.PE = market.Float(parseFloat(s))
	}
	if s := strings.TrimSpace(parts[46]); s != "" {
		info.PB = market.Float(parseFloat(s))
	}
	return info, nil
}

// FetchKLines 前复权日线: [日期, 开, 收, 高, 低, 成交量(手)]
func (tp *TencentProvider) FetchKLines(ctx context.Context, code string, days int) ([]market.PriceBar, error) {
	symbol := sinaSymbol(code)
	url := fmt.Sprintf("%s/appstock/app/fqkline/get?param=%s,day,,,%d,qfq", tp.klineBase, symbol, days)
	body, err := fetch(ctx, tp.client, tp.Name(), "klines", url, "", false)
	if err != nil {
		return nil, err
	}

	node := gjson.GetBytes(body, "data."+symbol)
	rows := node.Get("qfqday")
	if !rows.IsArray() {
		rows = node.Get("day")
	}
	if !rows.IsArray() || len(rows.Array()) == 0 {
		return nil, newError(KindNotFound, tp.Name(), "klines", ErrNoData)
	}

	arr := rows.Array()
	bars := make([]market.PriceBar, 0, len(arr))
	for _, row := range arr {
		f := row.Array()
		if len(f) < 6 {
			continue
		}
		bar := market.PriceBar{
			Date:   f[0].String(),
			Open:   f[1].Float(),
			Close:  f[2].Float(),
			High:   f[3].Float(),
			Low:    f[4].Float(),
			Volume: f[5].Float() * 100,
		}
		if n := len(bars); n > 0 && bars[n-1].Close > 0 {
			bar.ChangePct = (bar.Close - bars[n-1].Close) / bars[n-1].Close * 100
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (tp *TencentProvider) FetchFundFlow(ctx context.Context, code string) (*market.FundFlow, error) {
	return nil, unsupported(tp.Name(), "fund_flow")
}

func (tp *TencentProvider) HealthCheck(ctx context.Context) error {
	_, err := tp.FetchQuote(ctx, "600000")
	return err
}
