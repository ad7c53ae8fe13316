package market

import (
	"strings"
	"time"
)

// DateLayout is the trading-date format used across providers and prompts.
const DateLayout = "2006-01-02"

// PriceBar is one daily bar. Sequences are chronological ascending.
type PriceBar struct {
	Date      string  `json:"trade_date"`
	Open      float64 `json:"open"`
	Close     float64 `json:"close"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
	Turnover  float64 `json:"turnover"`
	ChangePct float64 `json:"change_pct"`
}

// StockInfo is assembled per request and never persisted.
type StockInfo struct {
	Code             string   `json:"code"`
	Name             string   `json:"name"`
	Industry         string   `json:"industry"`
	Market           string   `json:"market"`
	TotalValue       float64  `json:"total_value"`
	CirculatingValue float64  `json:"circulating_value"`
	PE               *float64 `json:"pe_ratio"`
	PB               *float64 `json:"pb_ratio"`
	CurrentPrice     *float64 `json:"current_price"`
	ChangePct        *float64 `json:"change_pct"`
}

// Quote sources.
const (
	QuoteSourceLive    = "live"
	QuoteSourceCached  = "cached"
	QuoteSourceDerived = "derived"
)

type Quote struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Price        float64   `json:"current_price"`
	ChangePct    float64   `json:"change_pct"`
	ChangeAmount float64   `json:"change_amount"`
	Volume       float64   `json:"volume"`
	Amount       float64   `json:"amount"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Open         float64   `json:"open"`
	PrevClose    float64   `json:"prev_close"`
	Turnover     float64   `json:"turnover"`
	Amplitude    float64   `json:"amplitude"`
	Source       string    `json:"source"`
	Time         time.Time `json:"time"`
}

type FundFlow struct {
	Date             string  `json:"date"`
	MainNetInflow    float64 `json:"main_net_inflow"`
	MainNetInflowPct float64 `json:"main_net_inflow_pct"`
	RetailNetInflow  float64 `json:"retail_net_inflow"`
}

// NormalizeCode strips an exchange prefix such as "sh600000" or "SZ000001".
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	lower := strings.ToLower(code)
	if strings.HasPrefix(lower, "sh") || strings.HasPrefix(lower, "sz") || strings.HasPrefix(lower, "bj") {
		return code[2:]
	}
	return code
}

// MarketOf derives the listing board from the first digit of a 6-digit code.
func MarketOf(code string) string {
	code = NormalizeCode(code)
	if code == "" {
		return "Unknown"
	}
	switch code[0] {
	case '6':
		return "SH"
	case '0', '3':
		return "SZ"
	case '4', '8':
		return "BJ"
	}
	return "Unknown"
}

// ValidCode reports whether code is a 6-digit A-share code.
func ValidCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Closes extracts closing prices in order.
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Float returns a pointer to v, used for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}
