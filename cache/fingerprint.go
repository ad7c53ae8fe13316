package cache

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
)

// FingerprintLen 指纹长度(十六进制字符)
const FingerprintLen = 16

// Fingerprint 根据最新一根K线的收盘价、成交量和日期生成数据指纹。
// 相同输入总是得到相同指纹，任一字段变化都会改变指纹。
func Fingerprint(close, volume float64, date string) string {
	raw := formatNumber(close) + ":" + formatNumber(volume) + ":" + date
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}

// FingerprintBars fingerprints the last bar of a series. Empty series yield "".
func FingerprintBars(bars []market.PriceBar) string {
	if len(bars) == 0 {
		return ""
	}
	last := bars[len(bars)-1]
	return Fingerprint(last.Close, last.Volume, last.Date)
}

// formatNumber renders the shortest round-trip digits, "123.0" for integral
// values and exponent form below 1e-4 or from 1e16 on, so fingerprints stay
// comparable with rows already in stock_analysis_cache.
func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	e := strconv.FormatFloat(v, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return e
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
