package market

import "math"

// Default indicator windows.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
	KDJPeriod  = 9
	KDJM1      = 3
	KDJM2      = 3
	RSIPeriod  = 14
)

// MACD crossover classifications.
const (
	SignalBullishCross = "bullish cross"
	SignalBearishCross = "bearish cross"
	SignalBullish      = "bullish"
	SignalBearish      = "bearish"
	SignalNeutral      = "neutral"
	SignalOverbought   = "overbought"
	SignalOversold     = "oversold"
)

// MACDIndicator is the MACD block of TechnicalIndicators.
type MACDIndicator struct {
	Value      *float64 `json:"value"`
	Signal     *float64 `json:"signal_line"`
	Histogram  *float64 `json:"histogram"`
	SignalText string   `json:"signal"`
}

// KDJIndicator is the KDJ block of TechnicalIndicators.
type KDJIndicator struct {
	K          *float64 `json:"k"`
	D          *float64 `json:"d"`
	J          *float64 `json:"j"`
	SignalText string   `json:"signal"`
}

// TechnicalIndicators is recomputed on every cache miss. A nil field means
// the series was too short for that indicator.
type TechnicalIndicators struct {
	MA5  *float64      `json:"ma5"`
	MA10 *float64      `json:"ma10"`
	MA20 *float64      `json:"ma20"`
	MACD MACDIndicator `json:"macd"`
	KDJ  KDJIndicator  `json:"kdj"`
	RSI  *float64      `json:"rsi"`
}

// MACDSeries holds the per-point MACD line, signal line and histogram.
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// CalculateMA calculates the simple moving average of the last period closes.
func CalculateMA(closes []float64, period int) (float64, bool) {
	if len(closes) < period || period <= 0 {
		return 0, false
	}
	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(period), true
}

// CalculateEMA returns the EMA series seeded with the first value (no SMA
// seed, no adjustment).
func CalculateEMA(data []float64, period int) []float64 {
	ema := make([]float64, len(data))
	if len(data) == 0 {
		return ema
	}

	k := 2.0 / float64(period+1)
	ema[0] = data[0]
	for i := 1; i < len(data); i++ {
		ema[i] = ema[i-1] + (data[i]-ema[i-1])*k
	}
	return ema
}

// CalculateMACD calculates the MACD line, signal line and histogram series.
// It reports false when the series is shorter than slow+signal.
func CalculateMACD(closes []float64, fast, slow, signal int) (MACDSeries, bool) {
	if len(closes) < slow+signal {
		return MACDSeries{}, false
	}

	emaFast := CalculateEMA(closes, fast)
	emaSlow := CalculateEMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}

	signalLine := CalculateEMA(line, signal)
	hist := make([]float64, len(line))
	for i := range line {
		hist[i] = line[i] - signalLine[i]
	}

	return MACDSeries{Line: line, Signal: signalLine, Histogram: hist}, true
}

// ClassifyMACD classifies the last two histogram values.
func ClassifyMACD(hist []float64) string {
	if len(hist) < 2 {
		return SignalNeutral
	}
	prev, last := hist[len(hist)-2], hist[len(hist)-1]
	switch {
	case prev < 0 && last > 0:
		return SignalBullishCross
	case prev > 0 && last < 0:
		return SignalBearishCross
	case last > 0:
		return SignalBullish
	case last < 0:
		return SignalBearish
	}
	return SignalNeutral
}

// CalculateKDJ calculates the latest K, D and J values. RSV defaults to 50
// where the rolling window is incomplete or the high-low range is zero.
func CalculateKDJ(highs, lows, closes []float64, n, m1, m2 int) (k, d, j float64, ok bool) {
	size := len(closes)
	if size < n || len(highs) != size || len(lows) != size || n <= 0 {
		return 0, 0, 0, false
	}

	rsv := make([]float64, size)
	for i := range closes {
		rsv[i] = 50
		if i < n-1 {
			continue
		}
		lowest, highest := lows[i], highs[i]
		for w := i - n + 1; w <= i; w++ {
			lowest = math.Min(lowest, lows[w])
			highest = math.Max(highest, highs[w])
		}
		if span := highest - lowest; span != 0 {
			rsv[i] = (closes[i] - lowest) / span * 100
		}
	}

	kSeries := ewm(rsv, float64(m1-1))
	dSeries := ewm(kSeries, float64(m2-1))

	k = kSeries[size-1]
	d = dSeries[size-1]
	return k, d, 3*k - 2*d, true
}

// ewm is a non-adjusted exponentially weighted mean with the given center of mass.
func ewm(data []float64, com float64) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}
	alpha := 1 / (1 + com)
	out[0] = data[0]
	for i := 1; i < len(data); i++ {
		out[i] = (1-alpha)*out[i-1] + alpha*data[i]
	}
	return out
}

// CalculateRSI calculates the Relative Strength Index over the trailing period diffs
func CalculateRSI(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 || period <= 0 {
		return 0, false
	}

	gains := 0.0
	losses := 0.0

	for i := len(closes) - period; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// ComputeIndicators builds the indicator block for a bar series.
func ComputeIndicators(bars []PriceBar) TechnicalIndicators {
	closes := Closes(bars)
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}

	var ti TechnicalIndicators
	if v, ok := CalculateMA(closes, 5); ok {
		ti.MA5 = rounded(v, 2)
	}
	if v, ok := CalculateMA(closes, 10); ok {
		ti.MA10 = rounded(v, 2)
	}
	if v, ok := CalculateMA(closes, 20); ok {
		ti.MA20 = rounded(v, 2)
	}

	ti.MACD.SignalText = SignalNeutral
	if s, ok := CalculateMACD(closes, MACDFast, MACDSlow, MACDSignal); ok {
		last := len(s.Line) - 1
		ti.MACD.Value = rounded(s.Line[last], 4)
		ti.MACD.Signal = rounded(s.Signal[last], 4)
		ti.MACD.Histogram = rounded(s.Histogram[last], 4)
		ti.MACD.SignalText = ClassifyMACD(s.Histogram)
	}

	ti.KDJ.SignalText = SignalNeutral
	if k, d, j, ok := CalculateKDJ(highs, lows, closes, KDJPeriod, KDJM1, KDJM2); ok {
		ti.KDJ.K = rounded(k, 2)
		ti.KDJ.D = rounded(d, 2)
		ti.KDJ.J = rounded(j, 2)
		switch {
		case k > 80:
			ti.KDJ.SignalText = SignalOverbought
		case k < 20:
			ti.KDJ.SignalText = SignalOversold
		}
	}

	if v, ok := CalculateRSI(closes, RSIPeriod); ok {
		ti.RSI = rounded(v, 2)
	}
	return ti
}

func rounded(v float64, places int) *float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	return &r
}
