package market

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// QualityIssue 清洗过程中发现的问题
type QualityIssue struct {
	Rule    string `json:"rule"`
	Date    string `json:"trade_date"`
	Message string `json:"message"`
}

func (q QualityIssue) String() string {
	return fmt.Sprintf("%s %s: %s", q.Rule, q.Date, q.Message)
}

// CleaningReport 一次清洗的统计
type CleaningReport struct {
	Total     int            `json:"total"`
	Passed    int            `json:"passed"`
	Rejected  int            `json:"rejected"`
	Corrected int            `json:"corrected"`
	Issues    []QualityIssue `json:"issues,omitempty"`
}

// BarRule validates or repairs one bar. prev is the previous accepted bar, or nil.
type BarRule interface {
	Name() string
	Apply(bar *PriceBar, prev *PriceBar) error
}

// DefaultBarRules 默认清洗规则，按顺序执行
func DefaultBarRules() []BarRule {
	return []BarRule{
		dateRule{},
		priceRule{},
		volumeRule{},
	}
}

// CleanBars 去重、按日期升序排列并逐根校验。同一交易日出现多次时保留最后一根。
// 不可修复的K线会被丢弃，缺失的开盘价和高低价按前值补齐。
func CleanBars(bars []PriceBar, rules ...BarRule) ([]PriceBar, CleaningReport) {
	if len(rules) == 0 {
		rules = DefaultBarRules()
	}
	report := CleaningReport{Total: len(bars)}

	byDate := make(map[string]int, len(bars))
	ordered := make([]PriceBar, 0, len(bars))
	for _, b := range bars {
		if i, ok := byDate[b.Date]; ok {
			ordered[i] = b
			report.Rejected++
			report.Issues = append(report.Issues, QualityIssue{Rule: "duplicate", Date: b.Date, Message: "duplicate trade date"})
			continue
		}
		byDate[b.Date] = len(ordered)
		ordered = append(ordered, b)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date < ordered[j].Date })

	cleaned := make([]PriceBar, 0, len(ordered))
	for _, b := range ordered {
		original := b
		var prev *PriceBar
		if n := len(cleaned); n > 0 {
			prev = &cleaned[n-1]
		}

		var rejected bool
		for _, rule := range rules {
			if err := rule.Apply(&b, prev); err != nil {
				report.Issues = append(report.Issues, QualityIssue{Rule: rule.Name(), Date: b.Date, Message: err.Error()})
				rejected = true
				break
			}
		}
		if rejected {
			report.Rejected++
			continue
		}
		if b != original {
			report.Corrected++
		}
		report.Passed++
		cleaned = append(cleaned, b)
	}
	return cleaned, report
}

type dateRule struct{}

func (dateRule) Name() string { return "date_validation" }

func (dateRule) Apply(bar *PriceBar, _ *PriceBar) error {
	if _, err := time.Parse(DateLayout, bar.Date); err != nil {
		return fmt.Errorf("invalid trade date %q", bar.Date)
	}
	return nil
}

// priceRule 收盘价必须为正；开盘价缺失时取前收盘，高低价包住开收盘
type priceRule struct{}

func (priceRule) Name() string { return "price_validation" }

func (priceRule) Apply(bar *PriceBar, prev *PriceBar) error {
	if bar.Close <= 0 || math.IsNaN(bar.Close) || math.IsInf(bar.Close, 0) {
		return fmt.Errorf("close price %.2f is not positive", bar.Close)
	}
	if bar.High > 0 && bar.Low > 0 && bar.High < bar.Low {
		return fmt.Errorf("high price %.2f less than low price %.2f", bar.High, bar.Low)
	}

	if bar.Open <= 0 {
		bar.Open = bar.Close
		if prev != nil {
			bar.Open = prev.Close
		}
	}
	if hi := math.Max(bar.Open, bar.Close); bar.High < hi {
		bar.High = hi
	}
	if lo := math.Min(bar.Open, bar.Close); bar.Low <= 0 || bar.Low > lo {
		bar.Low = lo
	}
	return nil
}

type volumeRule struct{}

func (volumeRule) Name() string { return "volume_validation" }

func (volumeRule) Apply(bar *PriceBar, _ *PriceBar) error {
	if bar.Volume < 0 {
		return fmt.Errorf("volume %.0f is negative", bar.Volume)
	}
	if bar.Amount < 0 {
		return fmt.Errorf("amount %.2f is negative", bar.Amount)
	}
	return nil
}
