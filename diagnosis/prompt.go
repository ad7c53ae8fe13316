package diagnosis

import (
	"fmt"
	"strings"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/market"
)

// SystemPrompt 系统提示词
const SystemPrompt = `你是一名资深的A股投资分析师，擅长结合技术面、资金面和基本面给出客观、可执行的分析。
你的回答必须是合法的JSON，不要输出JSON以外的任何内容。`

// NoPreference 用户未填写偏好时的指令
const NoPreference = "无特殊偏好，请自主分析并给出完整策略建议"

// promptBars 提示词中列出的最近K线数量
const promptBars = 5

const analysisTemplate = `请对股票 %s（%s）进行个股诊断。

%s
## 用户偏好
%s

请分别给出短线（日线级别）、中线（周线级别）和长线的判断，仅返回如下格式的JSON：
{
  "summary": "综合分析，100字以内",
  "daily": {"trend": "看涨|看跌|震荡", "suggestion": "操作建议", "confidence": 0.0到1.0, "reason": "理由"},
  "weekly": {"trend": "看涨|看跌|震荡", "suggestion": "操作建议", "confidence": 0.0到1.0, "reason": "理由"},
  "longterm": {"trend": "看涨|看跌|震荡", "suggestion": "操作建议", "confidence": 0.0到1.0, "reason": "理由"},
  "risk_warning": "主要风险提示"
}
`

// BuildPrompt 拼接诊断提示词: 基本信息、最近5日走势、技术指标、资金流向(可选)和用户偏好
func BuildPrompt(info *market.StockInfo, bars []market.PriceBar, ti market.TechnicalIndicators, flow *market.FundFlow, preference string) string {
	var sb strings.Builder

	sb.WriteString("## 股票基本信息\n")
	fmt.Fprintf(&sb, "- 股票名称: %s\n", orNA(info.Name))
	fmt.Fprintf(&sb, "- 股票代码: %s\n", info.Code)
	fmt.Fprintf(&sb, "- 所属行业: %s\n", orNA(info.Industry))
	fmt.Fprintf(&sb, "- 市盈率: %s\n", num(info.PE, 2))
	fmt.Fprintf(&sb, "- 市净率: %s\n", num(info.PB, 2))
	fmt.Fprintf(&sb, "- 当前价格: %s\n", num(info.CurrentPrice, 2))
	fmt.Fprintf(&sb, "- 涨跌幅: %s%%\n", num(info.ChangePct, 2))

	sb.WriteString("\n## 近期走势（最近5日）\n")
	recent := bars
	if len(recent) > promptBars {
		recent = recent[len(recent)-promptBars:]
	}
	for _, b := range recent {
		fmt.Fprintf(&sb, "- %s: 开%.2f 收%.2f 高%.2f 低%.2f 涨跌%.2f%%\n",
			b.Date, b.Open, b.Close, b.High, b.Low, b.ChangePct)
	}

	sb.WriteString("\n## 技术指标\n")
	fmt.Fprintf(&sb, "- MA5: %s\n", num(ti.MA5, 2))
	fmt.Fprintf(&sb, "- MA10: %s\n", num(ti.MA10, 2))
	fmt.Fprintf(&sb, "- MA20: %s\n", num(ti.MA20, 2))
	fmt.Fprintf(&sb, "- MACD: %s (DIF=%s, DEA=%s, 柱=%s)\n",
		ti.MACD.SignalText, num(ti.MACD.Value, 4), num(ti.MACD.Signal, 4), num(ti.MACD.Histogram, 4))
	fmt.Fprintf(&sb, "- KDJ: K=%s, D=%s, J=%s (%s)\n",
		num(ti.KDJ.K, 2), num(ti.KDJ.D, 2), num(ti.KDJ.J, 2), ti.KDJ.SignalText)
	fmt.Fprintf(&sb, "- RSI: %s\n", num(ti.RSI, 2))

	if flow != nil {
		sb.WriteString("\n## 资金流向\n")
		fmt.Fprintf(&sb, "- 日期: %s\n", flow.Date)
		fmt.Fprintf(&sb, "- 主力净流入: %.2f\n", flow.MainNetInflow)
		fmt.Fprintf(&sb, "- 主力净流入占比: %.2f%%\n", flow.MainNetInflowPct)
		fmt.Fprintf(&sb, "- 散户净流入: %.2f\n", flow.RetailNetInflow)
	}

	pref := strings.TrimSpace(preference)
	if pref == "" {
		pref = NoPreference
	}
	return fmt.Sprintf(analysisTemplate, orNA(info.Name), info.Code, sb.String(), pref)
}

func num(v *float64, places int) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.*f", places, *v)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
